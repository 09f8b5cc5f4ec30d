package handler

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"testing/iotest"

	"github.com/labstack/echo/v4"
)

// chunkRecorder records the size of every Write.
type chunkRecorder struct {
	*httptest.ResponseRecorder
	writes  []int
	flushes int
}

func (r *chunkRecorder) Write(p []byte) (int, error) {
	r.writes = append(r.writes, len(p))
	return r.ResponseRecorder.Write(p)
}

func (r *chunkRecorder) Flush() {
	r.flushes++
	r.ResponseRecorder.Flush()
}

func TestStreamChunks_FixedSizeChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 2*chunkSize+100)
	rec := &chunkRecorder{ResponseRecorder: httptest.NewRecorder()}
	w := echo.NewResponse(rec, echo.New())

	// OneByteReader makes short reads; chunks must still be full-sized.
	n, err := streamChunks(w, iotest.OneByteReader(bytes.NewReader(payload)))
	if err != nil {
		t.Fatalf("streamChunks() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("written = %d, want %d", n, len(payload))
	}

	want := []int{chunkSize, chunkSize, 100}
	if len(rec.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", rec.writes, want)
	}
	for i := range want {
		if rec.writes[i] != want[i] {
			t.Errorf("write[%d] = %d, want %d", i, rec.writes[i], want[i])
		}
	}
	if rec.flushes != len(want) {
		t.Errorf("flushes = %d, want %d", rec.flushes, len(want))
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("streamed body differs from payload")
	}
}

func TestStreamChunks_Empty(t *testing.T) {
	rec := &chunkRecorder{ResponseRecorder: httptest.NewRecorder()}
	w := echo.NewResponse(rec, echo.New())

	n, err := streamChunks(w, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("streamChunks() error = %v", err)
	}
	if n != 0 || len(rec.writes) != 0 {
		t.Errorf("written = %d with %d writes, want nothing", n, len(rec.writes))
	}
}

func TestStreamChunks_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	src := io.MultiReader(bytes.NewReader(make([]byte, chunkSize)), iotest.ErrReader(boom))

	rec := &chunkRecorder{ResponseRecorder: httptest.NewRecorder()}
	w := echo.NewResponse(rec, echo.New())

	n, err := streamChunks(w, src)
	if !errors.Is(err, boom) {
		t.Fatalf("streamChunks() error = %v, want %v", err, boom)
	}
	if n != chunkSize {
		t.Errorf("written = %d, want %d", n, chunkSize)
	}
}
