package handler

import (
	"errors"
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"podcast-feed-proxy/internal/model"
)

// chunkSize is the size of each write when streaming an upstream body.
const chunkSize = 1024

// writeResult sends res to the client. Buffered bodies are written at once;
// streams are copied in chunkSize pieces, flushing after each one.
func writeResult(c echo.Context, logger *slog.Logger, res *model.ProxyResult) error {
	if res.Stream == nil {
		return c.Blob(res.StatusCode, res.ContentType, res.Body)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, res.ContentType)
	w.WriteHeader(res.StatusCode)

	// Once the status line is out, a failed copy can only truncate the
	// response. The error is logged and the handler returns normally.
	if _, err := streamChunks(w, res.Stream); err != nil {
		logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

// streamChunks copies src to w in chunkSize pieces. Every chunk except the
// last is exactly chunkSize bytes.
func streamChunks(w *echo.Response, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			w.Flush()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
