package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a token is configured and the request
	// did not supply it. No upstream call has been made.
	ErrUnauthorized = errors.New("token missing or invalid")

	// ErrForbidden is returned when a relay URL fails the allow-list.
	// No upstream call has been made.
	ErrForbidden = errors.New("url is not eligible for relay")

	// ErrFeedTooLarge is returned when a feed exceeds feed.max_bytes.
	ErrFeedTooLarge = errors.New("feed exceeds the configured size limit")
)

// UpstreamError reports a failed upstream call: either a transport error
// (Err set) or an unexpected status (StatusCode set).
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
