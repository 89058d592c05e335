package spotify

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
)

// Errors
var (
	ErrAuthExpired        = errors.New("spotify credential expired")
	ErrCatalogUnavailable = errors.New("spotify catalog unavailable")
)

// StatusCode returns the HTTP status carried by a Spotify API error, or 0 if none.
func StatusCode(err error) int {
	var value spotify.Error
	if errors.As(err, &value) {
		return value.Status
	}
	var ptr *spotify.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Status
	}
	return 0
}

// IsRetryable reports whether err is a rate limit or server error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if status := StatusCode(err); status != 0 {
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}
	// Errors that lost their status still carry it in the message
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// classify wraps err and marks it with ErrAuthExpired or ErrCatalogUnavailable.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)

	status := StatusCode(err)
	switch {
	case status == http.StatusUnauthorized:
		return errors.Mark(wrapped, ErrAuthExpired)
	case status == 0, IsRetryable(err):
		return errors.Mark(wrapped, ErrCatalogUnavailable)
	default:
		return wrapped
	}
}
