package remote

import (
	"fmt"
	"net/url"
)

// NetworkError covers every transport-level failure: DNS, connect, timeout,
// rate limiter cancellation, and non-2xx responses.
type NetworkError struct {
	Endpoint   Endpoint
	URL        string
	StatusCode int // 0 when no response was received
	Cause      error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned status %d", e.Endpoint, redact(e.URL), e.StatusCode)
	}
	return fmt.Sprintf("%s: request to %s failed: %v", e.Endpoint, redact(e.URL), redactCause(e.Cause))
}

// redactCause rewrites the URL carried by a *url.Error, which net/http
// embeds verbatim in its message.
func redactCause(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		return &url.Error{Op: urlErr.Op, URL: redact(urlErr.URL), Err: urlErr.Err}
	}
	return err
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// DecodeError indicates a response arrived but could not be turned into the
// minimum shape the caller needs.
type DecodeError struct {
	Endpoint Endpoint
	Cause    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decoding response: %v", e.Endpoint, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }
