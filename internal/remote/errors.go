package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/batchupload/internal/core"
)

// ErrNotFound is matched by APIErrors with status 404.
var ErrNotFound = errors.New("resource not found")

// APIError is a non-success response from the platform.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 512 {
			body = body[:512] + "..."
		}
		msg += ": " + body
	}
	return msg
}

func (e *APIError) Code() core.Code { return core.CodeRemoteFailed }

// HTTPStatus lets core.MapError tell credential and throttling failures apart.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError wraps a failure to reach the platform at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Code() core.Code { return core.CodeRemoteFailed }
