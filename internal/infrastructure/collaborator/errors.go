// Package collaborator provides HTTP clients for the AI prescription and
// document export services.
package collaborator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

const maxErrorBody = 4 << 10

// StatusError is a failed collaborator exchange. StatusCode is zero when no
// response was received.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return suggestion.ErrTransportFailure }

// AsStatusError extracts a StatusError from err
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}

// CountsAsSuccess keeps client-side rejections from tripping a breaker
func CountsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	se, ok := AsStatusError(err)
	return ok && se.StatusCode >= 400 && se.StatusCode < 500
}

// statusErrorFrom builds a StatusError from a non-2xx response, keeping the
// upstream message verbatim when the body carries one
func statusErrorFrom(service string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(body, resp.Status),
	}
}

func errorMessage(body []byte, fallback string) string {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := envelope[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}
