// Package apierror defines the structured error value that crosses
// component boundaries and the §6 response shape the HTTP layer renders it
// into: {error, detail, path, request_id?}.
package apierror

import "net/http"

// Error is a structured API-facing error carrying a short machine-readable
// code alongside a human message.
type Error struct {
	Code      string `json:"error"`
	Detail    string `json:"detail"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Status    int    `json:"-"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Detail }

func New(status int, code, detail string) *Error {
	return &Error{Code: code, Detail: detail, Status: status}
}

func BadRequest(detail string) *Error  { return New(http.StatusBadRequest, "validation_error", detail) }
func Unauthorized(detail string) *Error {
	return New(http.StatusUnauthorized, "authentication_error", detail)
}
func NotFound(detail string) *Error { return New(http.StatusNotFound, "not_found", detail) }
func RateLimited(detail string) *Error {
	return New(http.StatusTooManyRequests, "rate_limited", detail)
}
func Internal(detail string) *Error { return New(http.StatusInternalServerError, "internal_error", detail) }
func Unavailable(detail string) *Error {
	return New(http.StatusServiceUnavailable, "collaborator_unavailable", detail)
}
