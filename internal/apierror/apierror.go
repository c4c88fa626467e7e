// Package apierror provides standardized error response structures for the API
// and the typed domain errors services return. Handlers translate the latter
// into HTTP statuses through StatusOf so internal details never leak.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string         `json:"detail"`
	Code   string         `json:"code,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// FieldsError wraps multiple request field errors.
type FieldsError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *FieldsError {
	return &FieldsError{Detail: "validation failed", Fields: fields}
}

// ── Domain errors ────────────────────────────────────────────────────────────

// DomainError carries a caller-facing detail plus optional structured meta
// (for example shortfall counts) so a client can retry correctly.
type DomainError struct {
	Detail string
	Code   string
	Meta   map[string]any
	Err    error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *DomainError) Unwrap() error { return e.Err }

// ValidationError: missing ids, case not fully generated, wrong order for a scan.
type ValidationError struct{ DomainError }

// ConflictError: claim lost, code linked elsewhere, insufficient buffers,
// manual scan history.
type ConflictError struct{ DomainError }

// NotFoundError: unknown job, code or session.
type NotFoundError struct{ DomainError }

// AuthorizationError: organization mismatch.
type AuthorizationError struct{ DomainError }

func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{DomainError{Detail: fmt.Sprintf(format, args...)}}
}

func Conflict(code, format string, args ...any) *ConflictError {
	return &ConflictError{DomainError{Detail: fmt.Sprintf(format, args...), Code: code}}
}

func NotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{DomainError{Detail: fmt.Sprintf(format, args...)}}
}

func Authorization(format string, args ...any) *AuthorizationError {
	return &AuthorizationError{DomainError{Detail: fmt.Sprintf(format, args...)}}
}

// WithMeta attaches structured detail and returns the same error.
func (e *ConflictError) WithMeta(meta map[string]any) *ConflictError {
	e.Meta = meta
	return e
}

func (e *ValidationError) WithMeta(meta map[string]any) *ValidationError {
	e.Meta = meta
	return e
}

// StatusOf maps an error chain to the HTTP status and envelope the API returns.
// Anything that is not a domain error is reported as an opaque 500.
func StatusOf(err error) (int, *APIError) {
	var (
		ve *ValidationError
		ce *ConflictError
		ne *NotFoundError
		ae *AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, envelope(&ve.DomainError)
	case errors.As(err, &ce):
		return http.StatusConflict, envelope(&ce.DomainError)
	case errors.As(err, &ne):
		return http.StatusNotFound, envelope(&ne.DomainError)
	case errors.As(err, &ae):
		return http.StatusForbidden, envelope(&ae.DomainError)
	default:
		return http.StatusInternalServerError, New("internal server error")
	}
}

// IsConflict reports whether err is a ConflictError, optionally with the given code.
func IsConflict(err error, code string) bool {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return code == "" || ce.Code == code
}

func envelope(e *DomainError) *APIError {
	return &APIError{Detail: e.Detail, Code: e.Code, Meta: e.Meta}
}
