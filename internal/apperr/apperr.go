// Package apperr is the error taxonomy shared by services and HTTP handlers. Services
// return *Error values (or wrap them); handlers call Respond to translate them into a
// status code and a JSON body of the form {"error": "...", "code": "...", "fields": {...}}.
package apperr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an error for the HTTP boundary
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnverified       Kind = "unverified"
	KindInvalidOrExpired Kind = "invalid_or_expired"
	KindPaymentRequired  Kind = "insufficient_tokens"
	KindUnavailable      Kind = "service_unavailable"
	KindInternal         Kind = "internal"
)

// Status returns the HTTP status code for the kind
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidOrExpired:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindUnverified:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string
	// Code overrides Kind in the response body when a more specific code exists
	// (e.g. "invalid_credentials" for an Unauthorized login failure).
	Code   string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCode returns a copy of e carrying a specific response code
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// Validation creates a 400 error carrying per-field messages
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Internal wraps an unexpected failure. The message shown to clients stays generic.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// Convenience constructors
var (
	ErrUnauthorized = New(KindUnauthorized, "authentication required")
	ErrForbidden    = New(KindForbidden, "insufficient permissions")
	ErrNotFound     = New(KindNotFound, "not found")
)

// KindOf returns the Kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Respond writes err as a JSON error response and aborts the gin context. Internal
// errors are logged with their full chain; clients only see a generic message.
func Respond(c *gin.Context, err error) {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = Internal(err)
	}

	if ae.Kind == KindInternal {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"),
			"error", err)
	}

	code := string(ae.Kind)
	if ae.Code != "" {
		code = ae.Code
	}
	body := gin.H{"error": ae.Message, "code": code}
	if len(ae.Fields) > 0 {
		body["fields"] = ae.Fields
	}
	c.AbortWithStatusJSON(ae.Kind.Status(), body)
}
