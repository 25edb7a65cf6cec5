// Package apperr classifies failures into the kinds the HTTP layer knows how
// to render, and carries field-level validation detail.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is the class of a failure.
type Kind int

const (
	KindFramework Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConfiguration
	KindDatabase
	KindMethodNotAllowed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	case KindDatabase:
		return "database"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "framework"
	}
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified failure. Message is what the client sees as "error",
// Detail is optional extra text (usually the underlying driver message).
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	Fields     []FieldError
	Constraint bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return e.Message + ": " + e.Detail
	case len(e.Fields) > 0:
		return fmt.Sprintf("%s: %d field error(s)", e.Message, len(e.Fields))
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindDatabase:
		if e.Constraint {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Authentication(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func MethodNotAllowed(method, table string) *Error {
	return &Error{
		Kind:    KindMethodNotAllowed,
		Message: "Method not allowed",
		Detail:  fmt.Sprintf("%s is not enabled for %s", method, table),
	}
}

// Configuration wraps err as a configuration failure. The message of err is
// kept verbatim since it is usually the path-qualified text users act on.
func Configuration(err error) *Error {
	return &Error{Kind: KindConfiguration, Message: "Configuration error", Detail: err.Error(), Err: err}
}

// Database wraps a driver failure. Constraint violations are the client's
// fault and render as 400, everything else as 500.
func Database(err error, constraint bool) *Error {
	msg := "Database connection error"
	if constraint {
		msg = "Database constraint violation"
	}
	return &Error{Kind: KindDatabase, Message: msg, Detail: errors.Cause(err).Error(), Constraint: constraint, Err: err}
}

func Framework(err error) *Error {
	return &Error{Kind: KindFramework, Message: "Internal server error", Detail: err.Error(), Err: err}
}

// From returns the classified error in err's chain, or wraps err as a
// framework failure.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Framework(err)
}

// KindOf reports the kind of err; unclassified errors are framework errors.
func KindOf(err error) Kind {
	return From(err).Kind
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
