package errorbank

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error for the HTTP and gRPC surfaces.
type Kind string

const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

type codePair struct {
	http int
	grpc codes.Code
}

var kindCodes = map[Kind]codePair{
	KindBadRequest:   {http.StatusBadRequest, codes.InvalidArgument},
	KindUnauthorized: {http.StatusUnauthorized, codes.Unauthenticated},
	KindForbidden:    {http.StatusForbidden, codes.PermissionDenied},
	KindNotFound:     {http.StatusNotFound, codes.NotFound},
	KindInternal:     {http.StatusInternalServerError, codes.Internal},
}

func (k Kind) codes() codePair {
	if p, ok := kindCodes[k]; ok {
		return p
	}
	return kindCodes[KindInternal]
}

// AppError is an error with a user-facing message. The message is safe to
// show on a dashboard; the cause is only logged.
type AppError struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// Option configures an AppError.
type Option func(*AppError)

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *AppError) { e.cause = err }
}

// WithDetail attaches one key to the error's details.
func WithDetail(key string, value any) Option {
	return func(e *AppError) {
		if e.details == nil {
			e.details = map[string]any{}
		}
		e.details[key] = value
	}
}

func newError(kind Kind, message string, opts []Option) *AppError {
	if message == "" {
		message = string(kind)
	}
	e := &AppError{kind: kind, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	default:
		return e.message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind is KindInternal for a nil error.
func (e *AppError) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

func (e *AppError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *AppError) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// StatusCode is the HTTP status for the error's kind.
func (e *AppError) StatusCode() int { return e.Kind().codes().http }

// GRPCCode is the gRPC code for the error's kind.
func (e *AppError) GRPCCode() codes.Code { return e.Kind().codes().grpc }

// BadRequest rejects invalid input.
func BadRequest(message string, opts ...Option) *AppError {
	return newError(KindBadRequest, message, opts)
}

// Unauthorized reports a missing or expired session.
func Unauthorized(message string, opts ...Option) *AppError {
	return newError(KindUnauthorized, message, opts)
}

// Forbidden reports a role that may not use the resource.
func Forbidden(message string, opts ...Option) *AppError {
	return newError(KindForbidden, message, opts)
}

func NotFound(message string, opts ...Option) *AppError {
	return newError(KindNotFound, message, opts)
}

func Internal(message string, opts ...Option) *AppError {
	return newError(KindInternal, message, opts)
}

// IsKind reports whether any AppError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *AppError
	return errors.As(err, &e) && e.kind == kind
}

// From finds the AppError in err's chain. Anything else becomes an internal
// error that keeps err as its cause.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var e *AppError
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", WithCause(err))
}

// GRPCStatus converts err for a gRPC response.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	e := From(err)
	return status.Error(e.GRPCCode(), e.Message())
}
