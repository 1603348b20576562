package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindDuplicateKey      Kind = "DuplicateKeyError"
	KindNotFound          Kind = "NotFoundError"
	KindAuthorization     Kind = "AuthorizationError"
	KindRetryableIssuance Kind = "RetryableIssuanceError"
	KindInvalidToken      Kind = "InvalidTokenError"
	KindUnauthenticated   Kind = "UnauthenticatedError"
	KindExpired           Kind = "ExpiredError"
	KindBadRequest        Kind = "BadRequestError"
)

// Error is a local validation or lookup outcome surfaced verbatim to the caller.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

// Sentinels for errors.Is. Only the kind is compared.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrDuplicateKey      = &Error{Kind: KindDuplicateKey}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrRetryableIssuance = &Error{Kind: KindRetryableIssuance}
	ErrInvalidToken      = &Error{Kind: KindInvalidToken}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrExpired           = &Error{Kind: KindExpired}
	ErrBadRequest        = &Error{Kind: KindBadRequest}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a domain error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first domain error in err's chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func newError(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed request field.
func Validation(field, format string, args ...any) *Error {
	return newError(KindValidation, field, format, args...)
}

// DuplicateKey reports a uniqueness conflict on field.
func DuplicateKey(field, format string, args ...any) *Error {
	return newError(KindDuplicateKey, field, format, args...)
}

// NotFound reports a missing entity identified by field.
func NotFound(field, format string, args ...any) *Error {
	return newError(KindNotFound, field, format, args...)
}

// Authorization reports an ownership failure.
func Authorization(field, format string, args ...any) *Error {
	return newError(KindAuthorization, field, format, args...)
}

// RetryableIssuance reports that credential generation kept colliding.
func RetryableIssuance(attempts int) *Error {
	return newError(KindRetryableIssuance, "timeOut", "try again: credential generation collided %d times", attempts)
}

// InvalidToken reports a structurally malformed or unverifiable token.
func InvalidToken(field string, err error) *Error {
	e := newError(KindInvalidToken, field, "invalid token")
	e.Err = err
	return e
}

// Unauthenticated reports a request without usable credentials.
func Unauthenticated(format string, args ...any) *Error {
	return newError(KindUnauthenticated, "auth", format, args...)
}

// Expired reports an expired link or token.
func Expired(field, format string, args ...any) *Error {
	return newError(KindExpired, field, format, args...)
}

// BadRequest reports input that cannot be interpreted at all, such as a
// tampered confirmation link.
func BadRequest(field, format string, args ...any) *Error {
	return newError(KindBadRequest, field, format, args...)
}
