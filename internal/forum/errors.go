package forum

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so the request boundary can pick a status.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
	KindOutOfRange Kind = "out_of_range"
	// KindInternal marks store failures; they surface as generic server errors.
	KindInternal Kind = "internal"
)

// Error carries the failure kind plus an operation.reason code for logs and
// response bodies.
type Error struct {
	kind Kind
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Kind() Kind {
	return e.kind
}

func newError(kind Kind, operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &Error{kind: kind, code: code, err: cause}
}

func errorHasKind(err error, kind Kind) bool {
	var domainErr *Error
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.kind == kind
}

// IsValidation reports whether err is a user-correctable input failure.
func IsValidation(err error) bool {
	return errorHasKind(err, KindValidation)
}

// IsPermission reports whether err is an authorization failure.
func IsPermission(err error) bool {
	return errorHasKind(err, KindPermission)
}

// IsNotFound reports whether err indicates an absent or scoped-out resource.
func IsNotFound(err error) bool {
	return errorHasKind(err, KindNotFound)
}

// IsOutOfRange reports whether err indicates a page outside the valid bounds.
func IsOutOfRange(err error) bool {
	return errorHasKind(err, KindOutOfRange)
}
