package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable identifier of an error.
type Code string

const (
	CodeJobNotFound        Code = "JOB_NOT_FOUND"
	CodeInvalidJobState    Code = "INVALID_JOB_STATE"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodePolicyDenied       Code = "POLICY_DENIED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInactiveUser       Code = "USER_INACTIVE"
	CodeInvalidUserData    Code = "INVALID_USER_DATA"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeValidation         Code = "VALIDATION_ERROR"

	CodeStorage  Code = "STORAGE_ERROR"
	CodeDatabase Code = "DATABASE_ERROR"
	CodeQueue    Code = "QUEUE_ERROR"
)

// Kind separates client-caused errors from failing dependencies.
type Kind int

const (
	KindDomain Kind = iota
	KindInfrastructure
)

func (k Kind) String() string {
	if k == KindInfrastructure {
		return "infrastructure"
	}
	return "domain"
}

// Error is the single error value returned by the core. Two errors are
// considered equal by errors.Is when their codes match.
type Error struct {
	Code    Code
	Status  int
	Message string
	kind    Kind
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Kind reports whether the error is a domain or an infrastructure error.
func (e *Error) Kind() Kind { return e.kind }

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

func domain(code Code, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg, kind: KindDomain}
}

func infrastructure(code Code, msg string) *Error {
	return &Error{Code: code, Status: http.StatusServiceUnavailable, Message: msg, kind: KindInfrastructure}
}

var (
	ErrJobNotFound        = domain(CodeJobNotFound, http.StatusNotFound, "Job not found")
	ErrInvalidJobState    = domain(CodeInvalidJobState, http.StatusBadRequest, "Invalid job state")
	ErrPermissionDenied   = domain(CodePermissionDenied, http.StatusForbidden, "Permission denied")
	ErrPolicyDenied       = domain(CodePolicyDenied, http.StatusForbidden, "Policy denied")
	ErrInvalidToken       = domain(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token")
	ErrInvalidCredentials = domain(CodeInvalidCredentials, http.StatusUnauthorized, "Incorrect username or password")
	ErrInactiveUser       = domain(CodeInactiveUser, http.StatusUnauthorized, "User is inactive")
	ErrInvalidUserData    = domain(CodeInvalidUserData, http.StatusBadRequest, "Invalid user data")
	ErrUserNotFound       = domain(CodeUserNotFound, http.StatusNotFound, "User not found")
	ErrValidation         = domain(CodeValidation, http.StatusUnprocessableEntity, "Validation error")

	ErrStorage  = infrastructure(CodeStorage, "Storage operation failed")
	ErrDatabase = infrastructure(CodeDatabase, "Database operation failed")
	ErrQueue    = infrastructure(CodeQueue, "Queue operation failed")
)

// As extracts the *Error carried by err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsInfrastructure reports whether err carries an infrastructure error.
func IsInfrastructure(err error) bool {
	e, ok := As(err)
	return ok && e.Kind() == KindInfrastructure
}

// Ensure returns err unchanged when it already carries an *Error and
// otherwise wraps it in fallback. Boundaries use it so backend failures
// never escape untyped.
func Ensure(err error, fallback *Error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return fallback.Wrap(err)
}
