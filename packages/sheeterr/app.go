package sheeterr

import "errors"

// AppCode represents gRPC-style error codes for API misuse. we skip codes
// that don't make sense here, like unauthenticated or permission denied.
type AppCode int

const (
	// OK indicates the operation completed successfully.
	OK AppCode = 0

	// Unknown error.
	Unknown AppCode = 2

	// InvalidArgument indicates the caller specified an invalid argument,
	// such as an empty namespace id or a change for another namespace.
	InvalidArgument AppCode = 3

	// NotFound means a requested entity (typename, namespace) was not found.
	NotFound AppCode = 5

	// FailedPrecondition indicates the object is not in a state required
	// for the call, e.g. it has been disposed.
	FailedPrecondition AppCode = 9

	// Unimplemented indicates the operation is not supported.
	Unimplemented AppCode = 12

	// Internal means an invariant of the engine has been broken.
	Internal AppCode = 13
)

// AppError represents errors at the API level (not cell or type errors).
type AppError struct {
	Code    AppCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// Is matches another *AppError with the same code, so sentinels below work
// with errors.Is regardless of message.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewAppError creates a new application error.
func NewAppError(code AppCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// sentinels for errors.Is, matching on code only
var (
	ErrInvalidArgument    = &AppError{Code: InvalidArgument}
	ErrNotFound           = &AppError{Code: NotFound}
	ErrFailedPrecondition = &AppError{Code: FailedPrecondition}
	ErrUnimplemented      = &AppError{Code: Unimplemented}
)

// CodeOf returns the AppCode carried by err, or Unknown.
func CodeOf(err error) AppCode {
	if err == nil {
		return OK
	}
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return Unknown
}
