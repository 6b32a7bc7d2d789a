package common

import (
	"errors"
	"net/http"
)

// AppError is an error the HTTP layer can render as-is: Code and Message go
// to the client, Err stays server side.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err == nil:
		return e.Message
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithErr attaches the underlying cause and returns e.
func (e *AppError) WithErr(err error) *AppError {
	e.Err = err
	return e
}

func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ValidationError is a 422 carrying field level details.
func ValidationError(code, message string, details any) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details}
}

// ConflictError is a 409: the request clashes with current state, such as
// stock that ran out between quote and submit.
func ConflictError(code, message string, details any) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusConflict, Details: details}
}

func InternalError(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusInternalServerError, err)
}

// IsAppError reports whether err wraps an *AppError.
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError unwraps the first *AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}
