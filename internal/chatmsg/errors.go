package chatmsg

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidRole     ErrorCode = "INVALID_ROLE"
	CodeEmptyContent    ErrorCode = "EMPTY_CONTENT"
	CodeMessageTooLarge ErrorCode = "MESSAGE_TOO_LARGE"
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
)

// ValidationError fails the caller synchronously and is never retried.
type ValidationError struct {
	Code ErrorCode
	Err  error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func validationError(code ErrorCode, format string, args ...any) error {
	return &ValidationError{Code: code, Err: fmt.Errorf(format, args...)}
}

func ErrorCodeOf(err error) ErrorCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
