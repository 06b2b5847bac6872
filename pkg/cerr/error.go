package cerr

import (
	"errors"
	"fmt"
	"runtime"
)

type Error struct {
	Code  Code
	Msg   string // returned to the caller together with Code
	Err   error  // kept for logs only
	Stack string
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if code.serverSide() {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code carried by err, OK for nil and Unknown for errors
// that are not *Error.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return Unknown
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return CodeOf(err).Retryable()
}

func Validation(format string, args ...any) *Error {
	return NewError(InvalidArgument, fmt.Sprintf(format, args...), nil)
}

func NotFoundf(format string, args ...any) *Error {
	return NewError(NotFound, fmt.Sprintf(format, args...), nil)
}

func Preconditionf(format string, args ...any) *Error {
	return NewError(FailedPrecondition, fmt.Sprintf(format, args...), nil)
}

func Capacityf(format string, args ...any) *Error {
	return NewError(ResourceExhausted, fmt.Sprintf(format, args...), nil)
}

func Cyclef(format string, args ...any) *Error {
	return NewError(Cycle, fmt.Sprintf(format, args...), nil)
}

func Conflictf(format string, args ...any) *Error {
	return NewError(Aborted, fmt.Sprintf(format, args...), nil)
}
