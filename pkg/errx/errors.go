package errx

import (
	"errors"
	"fmt"

	"pageemu/pkg/domain"
)

type Code string

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Wrap(code Code, err error, msg string) *Error { return &Error{Code: code, Msg: msg, Err: err} }

func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf 返回错误对应的错误码，非 errx 错误按领域错误归类
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, domain.ErrEmptyUserID), errors.Is(err, domain.ErrEmptyEventName):
		return CodeInvalidParams
	case errors.Is(err, domain.ErrSchedulerClosed):
		return CodeUnavailable
	case errors.Is(err, domain.ErrSubmitRejected):
		return CodeBusy
	default:
		return CodeInternal
	}
}

const (
	CodeInvalidParams Code = "INVALID_PARAMS"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeBusy          Code = "BUSY"
	CodeInternal      Code = "INTERNAL"
)
