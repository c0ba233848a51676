package quark

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorCode enumerates the error kinds conveyed over the API.
type ErrorCode int

const (
	CodeInvalidArgument ErrorCode = 1
	CodeInvalidState    ErrorCode = 2
	CodeNotFound        ErrorCode = 3
	CodeRateLimit       ErrorCode = 4
	CodeExternal        ErrorCode = 5
	CodeInternal        ErrorCode = 6
)

func (c ErrorCode) Reason() string {
	switch c {
	case CodeInvalidArgument:
		return "ERR_INVALID_ARGUMENT"
	case CodeInvalidState:
		return "ERR_INVALID_STATE"
	case CodeNotFound:
		return "ERR_NOT_FOUND"
	case CodeRateLimit:
		return "ERR_RATE_LIMIT"
	case CodeExternal:
		return "ERR_EXTERNAL"
	case CodeInternal:
		return "ERR_INTERNAL"
	default:
		return "ERR_INTERNAL"
	}
}

func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument, CodeInvalidState, CodeRateLimit:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var _ error = &StatusError{}

// StatusError is the error type surfaced through the API layer.
type StatusError struct {
	Code ErrorCode
	Text string

	WrappedError error
}

func (s *StatusError) LogValue() slog.Value {
	if s == nil {
		return slog.Value{}
	}
	return slog.StringValue(s.Text)
}

func (s *StatusError) Error() string {
	return s.Text
}

func (s *StatusError) Unwrap() error {
	return s.WrappedError
}

func (s *StatusError) Is(target error) bool {
	if err, ok := target.(*StatusError); ok {
		return err.Code == s.Code && err.Text == s.Text
	}
	return false
}

func Statusf(code ErrorCode, format string, args ...any) error {
	return &StatusError{Code: code, Text: fmt.Sprintf(format, args...)}
}

// WrapExternal tags a store or subprocess failure as ERR_EXTERNAL while
// keeping the cause reachable through errors.Unwrap.
func WrapExternal(err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Code: CodeExternal, Text: err.Error(), WrappedError: err}
}

// CodeOf extracts the error code, defaulting to CodeInternal for plain
// errors and 0 for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return CodeInternal
}
