package query

import (
	"errors"
	"fmt"
)

const (
	StatusOK         = 200
	StatusBadRequest = 400
	StatusNotFound   = 404
	StatusTooLarge   = 413
	StatusInternal   = 502
)

// Error is a request error carrying the protocol status code.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func badRequest(format string, args ...any) *Error {
	return &Error{Code: StatusBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Code: StatusNotFound, Msg: fmt.Sprintf(format, args...)}
}

// inLine attaches the offending header line to err.
func inLine(err error, line string) error {
	var qe *Error
	if errors.As(err, &qe) {
		return &Error{Code: qe.Code, Msg: fmt.Sprintf("%s (in line '%s')", qe.Msg, line)}
	}
	return &Error{Code: StatusBadRequest, Msg: fmt.Sprintf("%s (in line '%s')", err, line)}
}

// StatusOf maps err to a status code: the code of an *Error, 200 for nil and
// 502 for anything else.
func StatusOf(err error) int {
	if err == nil {
		return StatusOK
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return StatusInternal
}
