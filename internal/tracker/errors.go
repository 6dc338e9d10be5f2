package tracker

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeProtocol      = "PROTOCOL_VIOLATION"
	CodeCountNegative = "COUNT_NEGATIVE"
	CodeLifecycle     = "LIFECYCLE"
	CodeNotFound      = "NOT_FOUND"
)

var (
	ErrCountNegative        = errors.New("connection count went negative")
	ErrDuplicateRequest     = errors.New("duplicate request; connection count leak")
	ErrDuplicateResponse    = errors.New("duplicate response for request")
	ErrCommitBeforeRedirect = errors.New("commit observed before redirect")
	ErrLifecycle            = errors.New("session lifecycle moved backwards")
	ErrSessionDead          = errors.New("session is dead")
	ErrTabNotFound          = errors.New("tab not found")
)

// Error is a coded tracker error.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
