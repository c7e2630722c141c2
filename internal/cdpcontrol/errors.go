package cdpcontrol

import (
	"errors"
	"fmt"
)

// Code classifies a CodedError for the API layer.
type Code string

const (
	CodeValidation     Code = "VALIDATION"
	CodeNotFound       Code = "NOT_FOUND"
	CodeEvalFailure    Code = "EVAL_FAILURE"
	CodeCDPUnavailable Code = "CDP_UNAVAILABLE"
)

// CodedError carries a stable code alongside the underlying cause.
type CodedError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// CodeOf returns the code of the first CodedError in err's chain, or "".
func CodeOf(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func newError(code Code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}
