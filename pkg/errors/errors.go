package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error codes for the alert pipeline. The bands group related failures:
// 1xxx caller mistakes, 2xxx media pipeline, 3xxx ledger, 4xxx attempt
// lifecycle, 5xxx reward issuance.
const (
	CodeValidation        = 1001
	CodeNotFound          = 1002
	CodeMediaStore        = 2001
	CodeTampered          = 2002
	CodeLedgerUnavailable = 3001
	CodeRejected          = 3002
	CodeTimeout           = 4001
	CodeCancelled         = 4002
	CodeAlreadyIssued     = 5001
)

// Error represents a coded error with stack trace and optional context.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode creates a new error with code
func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(),
	}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code int, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// WrapCode wraps an error with a code and message
func WrapCode(err error, code int, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrap wraps an error with message
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   captureStack(),
	}
}

// New creates a new error
func New(message string) *Error {
	return &Error{
		Message: message,
		Stack:   captureStack(),
	}
}

// Errorf creates a new formatted error
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// WithContext adds context to an error. The receiver is not mutated.
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}
	newErr := &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Stack:   e.Stack,
		Context: make([]KeyValue, len(e.Context)),
	}
	copy(newErr.Context, e.Context)
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})
	return newErr
}

// GetCode returns the code of the outermost coded error in the chain,
// or 0 for nil and uncoded errors.
func GetCode(err error) int {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code != 0 {
				return e.Code
			}
			err = e.Err
			continue
		}
		return 0
	}
	return 0
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code int) bool {
	return GetCode(err) == code
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// GetStack returns the error stack trace
func GetStack(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Stack
	}
	return ""
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}
	return strings.TrimSpace(stack)
}
