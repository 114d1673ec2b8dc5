package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by producer and operator calls.
var (
	ErrCommandNotFound      = errors.New("command not found")
	ErrBatchNotFound        = errors.New("batch not found")
	ErrProcessNotFound      = errors.New("process not found")
	ErrDuplicateCommand     = errors.New("duplicate command")
	ErrNotInTroubleshooting = errors.New("command is not in the troubleshooting queue")
	ErrPayloadUnavailable   = errors.New("original payload unavailable")
)

// ErrorKind classifies a handler failure for retry policy purposes.
type ErrorKind string

const (
	ErrorKindTransient    ErrorKind = "TRANSIENT"
	ErrorKindPermanent    ErrorKind = "PERMANENT"
	ErrorKindBusinessRule ErrorKind = "BUSINESS_RULE"
)

// TransientError signals that another attempt may succeed. The worker
// retries up to the command's max attempts using the backoff schedule.
type TransientError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient [%s]: %s", e.Code, e.Message)
}

// PermanentError signals that the work cannot succeed without human
// intervention. The command moves to the troubleshooting queue on first
// failure.
type PermanentError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent [%s]: %s", e.Code, e.Message)
}

// BusinessRuleError is not retryable and not operable: the command goes to
// terminal FAILED, never to the troubleshooting queue.
type BusinessRuleError struct {
	Code    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule [%s]: %s", e.Code, e.Message)
}

// Transient builds a TransientError.
func Transient(code, message string) *TransientError {
	return &TransientError{Code: code, Message: message}
}

// Permanent builds a PermanentError.
func Permanent(code, message string) *PermanentError {
	return &PermanentError{Code: code, Message: message}
}

// BusinessRule builds a BusinessRuleError.
func BusinessRule(code, message string) *BusinessRuleError {
	return &BusinessRuleError{Code: code, Message: message}
}

// Classify maps a handler error to its contract kind. Uncategorized errors
// default to transient.
func Classify(err error) ErrorKind {
	var (
		pe *PermanentError
		be *BusinessRuleError
	)
	switch {
	case errors.As(err, &be):
		return ErrorKindBusinessRule
	case errors.As(err, &pe):
		return ErrorKindPermanent
	default:
		return ErrorKindTransient
	}
}

// ErrorInfoFrom extracts the last-error triplet for a classified error.
func ErrorInfoFrom(err error) ErrorInfo {
	var (
		te *TransientError
		pe *PermanentError
		be *BusinessRuleError
	)
	switch {
	case errors.As(err, &be):
		return ErrorInfo{Kind: string(ErrorKindBusinessRule), Code: be.Code, Message: be.Message}
	case errors.As(err, &pe):
		return ErrorInfo{Kind: string(ErrorKindPermanent), Code: pe.Code, Message: pe.Message}
	case errors.As(err, &te):
		return ErrorInfo{Kind: string(ErrorKindTransient), Code: te.Code, Message: te.Message}
	default:
		return ErrorInfo{Kind: string(ErrorKindTransient), Code: "UNCLASSIFIED", Message: err.Error()}
	}
}
