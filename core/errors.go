package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes orchestration errors.
type ErrorCode string

const (
	ErrAuth        ErrorCode = "auth"
	ErrValidation  ErrorCode = "validation"
	ErrLookup      ErrorCode = "lookup"
	ErrIntegration ErrorCode = "integration"
	ErrParse       ErrorCode = "parse"
	ErrInternal    ErrorCode = "internal"
)

// OrchError provides rich context for orchestration failures.
type OrchError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	wrapped error
}

func (e *OrchError) Error() string {
	if e == nil {
		return ""
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *OrchError) Unwrap() error { return e.wrapped }

// WrapError creates a new OrchError with the provided code.
func WrapError(err error, code ErrorCode) *OrchError {
	if err == nil {
		return nil
	}
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe
	}
	return &OrchError{Code: code, Message: err.Error(), wrapped: err}
}

// NewError builds an OrchError explicitly.
func NewError(code ErrorCode, message string, opts ...ErrorOption) *OrchError {
	e := &OrchError{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ErrorOption mutates an OrchError during construction.
type ErrorOption func(*OrchError)

// WithDetails attaches structured context.
func WithDetails(details map[string]any) ErrorOption {
	return func(e *OrchError) { e.Details = details }
}

// WithWrapped attaches an underlying error.
func WithWrapped(err error) ErrorOption {
	return func(e *OrchError) { e.wrapped = err }
}

func classify(code ErrorCode) func(error) bool {
	return func(err error) bool {
		var oe *OrchError
		if err == nil {
			return false
		}
		if errors.As(err, &oe) {
			return oe.Code == code
		}
		return false
	}
}

// Helper predicates for common error handling patterns.
var (
	IsAuth        = classify(ErrAuth)
	IsValidation  = classify(ErrValidation)
	IsLookup      = classify(ErrLookup)
	IsIntegration = classify(ErrIntegration)
	IsParse       = classify(ErrParse)
)
