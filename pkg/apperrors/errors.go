// Package apperrors holds sentinel errors shared across packages.
package apperrors

import "errors"

var (
	ErrInvalidSchema        = errors.New("invalid schema document")
	ErrInvalidSecureViewMap = errors.New("invalid secure view map")
	ErrUnknownTable         = errors.New("unknown table")
	ErrUnsupportedStatement = errors.New("unsupported SQL statement")
	ErrExpressionIndex      = errors.New("expression index out of range")
	ErrQuestionRejected     = errors.New("question rejected")
)
