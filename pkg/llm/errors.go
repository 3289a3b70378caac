package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType indicates which part of the provider configuration an error points at.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int    // HTTP status code if known
	Model      string // Model name if known
	Endpoint   string // Endpoint URL if known; only the host is printed
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if host := endpointHost(e.Endpoint); host != "" {
		parts = append(parts, "endpoint="+host)
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error with model and endpoint context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	e := NewError(errType, message, retryable, cause)
	e.Model = model
	e.Endpoint = endpoint
	e.StatusCode = statusCode
	return e
}

var statusPattern = regexp.MustCompile(`\b(40[0134]|429|50[0234])\b`)

// classification is one rule of ClassifyError. The first matching rule wins.
type classification struct {
	matches   func(lower string, status int) bool
	errType   ErrorType
	message   string
	retryable bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var classifications = []classification{
	{
		matches: func(lower string, status int) bool {
			return status == 401 || status == 403 || containsAny(lower, "unauthorized", "invalid api key", "invalid x-api-key")
		},
		errType: ErrorTypeAuth, message: "authentication failed",
	},
	{
		matches: func(lower string, _ int) bool {
			return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist")
		},
		errType: ErrorTypeModel, message: "model not found",
	},
	{
		matches: func(_ string, status int) bool { return status == 404 },
		errType: ErrorTypeEndpoint, message: "endpoint not found",
	},
	{
		matches: func(lower string, status int) bool {
			return status == 429 || containsAny(lower, "rate limit", "overloaded")
		},
		errType: ErrorTypeRateLimit, message: "rate limited", retryable: true,
	},
	{
		matches: func(lower string, _ int) bool {
			return containsAny(lower, "connection refused", "no such host", "connection reset")
		},
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		matches: func(lower string, _ int) bool {
			return containsAny(lower, "timeout", "deadline exceeded")
		},
		errType: ErrorTypeTimeout, message: "request timeout", retryable: true,
	},
	{
		matches: func(_ string, status int) bool { return status >= 500 },
		errType: ErrorTypeEndpoint, message: "server error", retryable: true,
	},
}

// ClassifyError categorizes an error and returns a structured Error.
// Caller cancellation is never retryable.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeUnknown, "request cancelled", false, err)
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)
	status := 0
	if m := statusPattern.FindString(errStr); m != "" {
		status, _ = strconv.Atoi(m)
	}

	for _, c := range classifications {
		if c.matches(lower, status) {
			classified := NewError(c.errType, c.message, c.retryable, err)
			classified.StatusCode = status
			return classified
		}
	}

	classified := NewError(ErrorTypeUnknown, "llm error", false, err)
	classified.StatusCode = status
	return classified
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

func isRetryableStatus(status int) bool {
	return status == 429 || status >= 500
}

func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
