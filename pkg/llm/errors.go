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

// ErrorType indicates which part of the LLM configuration or call failed.
type ErrorType string

const (
	ErrorTypeNone        ErrorType = ""
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeUnsupported ErrorType = "unsupported"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// ErrEmbeddingsUnsupported is returned by clients that cannot embed text.
var ErrEmbeddingsUnsupported = NewError(ErrorTypeUnsupported, "embeddings not supported by this provider", false, nil)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int    // HTTP status code if known
	Model      string // model name if known
	Endpoint   string // endpoint URL if known; only the host is printed
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
// This allows the retry package to check retryability without importing llm.
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

// WithContext returns a copy of e annotated with model and endpoint.
func (e *Error) WithContext(model, endpoint string) *Error {
	cp := *e
	cp.Model = model
	cp.Endpoint = endpoint
	return &cp
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

// statusCodePattern matches a standalone HTTP status code in an error string.
var statusCodePattern = regexp.MustCompile(`\b(400|401|403|404|408|409|429|500|502|503|504|529)\b`)

func extractStatusCode(s string) int {
	m := statusCodePattern.FindString(s)
	if m == "" {
		return 0
	}
	code, _ := strconv.Atoi(m)
	return code
}

type classificationRule struct {
	match     func(lower string, status int) bool
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

// Rules are evaluated in order; the first match wins.
var classificationRules = []classificationRule{
	{
		match: func(l string, s int) bool {
			return s == 401 || s == 403 || containsAny(l, "unauthorized", "invalid api key", "invalid x-api-key", "authentication")
		},
		errType: ErrorTypeAuth, message: "authentication failed",
	},
	{
		match: func(l string, _ int) bool {
			return strings.Contains(l, "model") && containsAny(l, "not found", "does not exist", "not_found_error")
		},
		errType: ErrorTypeModel, message: "model not found",
	},
	{
		match:   func(_ string, s int) bool { return s == 404 },
		errType: ErrorTypeEndpoint, message: "endpoint not found",
	},
	{
		match:   func(l string, s int) bool { return s == 429 || containsAny(l, "rate limit", "rate_limit") },
		errType: ErrorTypeRateLimited, message: "rate limited", retryable: true,
	},
	{
		match:   func(l string, _ int) bool { return containsAny(l, "connection refused", "no such host", "connection reset", "unexpected eof") },
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		match:   func(l string, s int) bool { return s == 408 || containsAny(l, "timeout", "deadline exceeded") },
		errType: ErrorTypeEndpoint, message: "request timeout", retryable: true,
	},
	{
		match: func(l string, s int) bool {
			return s >= 500 || containsAny(l, "overloaded", "cuda error", "gpu error", "out of memory")
		},
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
		return NewError(ErrorTypeUnknown, "request canceled", false, err)
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)
	status := extractStatusCode(errStr)

	for _, rule := range classificationRules {
		if rule.match(lower, status) {
			classified := NewError(rule.errType, rule.message, rule.retryable, err)
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
