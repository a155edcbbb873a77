// Package errdefs defines the error taxonomy shared across the gateway,
// providers, tools, and stores, plus its mapping onto RPC error codes.
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// Code is an RPC error code carried in WebSocket error frames.
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeNotFound       Code = "NOT_FOUND"
	CodeValidation     Code = "VALIDATION"
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"
	CodeInternal       Code = "INTERNAL"
)

// HTTPStatus returns the HTTP shim status for a code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeRateLimited:
		return 429
	case CodeNotFound:
		return 404
	case CodeValidation:
		return 422
	case CodeBudgetExceeded:
		return 429
	default:
		return 500
	}
}

// ConfigError reports a configuration load, parse, or validation failure.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "config: " + e.Msg + ": " + e.Err.Error()
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// AuthError reports a credential or auth rate-limit failure.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "auth: " + e.Msg }

// ValidationError reports malformed RPC or tool parameters.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown session, cron job, or channel.
type NotFoundError struct {
	Kind string // "session", "cron job", "channel", "tool"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// RateLimitError reports a rate-limited request and how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// BudgetExceededError reports that a usage budget blocked the request.
type BudgetExceededError struct {
	Msg string
}

func (e *BudgetExceededError) Error() string { return "budget exceeded: " + e.Msg }

// RetryableProviderError is a transient provider failure that survived all
// retries. Status is the last HTTP status (0 for pure network errors).
type RetryableProviderError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *RetryableProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: retries exhausted (status %d): %s", e.Provider, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: retries exhausted: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: retries exhausted", e.Provider)
}

func (e *RetryableProviderError) Unwrap() error { return e.Err }

// ProviderHTTPError is a non-retryable provider HTTP failure.
type ProviderHTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("provider %s: http %d: %s", e.Provider, e.Status, e.Body)
}

// WorkspaceViolationError reports a path that escaped the allowed roots.
type WorkspaceViolationError struct {
	Path string
}

func (e *WorkspaceViolationError) Error() string {
	return "workspace violation: " + e.Path
}

// ToolPolicyDeniedError reports a tool call blocked by policy. It is
// normally synthesized into an error tool-result, not raised.
type ToolPolicyDeniedError struct {
	Tool string
}

func (e *ToolPolicyDeniedError) Error() string {
	return "tool call denied by policy: " + e.Tool
}

// CorruptSessionError reports an unparseable transcript line.
type CorruptSessionError struct {
	SessionID string
	Line      int
	Err       error
}

func (e *CorruptSessionError) Error() string {
	return fmt.Sprintf("session %s: corrupt entry at line %d: %v", e.SessionID, e.Line, e.Err)
}

func (e *CorruptSessionError) Unwrap() error { return e.Err }

// CodeFor maps an error to its RPC code. Unknown errors map to INTERNAL;
// session corruption is deliberately surfaced as INTERNAL.
func CodeFor(err error) Code {
	var (
		authErr      *AuthError
		validErr     *ValidationError
		notFoundErr  *NotFoundError
		rateErr      *RateLimitError
		budgetErr    *BudgetExceededError
		workspaceErr *WorkspaceViolationError
	)
	switch {
	case errors.As(err, &validErr):
		return CodeValidation
	case errors.As(err, &authErr):
		return CodeUnauthorized
	case errors.As(err, &rateErr):
		return CodeRateLimited
	case errors.As(err, &notFoundErr):
		return CodeNotFound
	case errors.As(err, &budgetErr):
		return CodeBudgetExceeded
	case errors.As(err, &workspaceErr):
		return CodeValidation
	default:
		return CodeInternal
	}
}
