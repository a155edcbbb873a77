package errdefs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"validation", &ValidationError{Msg: "bad params"}, CodeValidation},
		{"auth", &AuthError{Msg: "bad token"}, CodeUnauthorized},
		{"rate limit", &RateLimitError{RetryAfter: time.Minute}, CodeRateLimited},
		{"not found", &NotFoundError{Kind: "session", ID: "abc"}, CodeNotFound},
		{"budget", &BudgetExceededError{Msg: "daily cap"}, CodeBudgetExceeded},
		{"workspace", &WorkspaceViolationError{Path: "/etc/passwd"}, CodeValidation},
		{"corrupt session", &CorruptSessionError{SessionID: "abc", Line: 3}, CodeInternal},
		{"plain error", errors.New("boom"), CodeInternal},
		{"wrapped not found", fmt.Errorf("lookup: %w", &NotFoundError{Kind: "channel", ID: "slack"}), CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeFor(tt.err); got != tt.want {
				t.Fatalf("CodeFor(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidRequest, 400},
		{CodeUnauthorized, 401},
		{CodeRateLimited, 429},
		{CodeNotFound, 404},
		{CodeValidation, 422},
		{CodeBudgetExceeded, 429},
		{CodeInternal, 500},
		{Code("SOMETHING_ELSE"), 500},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestCorruptSessionErrorMessage(t *testing.T) {
	err := &CorruptSessionError{SessionID: "abc", Line: 7, Err: errors.New("unexpected end of JSON input")}
	want := "session abc: corrupt entry at line 7: unexpected end of JSON input"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("Unwrap should expose the parse error")
	}
}
