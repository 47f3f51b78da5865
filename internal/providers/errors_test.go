package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  string
		want FailoverReason
	}{
		{"request timeout", FailoverTimeout},
		{"context deadline exceeded", FailoverTimeout},
		{"rate limit exceeded", FailoverRateLimit},
		{"429 too many requests", FailoverRateLimit},
		{"invalid api key", FailoverAuth},
		{"insufficient funds for request", FailoverBilling},
		{"model not found: gpt-9", FailoverModelUnavailable},
		{"blocked by content filter", FailoverContentFilter},
		{"503 service unavailable", FailoverServerError},
		{"something odd happened", FailoverUnknown},
	}
	for _, tc := range tests {
		if got := ClassifyError(errors.New(tc.err)); got != tc.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if got := ClassifyError(nil); got != FailoverUnknown {
		t.Errorf("ClassifyError(nil) = %s", got)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   FailoverReason
	}{
		{http.StatusPaymentRequired, FailoverBilling},
		{http.StatusTooManyRequests, FailoverRateLimit},
		{http.StatusUnauthorized, FailoverAuth},
		{http.StatusForbidden, FailoverAuth},
		{http.StatusGatewayTimeout, FailoverTimeout},
		{http.StatusBadRequest, FailoverInvalidRequest},
		{http.StatusNotFound, FailoverModelUnavailable},
		{http.StatusInternalServerError, FailoverServerError},
		{http.StatusOK, FailoverUnknown},
	}
	for _, tc := range tests {
		if got := classifyStatusCode(tc.status); got != tc.want {
			t.Errorf("classifyStatusCode(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestFailoverReasonRetryable(t *testing.T) {
	retryable := []FailoverReason{FailoverRateLimit, FailoverTimeout, FailoverServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%s should be retryable", r)
		}
	}
	terminal := []FailoverReason{FailoverAuth, FailoverBilling, FailoverInvalidRequest, FailoverContentFilter}
	for _, r := range terminal {
		if r.IsRetryable() {
			t.Errorf("%s should not be retryable", r)
		}
	}
}

func TestFailoverReasonShouldFailover(t *testing.T) {
	for _, r := range []FailoverReason{FailoverBilling, FailoverAuth, FailoverModelUnavailable} {
		if !r.ShouldFailover() {
			t.Errorf("%s should fail over", r)
		}
	}
	if FailoverRateLimit.ShouldFailover() {
		t.Error("rate limit should retry, not fail over")
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("rate limit exceeded")).
		WithStatus(http.StatusTooManyRequests).
		WithRequestID("req_123")

	if err.Reason != FailoverRateLimit {
		t.Errorf("reason = %s, want rate_limit", err.Reason)
	}
	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "anthropic", "model=claude-sonnet-4-20250514", "status=429"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestProviderErrorCodeReclassifies(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("boom")).
		WithCode("insufficient_quota")
	if err.Reason != FailoverBilling {
		t.Errorf("reason = %s, want billing", err.Reason)
	}

	// Unknown codes leave the classification alone.
	err2 := NewProviderError("openai", "gpt-4o", errors.New("request timeout")).
		WithCode("mystery_code")
	if err2.Reason != FailoverTimeout {
		t.Errorf("reason = %s, want timeout", err2.Reason)
	}
}

func TestGetProviderErrorUnwraps(t *testing.T) {
	inner := NewProviderError("anthropic", "m", errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("request failed: %w", inner)

	got, ok := GetProviderError(wrapped)
	if !ok || got != inner {
		t.Fatalf("GetProviderError = %v, %v", got, ok)
	}
	if !IsProviderError(wrapped) {
		t.Error("IsProviderError(wrapped) = false")
	}
	if IsProviderError(errors.New("plain")) {
		t.Error("IsProviderError(plain) = true")
	}
}
