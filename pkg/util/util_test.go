package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("owner-42", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	owner, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("ParseJWT failed: %v", err)
	}
	if owner != "owner-42" {
		t.Errorf("expected owner-42, got %q", owner)
	}
	if _, err := ParseJWT(token, "other"); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestParseClaimsRole(t *testing.T) {
	token, err := GenerateJWTWithRole("ops", "admin", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWTWithRole failed: %v", err)
	}
	c, err := ParseClaims(token, "secret")
	if err != nil {
		t.Fatalf("ParseClaims failed: %v", err)
	}
	if c.OwnerID != "ops" || c.Role != "admin" {
		t.Errorf("unexpected claims %+v", c)
	}

	plain, _ := GenerateJWT("u1", "secret", time.Minute)
	if c, _ := ParseClaims(plain, "secret"); c.Role != "" {
		t.Errorf("expected empty role, got %q", c.Role)
	}
}

func TestPurposeTokenScopes(t *testing.T) {
	token, err := GeneratePurposeToken("u1", PurposeOAuthState, "secret", time.Minute)
	if err != nil {
		t.Fatalf("GeneratePurposeToken failed: %v", err)
	}
	if owner, err := ParsePurposeToken(token, PurposeOAuthState, "secret"); err != nil || owner != "u1" {
		t.Errorf("ParsePurposeToken = %q, %v", owner, err)
	}
	if _, err := ParsePurposeToken(token, "other", "secret"); !errors.Is(err, ErrWrongPurpose) {
		t.Errorf("expected ErrWrongPurpose, got %v", err)
	}
	if _, err := ParseClaims(token, "secret"); !errors.Is(err, ErrWrongPurpose) {
		t.Errorf("scoped token accepted as access token: %v", err)
	}

	access, _ := GenerateJWT("u1", "secret", time.Minute)
	if _, err := ParsePurposeToken(access, PurposeOAuthState, "secret"); !errors.Is(err, ErrWrongPurpose) {
		t.Errorf("access token accepted as scoped token: %v", err)
	}
}

func TestParseJWTExpired(t *testing.T) {
	token, err := GenerateJWT("owner-1", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	if _, err := ParseJWT(token, "secret"); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	if got := ExtractToken(r); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got := ExtractToken(r); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	r.Header.Set("Authorization", "Basic abc")
	if got := ExtractToken(r); got != "" {
		t.Errorf("expected empty token for basic auth, got %q", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"rate limit", &googleapi.Error{Code: 429}, true, "rate_limited"},
		{"server", fmt.Errorf("insert: %w", &googleapi.Error{Code: 503}), true, "calendar_server_error"},
		{"revoked", &googleapi.Error{Code: 401}, false, "calendar_unauthorized"},
		{"gone", &googleapi.Error{Code: 410}, false, "calendar_event_gone"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"unknown", errors.New("weird"), false, "unknown_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, kind := IsRetryableError(tt.err)
			if retryable != tt.retryable || kind != tt.kind {
				t.Errorf("got (%v, %q), want (%v, %q)", retryable, kind, tt.retryable, tt.kind)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(1, 3, false) {
		t.Error("non-retryable errors must not be retried")
	}
	if !ShouldRetry(3, 3, true) {
		t.Error("expected retry at the limit")
	}
	if ShouldRetry(4, 3, true) {
		t.Error("expected no retry past the limit")
	}
}
