package validator

import (
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

func ptr(v int64) *int64 { return &v }

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"version":"v1","timestamp":"2024-06-01T00:00:00Z"}`)
	good := Sign(body, "s3cret")

	tests := []struct {
		name   string
		header string
		secret string
		ok     bool
	}{
		{"valid", good, "s3cret", true},
		{"no secret configured", "", "", true},
		{"missing header", "", "s3cret", false},
		{"wrong secret", Sign(body, "other"), "s3cret", false},
		{"no prefix", good[len("sha256="):], "s3cret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(body, tt.header, tt.secret)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, apperrors.ErrSignatureInvalid) {
				t.Fatalf("got %v, want ErrSignatureInvalid", err)
			}
		})
	}

	if VerifySignature([]byte(`{"tampered":true}`), good, "s3cret") == nil {
		t.Error("signature must cover the body")
	}
}

func TestValidateNotification(t *testing.T) {
	valid := &ingestion.Notification{Version: "2024.06.01", Timestamp: "2024-06-01T00:00:00Z", ListsCount: ptr(10)}
	if err := ValidateNotification(valid); err != nil {
		t.Fatalf("valid notification rejected: %v", err)
	}

	err := ValidateNotification(&ingestion.Notification{ReposCount: ptr(-1)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"version", "timestamp", "repos_count"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing error for %s", field)
		}
	}
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Error("validation errors should map to invalid input")
	}
	if got := verr.Error(); got != "repos_count:must not be negative; timestamp:timestamp is required; version:version is required" {
		t.Errorf("Error() = %q", got)
	}
}
