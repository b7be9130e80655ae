// Package validator authenticates and validates dataset notifications.
package validator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

const (
	signaturePrefix  = "sha256="
	maxVersionLength = 256
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// Sign returns the header value a sender computes for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of body. With no
// secret configured every request passes; with one, a missing or wrong
// signature is rejected.
func VerifySignature(body []byte, header, secret string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return fmt.Errorf("missing %s header: %w", ingestion.SignatureHeader, apperrors.ErrSignatureInvalid)
	}
	if !hmac.Equal([]byte(header), []byte(Sign(body, secret))) {
		return apperrors.ErrSignatureInvalid
	}
	return nil
}

// ValidateNotification checks the required fields and count ranges.
func ValidateNotification(n *ingestion.Notification) error {
	errs := make(map[string]string)

	version := strings.TrimSpace(n.Version)
	if version == "" {
		errs["version"] = "version is required"
	} else if len(version) > maxVersionLength {
		errs["version"] = fmt.Sprintf("version must be at most %d characters", maxVersionLength)
	}
	if strings.TrimSpace(n.Timestamp) == "" {
		errs["timestamp"] = "timestamp is required"
	}
	for field, v := range map[string]*int64{
		"lists_count":   n.ListsCount,
		"repos_count":   n.ReposCount,
		"readmes_count": n.ReadmesCount,
	} {
		if v != nil && *v < 0 {
			errs[field] = "must not be negative"
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
