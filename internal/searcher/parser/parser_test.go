package parser

import (
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		terms []string
	}{
		{"redux", []string{"redux"}},
		{"  Redux   Toolkit ", []string{"redux", "toolkit"}},
		{"kube kube KUBE", []string{"kube"}},
		{"state-management, café", []string{"state", "management", "cafe"}},
		{"!!! ???", []string{}},
	}
	for _, tt := range tests {
		plan, err := Parse(tt.query)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.query, err)
		}
		if !reflect.DeepEqual(plan.Terms, tt.terms) {
			t.Errorf("Parse(%q).Terms = %v, want %v", tt.query, plan.Terms, tt.terms)
		}
	}
}

func TestParseRejectsBlank(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		if _, err := Parse(q); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidInput", q, err)
		}
	}
}

func TestMatches(t *testing.T) {
	plan, _ := Parse("kube redux")
	for term, want := range map[string]bool{
		"kubernetes": true,
		"kube":       true,
		"redux":      true,
		"postgres":   false,
		"ku":         false,
	} {
		if got := plan.Matches(term); got != want {
			t.Errorf("Matches(%q) = %v", term, got)
		}
	}
}
