// Package parser turns a free-text query into the list of prefix terms the
// executor matches. Terms are OR-ed; there are no operators.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

type QueryPlan struct {
	// Terms are distinct normalised tokens in query order; each matches
	// every dictionary term it is a prefix of.
	Terms    []string
	RawQuery string
}

// Parse tokenizes query with the indexing rules. A query that is empty after
// trimming is an input error; one that only contains separators yields a plan
// without terms.
func Parse(query string) (*QueryPlan, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, apperrors.Invalid("query parameter 'q' is required")
	}
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		RawQuery: trimmed,
	}
	seen := make(map[string]struct{})
	for _, tok := range tokenizer.Tokenize(trimmed) {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		plan.Terms = append(plan.Terms, tok.Term)
	}
	return plan, nil
}

// Matches reports whether an indexed term is matched by any plan term.
func (p *QueryPlan) Matches(term string) bool {
	for _, t := range p.Terms {
		if strings.HasPrefix(term, t) {
			return true
		}
	}
	return false
}
