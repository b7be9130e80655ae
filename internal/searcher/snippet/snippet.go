// Package snippet cuts a highlighted excerpt out of README text.
package snippet

import (
	"html"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/tokenizer"
)

const (
	OpenMark  = "<mark>"
	CloseMark = "</mark>"
	Ellipsis  = "..."
)

// Extract returns a window of at most window tokens of text. The window is
// placed around anchor, the token position of the first match, or at the
// start of the text when anchor is negative. Tokens for which match returns
// true are wrapped in <mark>; everything else is HTML-escaped. Edges that cut
// the text short get an ellipsis. Empty text yields nil.
func Extract(text string, anchor int, window int, match func(term string) bool) *string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if window <= 0 {
		window = 32
	}
	tokens := tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		out := html.EscapeString(truncateRunes(text, window*8))
		return &out
	}
	if anchor < 0 || anchor >= len(tokens) {
		anchor = firstMatch(tokens, match)
	}

	start := anchor - window/4
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(tokens) {
		end = len(tokens)
		start = max(0, end-window)
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString(Ellipsis)
	} else {
		sb.WriteString(html.EscapeString(text[:tokens[0].Start]))
	}
	for i := start; i < end; i++ {
		tok := tokens[i]
		word := html.EscapeString(text[tok.Start:tok.End])
		if match(tok.Term) {
			sb.WriteString(OpenMark)
			sb.WriteString(word)
			sb.WriteString(CloseMark)
		} else {
			sb.WriteString(word)
		}
		if i+1 < end {
			sb.WriteString(html.EscapeString(text[tok.End:tokens[i+1].Start]))
		}
	}
	if end < len(tokens) {
		sb.WriteString(Ellipsis)
	} else {
		sb.WriteString(html.EscapeString(strings.TrimRight(text[tokens[end-1].End:], " \t\r\n")))
	}
	out := strings.TrimSpace(sb.String())
	return &out
}

func firstMatch(tokens []tokenizer.Token, match func(string) bool) int {
	for i, tok := range tokens {
		if match(tok.Term) {
			return i
		}
	}
	return 0
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + Ellipsis
}
