// Package tokenizer splits text into normalised search terms. Letters and
// digits form terms, every other rune separates them. Terms are lower-cased
// and stripped of diacritics; there is no stemming and no stop-word list,
// so what a user types is what gets matched. The same rules serve indexing,
// query parsing and snippet highlighting.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is a normalised term with its ordinal position and the byte range
// it came from in the original text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Tokenize breaks text into Tokens in order of appearance.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	start := -1
	ascii := true
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := text[start:end]
		var term string
		if ascii {
			term = strings.ToLower(word)
		} else {
			term = Normalize(word)
		}
		if term != "" {
			tokens = append(tokens, Token{Term: term, Position: len(tokens), Start: start, End: end})
		}
		start = -1
		ascii = true
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if isTermRune(r) {
			if start < 0 {
				start = i
			}
			if r >= utf8.RuneSelf {
				ascii = false
			}
		} else {
			flush(i)
		}
		i += size
	}
	flush(len(text))
	return tokens
}

// Terms returns only the normalised terms of text.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// Normalize lower-cases word and removes combining marks, so "Café" and
// "cafe" produce the same term.
func Normalize(word string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, word)
	if err != nil {
		folded = word
	}
	return strings.ToLower(folded)
}

func isTermRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
