// Package ranker scores matched documents with Okapi BM25.
package ranker

import (
	"cmp"
	"math"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

type ScoredDoc struct {
	Doc   int32   `json:"doc"`
	Score float64 `json:"score"`
}

// Scorer holds the corpus statistics of one generation. Document ordinals
// index docLen directly.
type Scorer struct {
	K1, B     float64
	docLen    []int
	avgDocLen float64
}

// New returns a Scorer over a generation whose documents have the given
// token lengths.
func New(docLen []int, avgDocLen float64) *Scorer {
	return &Scorer{K1: DefaultK1, B: DefaultB, docLen: docLen, avgDocLen: avgDocLen}
}

// IDF is the BM25 inverse document frequency, always positive.
func (s *Scorer) IDF(docFreq int) float64 {
	n := float64(len(s.docLen))
	df := float64(docFreq)
	return math.Log((n-df)/(df+0.5) + 1)
}

func (s *Scorer) termWeight(freq int, doc int32) float64 {
	if s.avgDocLen == 0 {
		return 0
	}
	tf := float64(freq)
	norm := s.K1 * (1 - s.B + s.B*float64(s.docLen[doc])/s.avgDocLen)
	return tf * (s.K1 + 1) / (tf + norm)
}

// Score sums the BM25 contribution of every query term. Each entry of
// perTerm holds the postings of one query term, already merged across its
// prefix expansions, so document frequency counts documents matching the
// term at all. Scores are rounded to four decimals and ordered by score
// descending, then document ordinal. limit <= 0 keeps all.
func (s *Scorer) Score(perTerm []index.PostingList, limit int) []ScoredDoc {
	acc := make(map[int32]float64)
	for _, postings := range perTerm {
		idf := s.IDF(len(postings))
		for _, p := range postings {
			acc[p.Doc] += idf * s.termWeight(p.Frequency, p.Doc)
		}
	}

	out := make([]ScoredDoc, 0, len(acc))
	for doc, score := range acc {
		out = append(out, ScoredDoc{Doc: doc, Score: math.Round(score*1e4) / 1e4})
	}
	slices.SortFunc(out, func(a, b ScoredDoc) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Doc, b.Doc)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
