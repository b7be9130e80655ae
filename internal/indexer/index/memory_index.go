package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/tokenizer"
)

// MemoryIndex accumulates postings while a generation is being built. It is
// safe for concurrent AddDocument calls; Snapshot orders everything so the
// result does not depend on insertion order.
type MemoryIndex struct {
	mu       sync.Mutex
	index    map[string]map[int32]*Posting
	docLens  map[int32]int
	docCount int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:   make(map[string]map[int32]*Posting),
		docLens: make(map[int32]int),
	}
}

// AddDocument tokenizes every field of doc and merges the resulting postings.
// It returns the document length in tokens.
func (m *MemoryIndex) AddDocument(doc int32, fields []FieldText) int {
	termData := make(map[string]*Posting)
	length := 0
	for _, f := range fields {
		for _, token := range tokenizer.Tokenize(f.Text) {
			p, exists := termData[token.Term]
			if !exists {
				p = &Posting{Doc: doc}
				termData[token.Term] = p
			}
			p.Frequency++
			p.Fields |= f.Field
			if f.Field == FieldReadme {
				p.Positions = append(p.Positions, token.Position)
			}
			length++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for term, posting := range termData {
		docs, exists := m.index[term]
		if !exists {
			docs = make(map[int32]*Posting)
			m.index[term] = docs
		}
		docs[doc] = posting
	}
	m.docLens[doc] = length
	m.docCount++
	return length
}

// Search returns the postings for an exact term, ordered by document.
func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedPostings(m.index[term])
}

// Snapshot returns every term with its postings, terms ascending and
// postings by document ordinal.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: sortedPostings(docs),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// DocLen returns the token count recorded for doc.
func (m *MemoryIndex) DocLen(doc int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docLens[doc]
}

func (m *MemoryIndex) DocCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docCount
}

func sortedPostings(docs map[int32]*Posting) PostingList {
	if len(docs) == 0 {
		return nil
	}
	postings := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		postings = append(postings, *posting)
	}
	sort.Slice(postings, func(i, j int) bool {
		return postings[i].Doc < postings[j].Doc
	})
	return postings
}
