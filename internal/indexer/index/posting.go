package index

import (
	"cmp"
	"slices"
)

// Field identifies which part of a SearchDocument a term occurred in.
type Field uint8

const (
	FieldName Field = 1 << iota
	FieldDescription
	FieldReadme
	FieldTags
	FieldCategories
)

// Posting records one document's occurrences of a term. Positions are token
// positions inside the README body and are kept for snippet extraction;
// occurrences in other fields only count towards Frequency.
type Posting struct {
	Doc       int32 `json:"d"`
	Frequency int   `json:"f"`
	Fields    Field `json:"m"`
	Positions []int `json:"p,omitempty"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string      `json:"t"`
	Postings PostingList `json:"p"`
}

// FieldText is one field of a document handed to the index.
type FieldText struct {
	Field Field
	Text  string
}

// Union merges posting lists into one list ordered by document. Postings for
// the same document are combined: frequencies add up, field masks are OR-ed
// and README positions are merged in order.
func Union(lists ...PostingList) PostingList {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return lists[0]
	}
	byDoc := make(map[int32]*Posting)
	var docs []int32
	for _, list := range lists {
		for _, p := range list {
			acc, ok := byDoc[p.Doc]
			if !ok {
				cp := Posting{Doc: p.Doc}
				acc = &cp
				byDoc[p.Doc] = acc
				docs = append(docs, p.Doc)
			}
			acc.Frequency += p.Frequency
			acc.Fields |= p.Fields
			acc.Positions = append(acc.Positions, p.Positions...)
		}
	}
	slices.Sort(docs)
	out := make(PostingList, len(docs))
	for i, doc := range docs {
		p := byDoc[doc]
		slices.Sort(p.Positions)
		out[i] = *p
	}
	return out
}

// Find returns the posting for doc, if the list has one.
func (pl PostingList) Find(doc int32) (Posting, bool) {
	i, ok := slices.BinarySearchFunc(pl, doc, func(p Posting, d int32) int {
		return cmp.Compare(p.Doc, d)
	})
	if !ok {
		return Posting{}, false
	}
	return pl[i], true
}
