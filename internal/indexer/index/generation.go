package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
)

// NullInt marks a missing value in an integer column.
const NullInt int64 = math.MinInt64

// Columns holds per-document attributes used for filtering and sorting,
// indexed by document ordinal.
type Columns struct {
	RepoID     []int64  `json:"repo_id"`
	ListID     []int64  `json:"list_id"`
	Stars      []int64  `json:"stars"`
	LastCommit []int64  `json:"last_commit"`
	Language   []string `json:"language"`
	Category   []string `json:"category"`
	DocLen     []int    `json:"doc_len"`
}

// Len returns the number of documents described by the columns.
func (c *Columns) Len() int { return len(c.RepoID) }

// Parts are the pieces the builder assembles into a Generation.
type Parts struct {
	Snapshot *catalog.Snapshot
	Terms    []TermEntry
	Columns  Columns
	Hash     string
	Size     int64
	BuiltAt  time.Time
}

// Generation is an immutable, fully built index over one catalog snapshot.
// Document ordinals are positions in Snapshot().Repositories().
type Generation struct {
	snapshot  *catalog.Snapshot
	terms     []TermEntry
	cols      Columns
	avgDocLen float64
	byStars   []int32
	byList    map[int64][]int32
	hash      string
	size      int64
	builtAt   time.Time
}

func NewGeneration(p Parts) *Generation {
	g := &Generation{
		snapshot: p.Snapshot,
		terms:    p.Terms,
		cols:     p.Columns,
		hash:     p.Hash,
		size:     p.Size,
		builtAt:  p.BuiltAt,
		byList:   make(map[int64][]int32),
	}
	n := g.cols.Len()
	var total int
	for _, l := range g.cols.DocLen {
		total += l
	}
	if n > 0 {
		g.avgDocLen = float64(total) / float64(n)
	}

	g.byStars = make([]int32, n)
	for i := range g.byStars {
		g.byStars[i] = int32(i)
	}
	sort.SliceStable(g.byStars, func(i, j int) bool {
		return g.starsLess(g.byStars[i], g.byStars[j])
	})
	for _, doc := range g.byStars {
		listID := g.cols.ListID[doc]
		g.byList[listID] = append(g.byList[listID], doc)
	}
	return g
}

// starsLess orders by stars descending with nulls last, then name, then id.
func (g *Generation) starsLess(a, b int32) bool {
	sa, sb := g.cols.Stars[a], g.cols.Stars[b]
	if sa != sb {
		return sa > sb
	}
	if g.snapshot != nil {
		repos := g.snapshot.Repositories()
		if na, nb := repos[a].Name, repos[b].Name; na != nb {
			return na < nb
		}
	}
	return g.cols.RepoID[a] < g.cols.RepoID[b]
}

// Validate checks the structural invariants the query engine relies on.
func (g *Generation) Validate() error {
	if g == nil {
		return errors.New("nil generation")
	}
	if g.snapshot == nil {
		return errors.New("generation has no snapshot")
	}
	if g.hash == "" {
		return errors.New("generation has no content hash")
	}
	n := len(g.snapshot.Repositories())
	c := &g.cols
	for name, l := range map[string]int{
		"repo_id": len(c.RepoID), "list_id": len(c.ListID), "stars": len(c.Stars),
		"last_commit": len(c.LastCommit), "language": len(c.Language),
		"category": len(c.Category), "doc_len": len(c.DocLen),
	} {
		if l != n {
			return fmt.Errorf("column %s has %d rows, snapshot has %d documents", name, l, n)
		}
	}
	for i, r := range g.snapshot.Repositories() {
		if c.RepoID[i] != r.ID {
			return fmt.Errorf("ordinal %d maps to repository %d, snapshot has %d", i, c.RepoID[i], r.ID)
		}
	}
	for i, e := range g.terms {
		if i > 0 && g.terms[i-1].Term >= e.Term {
			return fmt.Errorf("dictionary not strictly sorted at %q", e.Term)
		}
		if len(e.Postings) == 0 {
			return fmt.Errorf("term %q has no postings", e.Term)
		}
		for j, p := range e.Postings {
			if p.Doc < 0 || int(p.Doc) >= n {
				return fmt.Errorf("term %q references document %d out of range", e.Term, p.Doc)
			}
			if j > 0 && e.Postings[j-1].Doc >= p.Doc {
				return fmt.Errorf("postings for %q not ordered by document", e.Term)
			}
		}
	}
	return nil
}

func (g *Generation) Snapshot() *catalog.Snapshot { return g.snapshot }
func (g *Generation) Terms() []TermEntry          { return g.terms }
func (g *Generation) Columns() *Columns           { return &g.cols }
func (g *Generation) DocCount() int               { return g.cols.Len() }
func (g *Generation) AvgDocLen() float64          { return g.avgDocLen }
func (g *Generation) Hash() string                { return g.hash }
func (g *Generation) Size() int64                 { return g.size }
func (g *Generation) BuiltAt() time.Time          { return g.builtAt }

// Version is the short content hash exposed to clients.
func (g *Generation) Version() string {
	if len(g.hash) > 16 {
		return g.hash[:16]
	}
	return g.hash
}

// Expand returns the dictionary entries whose term starts with prefix.
// The returned slice aliases the dictionary.
func (g *Generation) Expand(prefix string) []TermEntry {
	lo := sort.Search(len(g.terms), func(i int) bool {
		return g.terms[i].Term >= prefix
	})
	rest := g.terms[lo:]
	hi := sort.Search(len(rest), func(i int) bool {
		return !strings.HasPrefix(rest[i].Term, prefix)
	})
	return rest[:hi]
}

// Lookup returns the postings of an exact term.
func (g *Generation) Lookup(term string) PostingList {
	i := sort.Search(len(g.terms), func(i int) bool {
		return g.terms[i].Term >= term
	})
	if i < len(g.terms) && g.terms[i].Term == term {
		return g.terms[i].Postings
	}
	return nil
}

// Repository returns the repository behind a document ordinal.
func (g *Generation) Repository(doc int32) catalog.Repository {
	return g.snapshot.Repositories()[doc]
}

// Ordinal maps a repository id to its document ordinal.
func (g *Generation) Ordinal(repoID int64) (int32, bool) {
	ids := g.cols.RepoID
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= repoID })
	if i < len(ids) && ids[i] == repoID {
		return int32(i), true
	}
	return 0, false
}

// ByStars lists every document ordinal by stars descending, nulls last.
func (g *Generation) ByStars() []int32 { return g.byStars }

// ByList lists a list's documents in the same order as ByStars.
func (g *Generation) ByList(listID int64) []int32 { return g.byList[listID] }
