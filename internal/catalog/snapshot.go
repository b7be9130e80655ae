package catalog

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

var (
	ErrNotFound        = fmt.Errorf("catalog: %w", apperrors.ErrNotFound)
	ErrCorruptSnapshot = errors.New("catalog: corrupt snapshot")
	ErrStoreMissing    = errors.New("catalog: document store missing")
)

// Snapshot is an immutable view of the document store. All slices are
// ordered by id and must not be modified by callers.
type Snapshot struct {
	id      string
	lists   []List
	repos   []Repository
	readmes []Readme

	listIdx     map[int64]int
	repoIdx     map[int64]int
	readmeIdx   map[int64]int
	reposByList map[int64][]int
}

// NewSnapshot validates the rows and freezes them into a Snapshot. The
// input slices are copied and sorted by id. Referential problems (a
// repository pointing at a missing list, duplicate URLs, two READMEs for one
// repository, README for an unknown repository) yield ErrCorruptSnapshot.
func NewSnapshot(lists []List, repos []Repository, readmes []Readme) (*Snapshot, error) {
	s := &Snapshot{
		lists:       slices.Clone(lists),
		repos:       slices.Clone(repos),
		readmes:     slices.Clone(readmes),
		listIdx:     make(map[int64]int, len(lists)),
		repoIdx:     make(map[int64]int, len(repos)),
		readmeIdx:   make(map[int64]int, len(readmes)),
		reposByList: make(map[int64][]int),
	}
	slices.SortFunc(s.lists, func(a, b List) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.repos, func(a, b Repository) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.readmes, func(a, b Readme) int { return cmp.Compare(a.RepositoryID, b.RepositoryID) })

	var problems []string
	listURLs := make(map[string]int64, len(s.lists))
	for i, l := range s.lists {
		if _, dup := s.listIdx[l.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate list id %d", l.ID))
			continue
		}
		s.listIdx[l.ID] = i
		if other, dup := listURLs[l.URL]; dup {
			problems = append(problems, fmt.Sprintf("lists %d and %d share url %q", other, l.ID, l.URL))
		}
		listURLs[l.URL] = l.ID
	}

	repoURLs := make(map[string]int64, len(s.repos))
	for i, r := range s.repos {
		if _, dup := s.repoIdx[r.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate repository id %d", r.ID))
			continue
		}
		s.repoIdx[r.ID] = i
		if other, dup := repoURLs[r.URL]; dup {
			problems = append(problems, fmt.Sprintf("repositories %d and %d share url %q", other, r.ID, r.URL))
		}
		repoURLs[r.URL] = r.ID
		if _, ok := s.listIdx[r.ListID]; !ok {
			problems = append(problems, fmt.Sprintf("repository %d references missing list %d", r.ID, r.ListID))
			continue
		}
		s.reposByList[r.ListID] = append(s.reposByList[r.ListID], i)
	}

	for i, rd := range s.readmes {
		if _, ok := s.repoIdx[rd.RepositoryID]; !ok {
			problems = append(problems, fmt.Sprintf("readme %d references missing repository %d", rd.ID, rd.RepositoryID))
			continue
		}
		if _, dup := s.readmeIdx[rd.RepositoryID]; dup {
			problems = append(problems, fmt.Sprintf("repository %d has more than one readme", rd.RepositoryID))
			continue
		}
		s.readmeIdx[rd.RepositoryID] = i
	}

	if len(problems) > 0 {
		const maxShown = 5
		shown := problems
		if len(shown) > maxShown {
			shown = shown[:maxShown]
		}
		return nil, fmt.Errorf("%w: %d problem(s): %s", ErrCorruptSnapshot, len(problems), strings.Join(shown, "; "))
	}

	id, err := s.fingerprint()
	if err != nil {
		return nil, err
	}
	s.id = id
	return s, nil
}

// fingerprint hashes the canonical JSON encoding of every row, so two
// snapshots with the same content share an id regardless of load order.
func (s *Snapshot) fingerprint() (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, part := range []any{s.lists, s.repos, s.readmes} {
		if err := enc.Encode(part); err != nil {
			return "", fmt.Errorf("fingerprinting snapshot: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ID identifies the snapshot's content.
func (s *Snapshot) ID() string { return s.id }

// Empty reports whether the snapshot has no searchable repositories.
func (s *Snapshot) Empty() bool { return len(s.repos) == 0 }

func (s *Snapshot) Lists() []List               { return s.lists }
func (s *Snapshot) Repositories() []Repository { return s.repos }
func (s *Snapshot) Readmes() []Readme           { return s.readmes }

func (s *Snapshot) List(id int64) (List, error) {
	i, ok := s.listIdx[id]
	if !ok {
		return List{}, fmt.Errorf("list %d: %w", id, ErrNotFound)
	}
	return s.lists[i], nil
}

func (s *Snapshot) Repository(id int64) (Repository, error) {
	i, ok := s.repoIdx[id]
	if !ok {
		return Repository{}, fmt.Errorf("repository %d: %w", id, ErrNotFound)
	}
	return s.repos[i], nil
}

// Readme returns the README of a repository, if one was fetched.
func (s *Snapshot) Readme(repoID int64) (Readme, bool) {
	i, ok := s.readmeIdx[repoID]
	if !ok {
		return Readme{}, false
	}
	return s.readmes[i], true
}

// RepositoriesOf returns the repositories belonging to a list, ordered by id.
func (s *Snapshot) RepositoriesOf(listID int64) []Repository {
	idx := s.reposByList[listID]
	out := make([]Repository, len(idx))
	for i, j := range idx {
		out[i] = s.repos[j]
	}
	return out
}
