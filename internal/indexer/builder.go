// Package indexer turns catalog snapshots into searchable index generations
// and keeps the published generation fresh.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

// Build is the outcome of one successful build.
type Build struct {
	Generation *index.Generation
	Artifact   []byte
}

// Builder tokenizes every repository of a snapshot into one generation.
type Builder struct {
	workers int
	now     func() time.Time
	logger  *slog.Logger
}

// NewBuilder creates a Builder using up to workers goroutines for
// tokenization; workers <= 0 uses GOMAXPROCS.
func NewBuilder(workers int) *Builder {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Builder{
		workers: workers,
		now:     time.Now,
		logger:  slog.Default().With("component", "index-builder"),
	}
}

// Build indexes snap. Failures wrap apperrors.ErrBuildFailed; nothing is
// published here, so a failed build never affects serving.
func (b *Builder) Build(ctx context.Context, snap *catalog.Snapshot) (*Build, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", apperrors.ErrBuildFailed)
	}
	start := time.Now()
	repos := snap.Repositories()
	mem := index.NewMemoryIndex()
	cols := newColumns(len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range repos {
		if err := gctx.Err(); err != nil {
			break
		}
		doc := int32(i)
		fields := searchDocument(snap, repos[i])
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cols.DocLen[doc] = mem.AddDocument(doc, fields)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: tokenizing documents: %w", apperrors.ErrBuildFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err)
	}

	for i, r := range repos {
		cols.RepoID[i] = r.ID
		cols.ListID[i] = r.ListID
		cols.Stars[i] = nullableInt(r.Stars)
		cols.LastCommit[i] = index.NullInt
		if r.LastCommit != nil {
			cols.LastCommit[i] = r.LastCommit.Unix()
		}
		cols.Language[i] = catalog.Str(r.Language)
		if l, err := snap.List(r.ListID); err == nil {
			cols.Category[i] = catalog.Str(l.Category)
		}
	}

	terms := mem.Snapshot()
	data, err := segment.Encode(segment.Input{
		SnapshotID: snap.ID(),
		Terms:      terms,
		Columns:    cols,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err)
	}

	gen := index.NewGeneration(index.Parts{
		Snapshot: snap,
		Terms:    terms,
		Columns:  cols,
		Hash:     segment.Hash(data),
		Size:     int64(len(data)),
		BuiltAt:  b.now().UTC(),
	})
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err)
	}

	b.logger.Info("generation built",
		"version", gen.Version(),
		"snapshot_id", snap.ID(),
		"documents", gen.DocCount(),
		"terms", len(terms),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Build{Generation: gen, Artifact: data}, nil
}

// searchDocument projects a repository onto the fields that get indexed:
// name, description, README body, topics and the owning list's category.
func searchDocument(snap *catalog.Snapshot, r catalog.Repository) []index.FieldText {
	fields := []index.FieldText{
		{Field: index.FieldName, Text: r.Name},
		{Field: index.FieldDescription, Text: catalog.Str(r.Description)},
	}
	if rd, ok := snap.Readme(r.ID); ok {
		fields = append(fields, index.FieldText{Field: index.FieldReadme, Text: rd.Text()})
	}
	if topics := r.TopicList(); len(topics) > 0 {
		fields = append(fields, index.FieldText{Field: index.FieldTags, Text: strings.Join(topics, " ")})
	}
	if l, err := snap.List(r.ListID); err == nil && l.Category != nil {
		fields = append(fields, index.FieldText{Field: index.FieldCategories, Text: *l.Category})
	}
	return fields
}

func newColumns(n int) index.Columns {
	return index.Columns{
		RepoID:     make([]int64, n),
		ListID:     make([]int64, n),
		Stars:      make([]int64, n),
		LastCommit: make([]int64, n),
		Language:   make([]string, n),
		Category:   make([]string, n),
		DocLen:     make([]int, n),
	}
}

func nullableInt(v *int64) int64 {
	if v == nil {
		return index.NullInt
	}
	return *v
}
