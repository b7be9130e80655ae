// Package snapshot holds the generation that currently serves queries.
//
// Readers acquire a lease on the current generation without locking; a
// publish swaps the pointer in one atomic store. A replaced generation is
// retired only after its last lease is released, so an in-flight query
// always finishes against the generation it started with.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

var (
	ErrIndexUnavailable  = fmt.Errorf("snapshot: no generation published: %w", apperrors.ErrIndexUnavailable)
	ErrInvalidGeneration = errors.New("snapshot: invalid generation")
)

// Info describes a published generation.
type Info struct {
	Seq        uint64    `json:"generation"`
	Version    string    `json:"version"`
	Hash       string    `json:"hash"`
	SnapshotID string    `json:"snapshot_id"`
	Documents  int       `json:"documents"`
	Size       int64     `json:"size"`
	BuiltAt    time.Time `json:"built_at"`
}

type handle struct {
	gen  *index.Generation
	info Info
	// refs counts the manager's own reference plus every open lease. Once it
	// reaches zero the handle is retired and can never be acquired again.
	refs atomic.Int64
	m    *Manager
}

func (h *handle) release() {
	n := h.refs.Add(-1)
	if n == 0 {
		h.m.retired.Add(1)
		h.m.logger.Info("generation retired", "generation", h.info.Seq, "version", h.info.Version)
		if h.m.onRetire != nil {
			h.m.onRetire(h.info)
		}
	}
	if n < 0 {
		panic("snapshot: generation released more times than acquired")
	}
}

// Lease pins one generation for the duration of a query.
type Lease struct {
	h        *handle
	released atomic.Bool
}

func (l *Lease) Generation() *index.Generation { return l.h.gen }
func (l *Lease) Info() Info                    { return l.h.info }

// Release unpins the generation. Calling it more than once is a no-op.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.h.release()
	}
}

type Manager struct {
	current  atomic.Pointer[handle]
	mu       sync.Mutex
	seq      uint64
	retired  atomic.Int64
	onRetire func(Info)
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithOnRetire registers a callback run when a replaced generation's last
// lease is released.
func WithOnRetire(fn func(Info)) Option {
	return func(m *Manager) { m.onRetire = fn }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default().With("component", "snapshot-manager")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire leases the current generation. The caller must Release it.
func (m *Manager) Acquire() (*Lease, error) {
	for {
		h := m.current.Load()
		if h == nil {
			return nil, ErrIndexUnavailable
		}
		n := h.refs.Load()
		if n <= 0 {
			// Retired between Load and CAS; a newer handle is already current.
			continue
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return &Lease{h: h}, nil
		}
	}
}

// Publish validates gen and makes it current, returning its sequence
// number. An invalid generation is rejected and the current one stays.
func (m *Manager) Publish(gen *index.Generation) (uint64, error) {
	if err := gen.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidGeneration, err)
	}

	m.mu.Lock()
	m.seq++
	h := &handle{
		gen: gen,
		m:   m,
		info: Info{
			Seq:        m.seq,
			Version:    gen.Version(),
			Hash:       gen.Hash(),
			SnapshotID: gen.Snapshot().ID(),
			Documents:  gen.DocCount(),
			Size:       gen.Size(),
			BuiltAt:    gen.BuiltAt(),
		},
	}
	h.refs.Store(1)
	old := m.current.Swap(h)
	m.mu.Unlock()

	m.logger.Info("generation published",
		"generation", h.info.Seq,
		"version", h.info.Version,
		"documents", h.info.Documents,
	)
	if old != nil {
		old.release()
	}
	return h.info.Seq, nil
}

// Current describes the published generation, if any.
func (m *Manager) Current() (Info, bool) {
	h := m.current.Load()
	if h == nil {
		return Info{}, false
	}
	return h.info, true
}

// Ready reports whether a generation has been published.
func (m *Manager) Ready() bool { return m.current.Load() != nil }

// Retired counts generations whose last lease has been released.
func (m *Manager) Retired() int64 { return m.retired.Load() }
