// Package tracing records in-process span trees for sampled requests. A
// search produces one root span with a child per phase, and the whole tree
// is emitted as a single structured log record when the root is logged. A
// nil *Span is a valid no-op span, so unsampled requests cost one context
// lookup per phase.
package tracing

import (
	"context"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed operation. Fields are written by the goroutine that
// owns the span; Children and Attrs are guarded for concurrent children.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any

	mu   sync.Mutex
	slow time.Duration
}

// Tracer decides which requests get a root span.
type Tracer struct {
	enabled    bool
	sampleRate float64
	// Slow promotes trees whose root took at least this long from debug to
	// info level. Zero disables promotion.
	Slow time.Duration
}

func NewTracer(enabled bool, sampleRate float64) *Tracer {
	return &Tracer{enabled: enabled, sampleRate: sampleRate, Slow: 250 * time.Millisecond}
}

// Start opens a root span when tracing is enabled and the request is
// sampled; otherwise ctx is returned unchanged with a nil span.
func (t *Tracer) Start(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, nil
	}
	if t.sampleRate < 1 && rand.Float64() >= t.sampleRate {
		return ctx, nil
	}
	ctx, span := StartSpan(ctx, name, traceID)
	span.slow = t.Slow
	return ctx, span
}

// StartSpan unconditionally opens a root span.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, span), span
}

// StartChildSpan opens a child of the span in ctx, or returns a nil span
// when ctx carries none.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := newSpan(name, parent.TraceID)
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, child), child
}

func newSpan(name, traceID string) *Span {
	return &Span{Name: name, TraceID: traceID, StartTime: time.Now(), Attrs: make(map[string]any)}
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

func (s *Span) End() {
	if s == nil {
		return
	}
	s.Duration = time.Since(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// Log emits the tree rooted at s as one record. Children appear as nested
// groups named after their position and span name.
func (s *Span) Log() {
	if s == nil {
		return
	}
	level := slog.LevelDebug
	if s.slow > 0 && s.Duration >= s.slow {
		level = slog.LevelInfo
	}
	slog.Default().LogAttrs(context.Background(), level, "trace",
		slog.String("trace_id", s.TraceID),
		slog.Group(s.Name, s.attrs()...),
	)
}

func (s *Span) attrs() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{slog.Int64("duration_us", s.Duration.Microseconds())}
	for _, k := range slices.Sorted(maps.Keys(s.Attrs)) {
		out = append(out, slog.Any(k, s.Attrs[k]))
	}
	for _, child := range s.Children {
		out = append(out, slog.Group(child.Name, child.attrs()...))
	}
	return out
}
