package indexer

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog/catalogtest"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/resilience"
)

// fakeLoader returns whatever snapshot or error it currently holds.
type fakeLoader struct {
	mu    sync.Mutex
	snap  *catalog.Snapshot
	errs  []error
	calls int
}

func (f *fakeLoader) Load(ctx context.Context) (*catalog.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.snap, nil
}

func (f *fakeLoader) set(s *catalog.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func newTestRefresher(t *testing.T, loader Loader, cfg config.IndexConfig, opts ...RefresherOption) (*Refresher, *snapshot.Manager) {
	t.Helper()
	m := snapshot.NewManager()
	opts = append([]RefresherOption{WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})}, opts...)
	return NewRefresher(loader, NewBuilder(2), m, cfg, opts...), m
}

func TestRebuildLifecycle(t *testing.T) {
	loader := &fakeLoader{snap: catalogtest.Sample().Snapshot(t)}
	var published []snapshot.Info
	var previous []*snapshot.Info
	hook := func(_ context.Context, cur snapshot.Info, prev *snapshot.Info) {
		published = append(published, cur)
		previous = append(previous, prev)
	}
	reg := prometheus.NewRegistry()
	mtx := metrics.NewWithRegistry(reg)
	r, m := newTestRefresher(t, loader, config.IndexConfig{}, WithPublishHook(hook), WithMetrics(mtx))
	ctx := context.Background()

	out, err := r.Rebuild(ctx)
	if err != nil || out.Status != StatusPublished || out.Current.Seq != 1 {
		t.Fatalf("cold start: %+v, %v", out, err)
	}
	if previous[0] != nil {
		t.Error("cold start has no previous generation")
	}

	out, err = r.Rebuild(ctx)
	if err != nil || out.Status != StatusUnchanged {
		t.Fatalf("same snapshot: %+v, %v", out, err)
	}

	loader.set(catalogtest.Generated(12).Snapshot(t))
	out, err = r.Rebuild(ctx)
	if err != nil || out.Status != StatusPublished || out.Current.Seq != 2 {
		t.Fatalf("new snapshot: %+v, %v", out, err)
	}
	if previous[1] == nil || previous[1].Seq != 1 {
		t.Errorf("hook previous = %+v", previous[1])
	}
	if published[1].Documents != 12 {
		t.Errorf("published documents = %d", published[1].Documents)
	}

	empty, _ := catalog.NewSnapshot(nil, nil, nil)
	loader.set(empty)
	out, err = r.Rebuild(ctx)
	if !errors.Is(err, ErrEmptySnapshot) || out.Status != StatusRejected {
		t.Fatalf("empty over populated: %+v, %v", out, err)
	}
	if info, _ := m.Current(); info.Seq != 2 {
		t.Errorf("rejected rebuild changed the current generation: %+v", info)
	}

	if got := testutil.ToFloat64(mtx.IndexBuildsTotal.WithLabelValues(StatusPublished)); got != 2 {
		t.Errorf("published builds = %v", got)
	}
	if got := testutil.ToFloat64(mtx.IndexDocuments); got != 12 {
		t.Errorf("documents gauge = %v", got)
	}
}

func TestRebuildColdStartEmpty(t *testing.T) {
	empty, _ := catalog.NewSnapshot(nil, nil, nil)
	r, m := newTestRefresher(t, &fakeLoader{snap: empty}, config.IndexConfig{})
	if _, err := r.Rebuild(context.Background()); err != nil {
		t.Fatalf("empty cold start should publish: %v", err)
	}
	if !m.Ready() {
		t.Fatal("manager should be ready after publishing an empty generation")
	}
}

func TestRebuildLoadErrors(t *testing.T) {
	loader := &fakeLoader{errs: []error{catalog.ErrCorruptSnapshot}}
	r, m := newTestRefresher(t, loader, config.IndexConfig{})
	out, err := r.Rebuild(context.Background())
	if !errors.Is(err, catalog.ErrCorruptSnapshot) || out.Status != StatusFailed {
		t.Fatalf("corrupt snapshot: %+v, %v", out, err)
	}
	if loader.calls != 1 {
		t.Errorf("corrupt snapshots must not be retried, loader called %d times", loader.calls)
	}
	if m.Ready() {
		t.Fatal("failed build must not publish")
	}

	loader = &fakeLoader{snap: catalogtest.Sample().Snapshot(t), errs: []error{errors.New("database is locked")}}
	r, _ = newTestRefresher(t, loader, config.IndexConfig{})
	if _, err := r.Rebuild(context.Background()); err != nil {
		t.Fatalf("transient error should be retried: %v", err)
	}
	if loader.calls != 2 {
		t.Errorf("loader called %d times, want 2", loader.calls)
	}
}

func TestRebuildPersistsArtifact(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRefresher(t, &fakeLoader{snap: catalogtest.Sample().Snapshot(t)}, config.IndexConfig{DataDir: dir, KeepArtifacts: 2})
	out, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Artifact == "" {
		t.Fatal("artifact path not reported")
	}
	reader, err := segment.Open(out.Artifact)
	if err != nil {
		t.Fatalf("persisted artifact does not verify: %v", err)
	}
	defer reader.Close()
	hash, _ := reader.Hash()
	if hash != out.Current.Hash || reader.DocCount() != 9 {
		t.Errorf("artifact hash %s, generation hash %s", hash, out.Current.Hash)
	}
	if _, err := os.Stat(out.Artifact + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestStartRebuildsOnTrigger(t *testing.T) {
	loader := &fakeLoader{snap: catalogtest.Sample().Snapshot(t)}
	r, m := newTestRefresher(t, loader, config.IndexConfig{RebuildInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	r.Trigger()
	r.Trigger()
	deadline := time.Now().Add(5 * time.Second)
	for !m.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("trigger did not publish a generation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
