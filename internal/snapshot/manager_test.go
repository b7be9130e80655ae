package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog/catalogtest"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

func build(t *testing.T, f catalogtest.Fixture) *index.Generation {
	t.Helper()
	b, err := indexer.NewBuilder(2).Build(context.Background(), f.Snapshot(t))
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	return b.Generation
}

func TestAcquireBeforePublish(t *testing.T) {
	m := snapshot.NewManager()
	if _, err := m.Acquire(); !errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Fatalf("Acquire() = %v, want ErrIndexUnavailable", err)
	}
	if m.Ready() {
		t.Fatal("manager should not be ready")
	}
	if _, ok := m.Current(); ok {
		t.Fatal("Current() should report nothing published")
	}
}

func TestInFlightLeaseKeepsOldGeneration(t *testing.T) {
	var retired []snapshot.Info
	m := snapshot.NewManager(snapshot.WithOnRetire(func(i snapshot.Info) {
		retired = append(retired, i)
	}))
	oldGen := build(t, catalogtest.Sample())
	newGen := build(t, catalogtest.Generated(20))

	seq, err := m.Publish(oldGen)
	if err != nil || seq != 1 {
		t.Fatalf("Publish() = %d, %v", seq, err)
	}
	inFlight, err := m.Acquire()
	if err != nil {
		t.Fatal(err)
	}

	if seq, err := m.Publish(newGen); err != nil || seq != 2 {
		t.Fatalf("second Publish() = %d, %v", seq, err)
	}
	if inFlight.Generation() != oldGen {
		t.Fatal("in-flight lease must keep the generation it acquired")
	}
	if got := inFlight.Generation().DocCount(); got != 9 {
		t.Fatalf("old generation data changed: %d documents", got)
	}
	if len(retired) != 0 {
		t.Fatal("old generation retired while a lease is open")
	}

	after, _ := m.Acquire()
	if after.Generation() != newGen {
		t.Fatal("queries after publish must see the new generation")
	}
	after.Release()

	inFlight.Release()
	inFlight.Release()
	if len(retired) != 1 || retired[0].Seq != 1 {
		t.Fatalf("retired = %+v, want generation 1 once", retired)
	}
	if info, _ := m.Current(); info.Seq != 2 || info.Version != newGen.Version() {
		t.Errorf("Current() = %+v", info)
	}
}

func TestPublishRejectsInvalidGeneration(t *testing.T) {
	m := snapshot.NewManager()
	good := build(t, catalogtest.Sample())
	m.Publish(good)

	if _, err := m.Publish(index.NewGeneration(index.Parts{})); !errors.Is(err, snapshot.ErrInvalidGeneration) {
		t.Fatalf("Publish(invalid) = %v", err)
	}
	if _, err := m.Publish(nil); !errors.Is(err, snapshot.ErrInvalidGeneration) {
		t.Fatalf("Publish(nil) = %v", err)
	}
	l, _ := m.Acquire()
	defer l.Release()
	if l.Generation() != good || l.Info().Seq != 1 {
		t.Fatal("rejected publish must leave the previous generation current")
	}
}

func TestConcurrentReadersDuringPublish(t *testing.T) {
	var mu sync.Mutex
	retired := 0
	m := snapshot.NewManager(snapshot.WithOnRetire(func(snapshot.Info) {
		mu.Lock()
		retired++
		mu.Unlock()
	}))
	gens := []*index.Generation{
		build(t, catalogtest.Sample()),
		build(t, catalogtest.Generated(30)),
	}
	m.Publish(gens[0])

	const publishes = 50
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				l, err := m.Acquire()
				if err != nil {
					t.Error(err)
					return
				}
				g := l.Generation()
				if l.Info().Version != g.Version() || l.Info().Documents != g.DocCount() {
					t.Error("lease info does not match its generation")
				}
				if len(g.Snapshot().Repositories()) != g.DocCount() {
					t.Error("torn generation observed")
				}
				l.Release()
			}
		}()
	}
	for i := 1; i <= publishes; i++ {
		if _, err := m.Publish(gens[i%2]); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if retired != publishes {
		t.Errorf("retired %d generations, want %d", retired, publishes)
	}
	if info, _ := m.Current(); info.Seq != publishes+1 {
		t.Errorf("Current().Seq = %d", info.Seq)
	}
}
