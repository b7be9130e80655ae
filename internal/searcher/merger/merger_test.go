package merger

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

type scored struct {
	id    int
	score float64
}

func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

func TestTopKMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	items := make([]scored, 500)
	for i := range items {
		items[i] = scored{id: i, score: float64(rng.Intn(40))}
	}
	sorted := append([]scored(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return better(sorted[i], sorted[j]) })

	for _, k := range []int{1, 7, 50, 499, 500, 800} {
		got := TopK(items, k, better)
		want := sorted
		if k < len(sorted) {
			want = sorted[:k]
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("TopK(k=%d) differs from a full sort", k)
		}
	}
}

func TestTopKEdges(t *testing.T) {
	if got := TopK([]scored{{1, 1}}, 0, better); len(got) != 0 {
		t.Errorf("k=0 returned %v", got)
	}
	if got := TopK(nil, 5, better); got == nil || len(got) != 0 {
		t.Errorf("empty input should give an empty, non-nil slice: %v", got)
	}
	in := []scored{{2, 1}, {1, 3}}
	TopK(in, 5, better)
	if in[0].id != 2 {
		t.Error("TopK must not reorder its input")
	}
}
