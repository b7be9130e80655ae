package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog/catalogtest"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

func buildGeneration(tb testing.TB, f catalogtest.Fixture) *index.Generation {
	tb.Helper()
	build, err := indexer.NewBuilder(2).Build(context.Background(), f.Snapshot(tb))
	if err != nil {
		tb.Fatalf("build: %v", err)
	}
	return build.Generation
}

func newEngine() *executor.Engine {
	return executor.New(config.SearchConfig{})
}

func names(results []executor.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.RepositoryName
	}
	return out
}

func equal(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}

func TestSearchPrefixAndFilters(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	e := newEngine()

	tests := []struct {
		name      string
		req       executor.Request
		wantTotal int
		wantNames []string
	}{
		{
			name:      "prefix matches every expansion",
			req:       executor.Request{Query: "kube", SortBy: executor.SortStars},
			wantTotal: 3,
			wantNames: []string{"kubernetes", "helm", "kube-state-metrics"},
		},
		{
			name:      "language filter",
			req:       executor.Request{Query: "redux", Language: "TypeScript"},
			wantTotal: 1,
			wantNames: []string{"redux-toolkit"},
		},
		{
			name:      "min stars is inclusive",
			req:       executor.Request{Query: "kube", MinStars: catalogtest.Ptr[int64](26000), SortBy: executor.SortStars},
			wantTotal: 2,
			wantNames: []string{"kubernetes", "helm"},
		},
		{
			name:      "min stars drops the smaller redux",
			req:       executor.Request{Query: "redux", MinStars: catalogtest.Ptr[int64](5000)},
			wantTotal: 1,
			wantNames: []string{"redux"},
		},
		{
			name:      "category filter",
			req:       executor.Request{Query: "kube", Category: "Databases"},
			wantTotal: 0,
			wantNames: []string{},
		},
		{
			name:      "missing stars never pass a star filter",
			req:       executor.Request{Query: "tiny", MinStars: catalogtest.Ptr[int64](0)},
			wantTotal: 0,
			wantNames: []string{},
		},
		{
			name:      "stars sort",
			req:       executor.Request{Query: "redux", SortBy: executor.SortStars},
			wantTotal: 2,
			wantNames: []string{"redux", "redux-toolkit"},
		},
		{
			name:      "recent sort",
			req:       executor.Request{Query: "redux", SortBy: executor.SortRecent},
			wantTotal: 2,
			wantNames: []string{"redux-toolkit", "redux"},
		},
		{
			name:      "recent sort puts unknown commit dates last",
			req:       executor.Request{Query: "kube", SortBy: executor.SortRecent},
			wantTotal: 3,
			wantNames: []string{"kubernetes", "helm", "kube-state-metrics"},
		},
		{
			name:      "tokens are or-ed",
			req:       executor.Request{Query: "helm pgx", SortBy: executor.SortStars},
			wantTotal: 2,
			wantNames: []string{"helm", "pgx"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Page, tt.req.PageSize = 1, 20
			page, err := e.Search(context.Background(), gen, tt.req)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if page.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", page.Total, tt.wantTotal)
			}
			if got := names(page.Results); !equal(got, tt.wantNames) {
				t.Errorf("results = %v, want %v", got, tt.wantNames)
			}
		})
	}
}

func TestSearchResultFields(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	page, err := newEngine().Search(context.Background(), gen, executor.Request{Query: "containerized", Page: 1, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Results) != 1 {
		t.Fatalf("results = %v", names(page.Results))
	}
	r := page.Results[0]
	if r.RepositoryID != 20 || r.RepositoryURL != "https://github.com/kubernetes/kubernetes" {
		t.Errorf("unexpected repository %+v", r)
	}
	if r.AwesomeListName == nil || *r.AwesomeListName != "awesome-kubernetes" {
		t.Errorf("awesome_list_name = %v", r.AwesomeListName)
	}
	if r.AwesomeListCategory == nil || *r.AwesomeListCategory != "DevOps" {
		t.Errorf("awesome_list_category = %v", r.AwesomeListCategory)
	}
	if r.Rank >= 0 {
		t.Errorf("rank = %v, want negative", r.Rank)
	}
	if r.Snippet == nil || !strings.Contains(*r.Snippet, "<mark>containerized</mark>") {
		t.Errorf("snippet = %v", r.Snippet)
	}
}

func TestSnippetNullWithoutReadme(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	page, err := newEngine().Search(context.Background(), gen, executor.Request{Query: "helm", Page: 1, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Results) != 1 || page.Results[0].Snippet != nil {
		t.Fatalf("expected helm without snippet, got %+v", page.Results)
	}
}

func TestRankIsMonotonic(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	page, err := newEngine().Search(context.Background(), gen, executor.Request{Query: "redux state", Page: 1, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total < 2 {
		t.Fatalf("expected several matches, got %d", page.Total)
	}
	for i := 1; i < len(page.Results); i++ {
		if page.Results[i].Rank < page.Results[i-1].Rank {
			t.Fatalf("rank decreased at %d: %v", i, names(page.Results))
		}
	}
}

func TestPaginationCoversResultSetOnce(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Generated(200))
	e := newEngine()

	for _, sortBy := range []string{executor.SortRelevance, executor.SortStars, executor.SortRecent} {
		t.Run(sortBy, func(t *testing.T) {
			seen := make(map[int64]bool)
			var total, pages int
			for p := 1; ; p++ {
				page, err := e.Search(context.Background(), gen, executor.Request{
					Query: "tool", SortBy: sortBy, Page: p, PageSize: 7,
				})
				if err != nil {
					t.Fatal(err)
				}
				total, pages = page.Total, page.TotalPages
				if len(page.Results) == 0 {
					if p != pages+1 {
						t.Fatalf("empty page %d, totalPages %d", p, pages)
					}
					break
				}
				for _, r := range page.Results {
					if seen[r.RepositoryID] {
						t.Fatalf("repository %d returned twice", r.RepositoryID)
					}
					seen[r.RepositoryID] = true
				}
			}
			if total != 200 || len(seen) != total {
				t.Fatalf("total = %d, distinct results = %d", total, len(seen))
			}
			if pages != 29 {
				t.Errorf("totalPages = %d, want 29", pages)
			}
		})
	}
}

func TestOutOfRangePageKeepsTotals(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	tests := []struct {
		name           string
		page, pageSize int
		wantPages      int
	}{
		{"just past the end", 9, 2, 2},
		{"offset would wrap negative", 461168601842738792, 20, 1},
		{"offset overflows int", 1<<62 + 1, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := newEngine().Search(context.Background(), gen,
				executor.Request{Query: "kube", Page: tt.page, PageSize: tt.pageSize})
			if err != nil {
				t.Fatal(err)
			}
			if page.Results == nil || len(page.Results) != 0 {
				t.Fatalf("results = %v, want empty slice", names(page.Results))
			}
			if page.Total != 3 || page.TotalPages != tt.wantPages {
				t.Errorf("total = %d totalPages = %d", page.Total, page.TotalPages)
			}
		})
	}
}

func TestEmptyCorpusSearch(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Fixture{})
	page, err := newEngine().Search(context.Background(), gen, executor.Request{Query: "redux", Page: 1, PageSize: 20})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if page.Results == nil || len(page.Results) != 0 {
		t.Fatalf("results = %v, want empty slice", page.Results)
	}
	if page.Total != 0 || page.TotalPages != 0 {
		t.Errorf("total = %d totalPages = %d, want 0 and 0", page.Total, page.TotalPages)
	}
}

func TestPrefixDoesNotLeakAcrossLists(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	page, err := newEngine().Search(context.Background(), gen, executor.Request{Query: "kube", Page: 1, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range page.Results {
		if r.RepositoryName == "postgres" {
			t.Fatalf("kube retrieved postgres: %v", names(page.Results))
		}
	}
}

func TestSearchRequestValidation(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	e := newEngine()

	for _, req := range []executor.Request{
		{Query: "   ", Page: 1, PageSize: 20},
		{Query: "redux", Page: 0, PageSize: 20},
		{Query: "redux", Page: 1, PageSize: 0},
		{Query: "redux", Page: 1, PageSize: 20, SortBy: "popular"},
	} {
		if _, err := e.Search(context.Background(), gen, req); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("%+v: err = %v, want ErrInvalidInput", req, err)
		}
	}

	page, err := e.Search(context.Background(), gen, executor.Request{Query: "?!", Page: 1, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 || page.TotalPages != 0 || len(page.Results) != 0 {
		t.Errorf("separator-only query should be empty, got %+v", page)
	}

	page, err = e.Search(context.Background(), gen, executor.Request{Query: "redux", Page: 1, PageSize: 500})
	if err != nil {
		t.Fatal(err)
	}
	if page.PageSize != 100 {
		t.Errorf("page size = %d, want clamp to 100", page.PageSize)
	}
}

func TestSearchHonoursCancellation(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine().Search(ctx, gen, executor.Request{Query: "kube", Page: 1, PageSize: 20})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLists(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	e := newEngine()

	lists := e.Lists(gen, "")
	var got []string
	for _, l := range lists {
		got = append(got, l.Name)
	}
	if want := []string{"awesome-react", "awesome-kubernetes", "awesome-postgres"}; !equal(got, want) {
		t.Errorf("lists = %v, want %v", got, want)
	}
	if devops := e.Lists(gen, "DevOps"); len(devops) != 1 || devops[0].ID != 2 {
		t.Errorf("category filter returned %+v", devops)
	}
}

func TestListRepositories(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	e := newEngine()

	list, page, err := e.ListRepositories(gen, 2, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if list.Name != "awesome-kubernetes" {
		t.Errorf("list = %q", list.Name)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Results) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Results[0].Name != "kubernetes" || page.Results[1].Name != "helm" {
		t.Errorf("order = %s, %s", page.Results[0].Name, page.Results[1].Name)
	}

	for _, p := range []int{3, 461168601842738792, 1<<62 + 1} {
		_, far, err := e.ListRepositories(gen, 2, p, 2)
		if err != nil {
			t.Fatalf("page %d: %v", p, err)
		}
		if len(far.Results) != 0 || far.Total != 3 || far.TotalPages != 2 {
			t.Errorf("page %d: %+v", p, far)
		}
	}

	if _, _, err := e.ListRepositories(gen, 99, 1, 50); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing list: err = %v", err)
	}
	if _, _, err := e.ListRepositories(gen, 2, 0, 50); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("bad page: err = %v", err)
	}
}

func TestRepositoryDetail(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	e := newEngine()

	detail, err := e.Repository(gen, 10)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Readme == nil || detail.Readme.Content == nil || !strings.HasPrefix(*detail.Readme.Content, "# Redux") {
		t.Errorf("readme = %+v", detail.Readme)
	}
	if detail.AwesomeListName == nil || *detail.AwesomeListName != "awesome-react" {
		t.Errorf("awesome_list_name = %v", detail.AwesomeListName)
	}

	helm, err := e.Repository(gen, 22)
	if err != nil {
		t.Fatal(err)
	}
	if helm.Readme != nil {
		t.Errorf("helm has no readme, got %+v", helm.Readme)
	}
	if _, err := e.Repository(gen, 999); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFacetsAndStats(t *testing.T) {
	gen := buildGeneration(t, catalogtest.Sample())
	e := newEngine()

	var cats []string
	for _, c := range e.Categories(gen) {
		cats = append(cats, c.Name)
	}
	if want := []string{"Databases", "DevOps", "Front-End Development"}; !equal(cats, want) {
		t.Errorf("categories = %v, want %v", cats, want)
	}

	langs := e.Languages(gen)
	if len(langs) != 4 || langs[0] != (executor.Count{Name: "Go", Count: 4}) || langs[1] != (executor.Count{Name: "TypeScript", Count: 2}) {
		t.Errorf("languages = %+v", langs)
	}

	stats := e.Stats(gen)
	if stats.TotalLists != 3 || stats.TotalRepositories != 9 || stats.TotalReadmes != 4 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastUpdated == nil || !stats.LastUpdated.Equal(time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("lastUpdated = %v", stats.LastUpdated)
	}

	var trending []string
	for _, r := range e.Trending(gen, 3) {
		trending = append(trending, r.Name)
	}
	if want := []string{"kubernetes", "react-query", "helm"}; !equal(trending, want) {
		t.Errorf("trending = %v, want %v", trending, want)
	}
	if all := e.Trending(gen, 100); len(all) != 8 {
		t.Errorf("trending should skip unstarred repositories, got %d", len(all))
	}
}

func BenchmarkSearch(b *testing.B) {
	gen := buildGeneration(b, catalogtest.Generated(5000))
	e := newEngine()
	req := executor.Request{Query: "search index", Page: 1, PageSize: 20}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(context.Background(), gen, req); err != nil {
			b.Fatal(err)
		}
	}
}
