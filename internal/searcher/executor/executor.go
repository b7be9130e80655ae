// Package executor evaluates search requests and browse operations against
// one leased index generation.
package executor

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/snippet"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/tracing"
)

const (
	SortRelevance = "relevance"
	SortStars     = "stars"
	SortRecent    = "recent"
)

// Request is a search with its filters, ordering and page.
type Request struct {
	Query    string `json:"q"`
	Language string `json:"language,omitempty"`
	Category string `json:"category,omitempty"`
	MinStars *int64 `json:"minStars,omitempty"`
	SortBy   string `json:"sortBy,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// SearchResult is one ranked repository. Rank is the negated relevance
// score: lower is better.
type SearchResult struct {
	RepositoryID        int64   `json:"repository_id"`
	RepositoryName      string  `json:"repository_name"`
	RepositoryURL       string  `json:"repository_url"`
	Description         *string `json:"description"`
	Stars               *int64  `json:"stars"`
	Language            *string `json:"language"`
	Topics              *string `json:"topics"`
	AwesomeListName     *string `json:"awesome_list_name"`
	AwesomeListCategory *string `json:"awesome_list_category"`
	Rank                float64 `json:"rank"`
	Snippet             *string `json:"snippet"`
}

// Page is one slice of an ordered result set.
type Page[T any] struct {
	Results    []T `json:"results"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

func newPage[T any](results []T, total, page, pageSize int) *Page[T] {
	if results == nil {
		results = []T{}
	}
	return &Page[T]{
		Results:    results,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// pageOffset returns the index of the first item on page, or false when the
// page lies past the last one. The range check divides so that huge page
// numbers never overflow the multiplication.
func pageOffset(page, pageSize, total int) (int, bool) {
	if page < 1 || page-1 >= totalPages(total, pageSize) {
		return 0, false
	}
	return (page - 1) * pageSize, true
}

type Engine struct {
	cfg    config.SearchConfig
	logger *slog.Logger
}

func New(cfg config.SearchConfig) *Engine {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 50
	}
	if cfg.SnippetTokens <= 0 {
		cfg.SnippetTokens = 32
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = 10
	}
	return &Engine{
		cfg:    cfg,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Config returns the effective settings, defaults applied.
func (e *Engine) Config() config.SearchConfig { return e.cfg }

// Normalize validates req, fills in defaults and clamps the page size. It
// is applied by Search; callers that key caches on requests use it first so
// equivalent requests share a key.
func (e *Engine) Normalize(req Request) (Request, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, apperrors.Invalid("query parameter 'q' is required")
	}
	if req.Page < 1 {
		return req, apperrors.Invalid("page must be a positive integer")
	}
	if req.PageSize < 1 {
		return req, apperrors.Invalid("limit must be a positive integer")
	}
	if req.PageSize > e.cfg.MaxPageSize {
		req.PageSize = e.cfg.MaxPageSize
	}
	switch req.SortBy {
	case "":
		req.SortBy = SortRelevance
	case SortRelevance, SortStars, SortRecent:
	default:
		return req, apperrors.Invalid("sortBy must be one of relevance, stars, recent")
	}
	return req, nil
}

// candidate is a matched document that passed the filters.
type candidate struct {
	doc   int32
	score float64
}

// Search runs req against gen. The total is the size of the filtered match
// set and the page is cut from that same set, so the two always agree.
func (e *Engine) Search(ctx context.Context, gen *index.Generation, req Request) (*Page[SearchResult], error) {
	req, err := e.Normalize(req)
	if err != nil {
		return nil, err
	}
	plan, err := parser.Parse(req.Query)
	if err != nil {
		return nil, err
	}
	if len(plan.Terms) == 0 || gen.DocCount() == 0 {
		return newPage[SearchResult](nil, 0, req.Page, req.PageSize), nil
	}

	_, matchSpan := tracing.StartChildSpan(ctx, "search.match")
	perTerm := make([]index.PostingList, 0, len(plan.Terms))
	for _, term := range plan.Terms {
		expansions := gen.Expand(term)
		lists := make([]index.PostingList, len(expansions))
		for i, entry := range expansions {
			lists[i] = entry.Postings
		}
		perTerm = append(perTerm, index.Union(lists...))
	}
	matchSpan.SetAttr("terms", len(plan.Terms))
	matchSpan.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "search.rank")
	cols := gen.Columns()
	scored := ranker.New(cols.DocLen, gen.AvgDocLen()).Score(perTerm, 0)

	matched := collect(gen, scored, req)
	total := len(matched)
	var top []candidate
	if offset, ok := pageOffset(req.Page, req.PageSize, total); ok {
		top = merger.TopK(matched, offset+req.PageSize, orderFor(gen, req.SortBy))[offset:]
	}
	rankSpan.SetAttr("matched", len(scored))
	rankSpan.SetAttr("total", total)
	rankSpan.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, snippetSpan := tracing.StartChildSpan(ctx, "search.snippet")
	results := make([]SearchResult, 0, len(top))
	for _, c := range top {
		results = append(results, e.result(gen, plan, perTerm, c))
	}
	snippetSpan.End()

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"candidates", len(scored),
		"total", total,
		"returned", len(results),
	)
	return newPage(results, total, req.Page, req.PageSize), nil
}

// collect applies the filters to the scored documents. It is the only place
// that decides membership of the result set.
func collect(gen *index.Generation, scored []ranker.ScoredDoc, req Request) []candidate {
	cols := gen.Columns()
	out := make([]candidate, 0, len(scored))
	for _, s := range scored {
		if req.Language != "" && cols.Language[s.Doc] != req.Language {
			continue
		}
		if req.MinStars != nil {
			stars := cols.Stars[s.Doc]
			if stars == index.NullInt || stars < *req.MinStars {
				continue
			}
		}
		if req.Category != "" && cols.Category[s.Doc] != req.Category {
			continue
		}
		out = append(out, candidate{doc: s.Doc, score: s.Score})
	}
	return out
}

// orderFor returns a strict ordering for sortBy. Every ordering falls back
// to relevance and then to the document ordinal.
func orderFor(gen *index.Generation, sortBy string) func(a, b candidate) bool {
	cols := gen.Columns()
	byRelevance := func(a, b candidate) bool {
		if a.score != b.score {
			return a.score > b.score
		}
		return a.doc < b.doc
	}
	switch sortBy {
	case SortStars:
		return func(a, b candidate) bool {
			if sa, sb := cols.Stars[a.doc], cols.Stars[b.doc]; sa != sb {
				return sa > sb
			}
			return byRelevance(a, b)
		}
	case SortRecent:
		return func(a, b candidate) bool {
			if la, lb := cols.LastCommit[a.doc], cols.LastCommit[b.doc]; la != lb {
				return la > lb
			}
			return byRelevance(a, b)
		}
	default:
		return byRelevance
	}
}

func (e *Engine) result(gen *index.Generation, plan *parser.QueryPlan, perTerm []index.PostingList, c candidate) SearchResult {
	snap := gen.Snapshot()
	repo := gen.Repository(c.doc)
	res := SearchResult{
		RepositoryID:   repo.ID,
		RepositoryName: repo.Name,
		RepositoryURL:  repo.URL,
		Description:    repo.Description,
		Stars:          repo.Stars,
		Language:       repo.Language,
		Topics:         repo.Topics,
		Rank:           -c.score,
	}
	if list, err := snap.List(repo.ListID); err == nil {
		res.AwesomeListName = &list.Name
		res.AwesomeListCategory = list.Category
	}
	if rd, ok := snap.Readme(repo.ID); ok {
		res.Snippet = snippet.Extract(rd.Text(), firstReadmePosition(perTerm, c.doc), e.cfg.SnippetTokens, plan.Matches)
	}
	return res
}

// firstReadmePosition is the earliest README token matched by any query
// term, or -1 when the document matched outside its README.
func firstReadmePosition(perTerm []index.PostingList, doc int32) int {
	first := -1
	for _, postings := range perTerm {
		p, ok := postings.Find(doc)
		if !ok || len(p.Positions) == 0 {
			continue
		}
		if first < 0 || p.Positions[0] < first {
			first = p.Positions[0]
		}
	}
	return first
}

// Lists returns the awesome lists, optionally restricted to one category,
// ordered by stars descending with nulls last, then name.
func (e *Engine) Lists(gen *index.Generation, category string) []catalog.List {
	lists := gen.Snapshot().Lists()
	out := make([]catalog.List, 0, len(lists))
	for _, l := range lists {
		if category != "" && catalog.Str(l.Category) != category {
			continue
		}
		out = append(out, l)
	}
	sortLists(out)
	return out
}

func sortLists(lists []catalog.List) {
	slices.SortStableFunc(lists, func(a, b catalog.List) int {
		if c := compareNullableDesc(a.Stars, b.Stars); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// compareNullableDesc orders larger values first and nil after every value.
func compareNullableDesc(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*b, *a)
}

// ListRepositories returns a list and one page of its repositories ordered
// by stars descending with nulls last.
func (e *Engine) ListRepositories(gen *index.Generation, listID int64, page, pageSize int) (catalog.List, *Page[catalog.Repository], error) {
	if page < 1 {
		return catalog.List{}, nil, apperrors.Invalid("page must be a positive integer")
	}
	if pageSize < 1 {
		return catalog.List{}, nil, apperrors.Invalid("limit must be a positive integer")
	}
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}
	list, err := gen.Snapshot().List(listID)
	if err != nil {
		return catalog.List{}, nil, apperrors.NotFound("List not found")
	}
	docs := gen.ByList(listID)
	repos := make([]catalog.Repository, 0, pageSize)
	if offset, ok := pageOffset(page, pageSize, len(docs)); ok {
		end := min(offset+pageSize, len(docs))
		for _, doc := range docs[offset:end] {
			repos = append(repos, gen.Repository(doc))
		}
	}
	return list, newPage(repos, len(docs), page, pageSize), nil
}

// ReadmeContent is the raw markdown returned with a repository.
type ReadmeContent struct {
	Content *string `json:"content"`
}

// RepositoryDetail is a repository with its owning list and README.
type RepositoryDetail struct {
	catalog.Repository
	AwesomeListName     *string        `json:"awesome_list_name"`
	AwesomeListCategory *string        `json:"awesome_list_category"`
	Readme              *ReadmeContent `json:"readme"`
}

func (e *Engine) Repository(gen *index.Generation, id int64) (*RepositoryDetail, error) {
	snap := gen.Snapshot()
	repo, err := snap.Repository(id)
	if err != nil {
		return nil, apperrors.NotFound("Repository not found")
	}
	detail := &RepositoryDetail{Repository: repo}
	if list, err := snap.List(repo.ListID); err == nil {
		detail.AwesomeListName = &list.Name
		detail.AwesomeListCategory = list.Category
	}
	if rd, ok := snap.Readme(id); ok {
		detail.Readme = &ReadmeContent{Content: rd.RawContent}
	}
	return detail, nil
}

// Count is a named bucket in a facet.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Categories counts lists per category, most common first. Lists without a
// category are left out.
func (e *Engine) Categories(gen *index.Generation) []Count {
	counts := make(map[string]int)
	for _, l := range gen.Snapshot().Lists() {
		if l.Category != nil && *l.Category != "" {
			counts[*l.Category]++
		}
	}
	return rankCounts(counts, 0)
}

// Languages counts repositories per language and keeps the 50 most common.
func (e *Engine) Languages(gen *index.Generation) []Count {
	counts := make(map[string]int)
	for _, lang := range gen.Columns().Language {
		if lang != "" {
			counts[lang]++
		}
	}
	return rankCounts(counts, maxLanguages)
}

const maxLanguages = 50

func rankCounts(counts map[string]int, limit int) []Count {
	out := make([]Count, 0, len(counts))
	for name, n := range counts {
		out = append(out, Count{Name: name, Count: n})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type Stats struct {
	TotalLists        int        `json:"totalLists"`
	TotalRepositories int        `json:"totalRepositories"`
	TotalReadmes      int        `json:"totalReadmes"`
	LastUpdated       *time.Time `json:"lastUpdated"`
}

func (e *Engine) Stats(gen *index.Generation) Stats {
	snap := gen.Snapshot()
	stats := Stats{
		TotalLists:        len(snap.Lists()),
		TotalRepositories: len(snap.Repositories()),
		TotalReadmes:      len(snap.Readmes()),
	}
	for _, l := range snap.Lists() {
		if l.LastUpdated != nil && (stats.LastUpdated == nil || l.LastUpdated.After(*stats.LastUpdated)) {
			t := *l.LastUpdated
			stats.LastUpdated = &t
		}
	}
	return stats
}

// Trending returns the most starred repositories. Repositories without a
// star count are never included. limit <= 0 uses the configured default.
func (e *Engine) Trending(gen *index.Generation, limit int) []catalog.Repository {
	if limit <= 0 {
		limit = e.cfg.TrendingLimit
	}
	stars := gen.Columns().Stars
	out := make([]catalog.Repository, 0, limit)
	for _, doc := range gen.ByStars() {
		if len(out) == limit || stars[doc] == index.NullInt {
			break
		}
		out = append(out, gen.Repository(doc))
	}
	return out
}
