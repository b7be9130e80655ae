package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/sqlite"
)

// Source loads consistent snapshots of the document store.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
	Info() SourceInfo
	Ping(ctx context.Context) error
	Close() error
}

// SourceInfo describes where snapshots come from. Size and Modified are set
// for file-backed stores only.
type SourceInfo struct {
	Driver   string     `json:"driver"`
	Location string     `json:"location"`
	Size     int64      `json:"size,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
}

// Open returns the Source configured in cfg.Store. For SQLite the file must
// exist; a missing file yields ErrStoreMissing.
func Open(ctx context.Context, cfg *config.Config) (Source, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		src := NewSQLiteSource(cfg.Store.Path)
		if err := src.Ping(ctx); err != nil {
			return nil, err
		}
		return src, nil
	case config.DriverPostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreMissing, err)
		}
		return NewPostgresSource(client), nil
	default:
		return nil, fmt.Errorf("catalog: unsupported store driver %q", cfg.Store.Driver)
	}
}

// SQLiteSource reads a SQLite file. The file is reopened for every load so a
// dataset swapped in by renaming a new file over the old one is picked up.
type SQLiteSource struct {
	path   string
	logger *slog.Logger
}

func NewSQLiteSource(path string) *SQLiteSource {
	return &SQLiteSource{
		path:   path,
		logger: slog.Default().With("component", "catalog", "driver", "sqlite"),
	}
}

func (s *SQLiteSource) open(ctx context.Context) (*sqlite.Client, error) {
	client, err := sqlite.Open(ctx, s.path)
	if err != nil {
		if errors.Is(err, sqlite.ErrMissing) {
			return nil, fmt.Errorf("%w: %v", ErrStoreMissing, err)
		}
		return nil, err
	}
	return client, nil
}

func (s *SQLiteSource) Load(ctx context.Context) (*Snapshot, error) {
	client, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var snap *Snapshot
	err = client.InTx(ctx, func(tx *sql.Tx) error {
		var loadErr error
		snap, loadErr = loadSnapshot(ctx, tx, s.logger)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("loading snapshot from %s: %w", client.Describe(), err)
	}
	return snap, nil
}

func (s *SQLiteSource) Ping(ctx context.Context) error {
	client, err := s.open(ctx)
	if err != nil {
		return err
	}
	return client.Close()
}

func (s *SQLiteSource) Info() SourceInfo {
	info := SourceInfo{Driver: config.DriverSQLite, Location: s.path}
	if st, err := os.Stat(s.path); err == nil {
		mod := st.ModTime().UTC()
		info.Size = st.Size()
		info.Modified = &mod
	}
	return info
}

func (s *SQLiteSource) Close() error { return nil }

// PostgresSource reads a PostgreSQL replica over a pooled connection.
type PostgresSource struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPostgresSource(client *postgres.Client) *PostgresSource {
	return &PostgresSource{
		client: client,
		logger: slog.Default().With("component", "catalog", "driver", "postgres"),
	}
}

func (s *PostgresSource) Load(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = loadSnapshot(ctx, tx, s.logger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading snapshot from %s: %w", s.client.Describe(), err)
	}
	return snap, nil
}

func (s *PostgresSource) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *PostgresSource) Info() SourceInfo {
	return SourceInfo{Driver: config.DriverPostgres, Location: s.client.Describe()}
}

func (s *PostgresSource) Close() error { return s.client.Close() }

// loadSnapshot reads the three tables inside tx. Columns are matched by name
// so older dataset builds without the optional metadata columns still load.
func loadSnapshot(ctx context.Context, tx *sql.Tx, logger *slog.Logger) (*Snapshot, error) {
	var badTimes int
	ts := func(ns sql.NullString) *time.Time {
		t, ok := parseTimestamp(ns)
		if !ok {
			badTimes++
		}
		return t
	}

	listRows, err := scanTable(ctx, tx, "awesome_lists", listColumns, "id", "name", "url")
	if err != nil {
		return nil, err
	}
	lists := make([]List, len(listRows))
	for i, r := range listRows {
		lists[i] = List{
			ID:          r.ID,
			Name:        r.Name,
			URL:         r.URL,
			Description: nullString(r.Description),
			Category:    nullString(r.Category),
			Stars:       nullInt(r.Stars),
			Forks:       nullInt(r.Forks),
			LastCommit:  ts(r.LastCommit),
			Level:       nullInt(r.Level),
			ParentID:    nullInt(r.ParentID),
			AddedAt:     ts(r.AddedAt),
			LastUpdated: ts(r.LastUpdated),
		}
	}

	repoRows, err := scanTable(ctx, tx, "repositories", repoColumns, "id", "awesome_list_id", "name", "url")
	if err != nil {
		return nil, err
	}
	repos := make([]Repository, len(repoRows))
	for i, r := range repoRows {
		repos[i] = Repository{
			ID:          r.ID,
			ListID:      r.ListID,
			Name:        r.Name,
			URL:         r.URL,
			Description: nullString(r.Description),
			Stars:       nullInt(r.Stars),
			Forks:       nullInt(r.Forks),
			Watchers:    nullInt(r.Watchers),
			Language:    nullString(r.Language),
			Topics:      nullString(r.Topics),
			LastCommit:  ts(r.LastCommit),
			CreatedAt:   ts(r.CreatedAt),
			AddedAt:     ts(r.AddedAt),
		}
	}

	readmeRows, err := scanTable(ctx, tx, "readmes", readmeColumns, "repository_id")
	if err != nil {
		return nil, err
	}
	readmes := make([]Readme, len(readmeRows))
	for i, r := range readmeRows {
		readmes[i] = Readme{
			ID:           r.ID,
			RepositoryID: r.RepositoryID,
			Content:      nullString(r.Content),
			RawContent:   nullString(r.RawContent),
			VersionHash:  nullString(r.VersionHash),
			IndexedAt:    ts(r.IndexedAt),
		}
	}

	if badTimes > 0 {
		logger.Warn("unparseable timestamps treated as null", "count", badTimes)
	}
	logger.Info("snapshot loaded", "lists", len(lists), "repositories", len(repos), "readmes", len(readmes))
	return NewSnapshot(lists, repos, readmes)
}

type listRow struct {
	ID                               int64
	Name, URL                        string
	Description, Category            sql.NullString
	Stars, Forks, Level, ParentID    sql.NullInt64
	LastCommit, AddedAt, LastUpdated sql.NullString
}

type repoRow struct {
	ID, ListID                     int64
	Name, URL                      string
	Description, Language, Topics  sql.NullString
	Stars, Forks, Watchers         sql.NullInt64
	LastCommit, CreatedAt, AddedAt sql.NullString
}

type readmeRow struct {
	ID, RepositoryID                 int64
	Content, RawContent, VersionHash sql.NullString
	IndexedAt                        sql.NullString
}

type columns[T any] map[string]func(*T) any

var listColumns = columns[listRow]{
	"id":           func(r *listRow) any { return &r.ID },
	"name":         func(r *listRow) any { return &r.Name },
	"url":          func(r *listRow) any { return &r.URL },
	"description":  func(r *listRow) any { return &r.Description },
	"category":     func(r *listRow) any { return &r.Category },
	"stars":        func(r *listRow) any { return &r.Stars },
	"forks":        func(r *listRow) any { return &r.Forks },
	"level":        func(r *listRow) any { return &r.Level },
	"parent_id":    func(r *listRow) any { return &r.ParentID },
	"last_commit":  func(r *listRow) any { return &r.LastCommit },
	"added_at":     func(r *listRow) any { return &r.AddedAt },
	"last_updated": func(r *listRow) any { return &r.LastUpdated },
}

var repoColumns = columns[repoRow]{
	"id":              func(r *repoRow) any { return &r.ID },
	"awesome_list_id": func(r *repoRow) any { return &r.ListID },
	"name":            func(r *repoRow) any { return &r.Name },
	"url":             func(r *repoRow) any { return &r.URL },
	"description":     func(r *repoRow) any { return &r.Description },
	"stars":           func(r *repoRow) any { return &r.Stars },
	"forks":           func(r *repoRow) any { return &r.Forks },
	"watchers":        func(r *repoRow) any { return &r.Watchers },
	"language":        func(r *repoRow) any { return &r.Language },
	"topics":          func(r *repoRow) any { return &r.Topics },
	"last_commit":     func(r *repoRow) any { return &r.LastCommit },
	"created_at":      func(r *repoRow) any { return &r.CreatedAt },
	"added_at":        func(r *repoRow) any { return &r.AddedAt },
}

var readmeColumns = columns[readmeRow]{
	"id":            func(r *readmeRow) any { return &r.ID },
	"repository_id": func(r *readmeRow) any { return &r.RepositoryID },
	"content":       func(r *readmeRow) any { return &r.Content },
	"raw_content":   func(r *readmeRow) any { return &r.RawContent },
	"version_hash":  func(r *readmeRow) any { return &r.VersionHash },
	"indexed_at":    func(r *readmeRow) any { return &r.IndexedAt },
}

// scanTable reads every row of table ordered by id, binding known columns
// and discarding the rest.
func scanTable[T any](ctx context.Context, tx *sql.Tx, table string, binders columns[T], required ...string) ([]T, error) {
	rows, err := tx.QueryContext(ctx, "SELECT * FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", table, err)
	}
	present := make(map[string]bool, len(cols))
	for i, c := range cols {
		cols[i] = strings.ToLower(c)
		present[cols[i]] = true
	}
	for _, c := range required {
		if !present[c] {
			return nil, fmt.Errorf("table %s is missing required column %q", table, c)
		}
	}

	var out []T
	for rows.Next() {
		var rec T
		dest := make([]any, len(cols))
		for i, c := range cols {
			if bind, ok := binders[c]; ok {
				dest[i] = bind(&rec)
			} else {
				dest[i] = new(any)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}
	return out, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp accepts the formats SQLite's CURRENT_TIMESTAMP, JavaScript's
// toISOString and lib/pq produce. ok is false when a non-empty value could
// not be parsed.
func parseTimestamp(ns sql.NullString) (t *time.Time, ok bool) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, true
	}
	v := strings.TrimSpace(ns.String)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, v); err == nil {
			parsed = parsed.UTC()
			return &parsed, true
		}
	}
	return nil, false
}
