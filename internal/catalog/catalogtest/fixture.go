// Package catalogtest builds small in-memory and on-disk corpora for tests.
package catalogtest

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	_ "modernc.org/sqlite"
)

func Ptr[T any](v T) *T { return &v }

// Date returns a UTC timestamp pointer for yyyy-mm-dd.
func Date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// Fixture is a set of raw rows that can become a Snapshot or a SQLite file.
type Fixture struct {
	Lists   []catalog.List
	Repos   []catalog.Repository
	Readmes []catalog.Readme
}

// Sample is the corpus most tests share:
//
//	list 1 awesome-react (Front-End Development): redux, redux-toolkit, react-query
//	list 2 awesome-kubernetes (DevOps): kubernetes, kube-state-metrics, helm
//	list 3 awesome-postgres (Databases): postgres, pgx, unstarred
func Sample() Fixture {
	return Fixture{
		Lists: []catalog.List{
			{ID: 1, Name: "awesome-react", URL: "https://github.com/enaqx/awesome-react",
				Description: Ptr("A collection of awesome things regarding React ecosystem"),
				Category:    Ptr("Front-End Development"), Stars: Ptr[int64](65000),
				LastUpdated: Date(2024, time.March, 1)},
			{ID: 2, Name: "awesome-kubernetes", URL: "https://github.com/ramitsurana/awesome-kubernetes",
				Description: Ptr("A curated list for awesome kubernetes sources"),
				Category:    Ptr("DevOps"), Stars: Ptr[int64](15000),
				LastUpdated: Date(2024, time.May, 10)},
			{ID: 3, Name: "awesome-postgres", URL: "https://github.com/dhamaniasad/awesome-postgres",
				Description: Ptr("A curated list of awesome PostgreSQL software"),
				Category:    Ptr("Databases"), Stars: Ptr[int64](9000),
				LastUpdated: Date(2024, time.April, 2)},
		},
		Repos: []catalog.Repository{
			{ID: 10, ListID: 1, Name: "redux", URL: "https://github.com/reduxjs/redux",
				Description: Ptr("A JS library for predictable global state management"),
				Stars:       Ptr[int64](8000), Language: Ptr("JavaScript"), Topics: Ptr("redux,state,javascript"),
				LastCommit: Date(2024, time.January, 5)},
			{ID: 11, ListID: 1, Name: "redux-toolkit", URL: "https://github.com/reduxjs/redux-toolkit",
				Description: Ptr("The official, opinionated, batteries-included toolset for efficient Redux development"),
				Stars:       Ptr[int64](3000), Language: Ptr("TypeScript"), Topics: Ptr("redux,toolkit"),
				LastCommit: Date(2024, time.June, 1)},
			{ID: 12, ListID: 1, Name: "react-query", URL: "https://github.com/tanstack/query",
				Description: Ptr("Powerful asynchronous state management for TS/JS"),
				Stars:       Ptr[int64](40000), Language: Ptr("TypeScript"), Topics: Ptr("react,hooks"),
				LastCommit: Date(2024, time.February, 20)},
			{ID: 20, ListID: 2, Name: "kubernetes", URL: "https://github.com/kubernetes/kubernetes",
				Description: Ptr("Production-Grade Container Scheduling and Management"),
				Stars:       Ptr[int64](105000), Language: Ptr("Go"), Topics: Ptr("kubernetes,containers,orchestration"),
				LastCommit: Date(2024, time.June, 2)},
			{ID: 21, ListID: 2, Name: "kube-state-metrics", URL: "https://github.com/kubernetes/kube-state-metrics",
				Description: Ptr("Add-on agent to generate and expose cluster-level metrics"),
				Stars:       Ptr[int64](5000), Language: Ptr("Go"), Topics: Ptr("monitoring"),
				LastCommit: nil},
			{ID: 22, ListID: 2, Name: "helm", URL: "https://github.com/helm/helm",
				Description: Ptr("The Kubernetes Package Manager"),
				Stars:       Ptr[int64](26000), Language: Ptr("Go"), Topics: Ptr("charts"),
				LastCommit: Date(2023, time.December, 24)},
			{ID: 30, ListID: 3, Name: "postgres", URL: "https://github.com/postgres/postgres",
				Description: Ptr("Mirror of the official PostgreSQL GIT repository"),
				Stars:       Ptr[int64](14000), Language: Ptr("C"), Topics: Ptr("database,sql"),
				LastCommit: Date(2024, time.May, 30)},
			{ID: 31, ListID: 3, Name: "pgx", URL: "https://github.com/jackc/pgx",
				Description: Ptr("PostgreSQL driver and toolkit for Go"),
				Stars:       Ptr[int64](9000), Language: Ptr("Go"), Topics: Ptr("postgres,driver"),
				LastCommit: Date(2024, time.April, 11)},
			{ID: 32, ListID: 3, Name: "unstarred", URL: "https://github.com/example/unstarred",
				Description: Ptr("Tiny helper without metrics"),
				Stars:       nil, Language: nil},
		},
		Readmes: []catalog.Readme{
			{ID: 100, RepositoryID: 10,
				Content:    Ptr("Redux is a predictable state container for JavaScript apps. It helps you write applications that behave consistently."),
				RawContent: Ptr("# Redux\n\nRedux is a predictable state container for JavaScript apps.")},
			{ID: 101, RepositoryID: 11,
				Content:    Ptr("Redux Toolkit is the official, opinionated toolset for efficient Redux development."),
				RawContent: Ptr("# Redux Toolkit")},
			{ID: 120, RepositoryID: 20,
				Content:    Ptr("Kubernetes, also known as K8s, is an open source system for managing containerized applications across multiple hosts."),
				RawContent: Ptr("# Kubernetes (K8s)")},
			{ID: 130, RepositoryID: 30,
				Content:    Ptr("This directory contains the source code distribution of the PostgreSQL database management system."),
				RawContent: Ptr("PostgreSQL Database Management System")},
		},
	}
}

// Snapshot freezes f, failing the test on validation errors.
func (f Fixture) Snapshot(tb testing.TB) *catalog.Snapshot {
	tb.Helper()
	snap, err := catalog.NewSnapshot(f.Lists, f.Repos, f.Readmes)
	if err != nil {
		tb.Fatalf("building snapshot: %v", err)
	}
	return snap
}

// Schema is the dataset layout produced by the ingestion tooling.
const Schema = `
CREATE TABLE awesome_lists (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	description TEXT,
	category TEXT,
	stars INTEGER,
	forks INTEGER,
	last_commit TEXT,
	level INTEGER,
	parent_id INTEGER,
	added_at TEXT,
	last_updated TEXT
);
CREATE TABLE repositories (
	id INTEGER PRIMARY KEY,
	awesome_list_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	description TEXT,
	stars INTEGER,
	forks INTEGER,
	watchers INTEGER,
	language TEXT,
	topics TEXT,
	last_commit TEXT,
	created_at TEXT,
	added_at TEXT
);
CREATE TABLE readmes (
	id INTEGER PRIMARY KEY,
	repository_id INTEGER NOT NULL UNIQUE,
	content TEXT,
	raw_content TEXT,
	version_hash TEXT,
	indexed_at TEXT
);
`

// WriteSQLite creates a database file at path holding f's rows.
func (f Fixture) WriteSQLite(tb testing.TB, path string) {
	tb.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(Schema); err != nil {
		tb.Fatalf("creating schema: %v", err)
	}
	exec := func(q string, args ...any) {
		if _, err := db.Exec(q, args...); err != nil {
			tb.Fatalf("%s: %v", q, err)
		}
	}
	for _, l := range f.Lists {
		exec(`INSERT INTO awesome_lists (id, name, url, description, category, stars, last_updated) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.Name, l.URL, l.Description, l.Category, l.Stars, sqlTime(l.LastUpdated))
	}
	for _, r := range f.Repos {
		exec(`INSERT INTO repositories (id, awesome_list_id, name, url, description, stars, language, topics, last_commit) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ListID, r.Name, r.URL, r.Description, r.Stars, r.Language, r.Topics, sqlTime(r.LastCommit))
	}
	for _, rd := range f.Readmes {
		exec(`INSERT INTO readmes (id, repository_id, content, raw_content) VALUES (?, ?, ?, ?)`,
			rd.ID, rd.RepositoryID, rd.Content, rd.RawContent)
	}
}

// sqlTime renders t the way SQLite's CURRENT_TIMESTAMP does.
func sqlTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Generated returns a fixture with n repositories spread over lists,
// languages and star counts, for pagination and benchmark tests.
func Generated(n int) Fixture {
	langs := []string{"Go", "Rust", "Python", "TypeScript", "C"}
	cats := []string{"Languages", "Tools", "Databases"}
	f := Fixture{}
	for i := 0; i < len(cats); i++ {
		f.Lists = append(f.Lists, catalog.List{
			ID:       int64(i + 1),
			Name:     fmt.Sprintf("awesome-%d", i+1),
			URL:      fmt.Sprintf("https://github.com/lists/awesome-%d", i+1),
			Category: Ptr(cats[i]),
			Stars:    Ptr(int64(1000 * (i + 1))),
		})
	}
	for i := 0; i < n; i++ {
		id := int64(1000 + i)
		var stars *int64
		if i%7 != 0 {
			stars = Ptr(int64((i * 37) % 500))
		}
		var commit *time.Time
		if i%5 != 0 {
			commit = Date(2020+i%4, time.Month(1+i%12), 1+i%28)
		}
		f.Repos = append(f.Repos, catalog.Repository{
			ID:          id,
			ListID:      int64(1 + i%len(cats)),
			Name:        fmt.Sprintf("tool-%d", i),
			URL:         fmt.Sprintf("https://github.com/org/tool-%d", i),
			Description: Ptr(fmt.Sprintf("search toolkit number %d for indexing data", i)),
			Stars:       stars,
			Language:    Ptr(langs[i%len(langs)]),
			Topics:      Ptr("search,index"),
			LastCommit:  commit,
		})
		if i%2 == 0 {
			f.Readmes = append(f.Readmes, catalog.Readme{
				ID:           id,
				RepositoryID: id,
				Content:      Ptr(fmt.Sprintf("Tool %d builds a search index. Install it and run the indexer over your data.", i)),
				RawContent:   Ptr(fmt.Sprintf("# tool-%d", i)),
			})
		}
	}
	return f
}
