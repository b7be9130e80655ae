// Package catalog holds the document store: awesome lists, the repositories
// they reference and the README content fetched for each repository. A
// Snapshot is an immutable, validated copy of the store taken in a single
// read transaction; indexes are always built from exactly one Snapshot.
package catalog

import (
	"strings"
	"time"
)

// List is a curated awesome list.
type List struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Description *string    `json:"description"`
	Category    *string    `json:"category"`
	Stars       *int64     `json:"stars"`
	Forks       *int64     `json:"forks"`
	LastCommit  *time.Time `json:"last_commit"`
	Level       *int64     `json:"level"`
	ParentID    *int64     `json:"parent_id"`
	AddedAt     *time.Time `json:"added_at"`
	LastUpdated *time.Time `json:"last_updated"`
}

// Repository is a project referenced by exactly one list.
type Repository struct {
	ID          int64      `json:"id"`
	ListID      int64      `json:"awesome_list_id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Description *string    `json:"description"`
	Stars       *int64     `json:"stars"`
	Forks       *int64     `json:"forks"`
	Watchers    *int64     `json:"watchers"`
	Language    *string    `json:"language"`
	Topics      *string    `json:"topics"`
	LastCommit  *time.Time `json:"last_commit"`
	CreatedAt   *time.Time `json:"created_at"`
	AddedAt     *time.Time `json:"added_at"`
}

// TopicList splits the comma-separated topics column.
func (r Repository) TopicList() []string {
	if r.Topics == nil || *r.Topics == "" {
		return nil
	}
	parts := strings.Split(*r.Topics, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Readme is the README fetched for a repository. Content is the plain text
// that gets indexed; RawContent is the original markdown served to clients.
type Readme struct {
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repository_id"`
	Content      *string    `json:"content"`
	RawContent   *string    `json:"raw_content"`
	VersionHash  *string    `json:"version_hash"`
	IndexedAt    *time.Time `json:"indexed_at"`
}

// Text returns the indexed content, or "" when there is none.
func (r Readme) Text() string {
	if r.Content == nil {
		return ""
	}
	return *r.Content
}

// Str returns *p, or "" for nil.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
