// Package sqlite opens the document store's SQLite file read-only through the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrMissing is returned when the database file does not exist.
var ErrMissing = errors.New("sqlite database file not found")

type Client struct {
	DB   *sql.DB
	path string
}

// Open opens path read-only. The file must already exist; SQLite would
// otherwise create an empty database and every query would fail later with
// "no such table".
func Open(ctx context.Context, path string) (*Client, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving sqlite path %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, abs)
		}
		return nil, fmt.Errorf("stat sqlite file %s: %w", abs, err)
	}

	db, err := sql.Open("sqlite", dsn(abs))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", abs, err)
	}
	db.SetMaxOpenConns(2)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite %s: %w", abs, err)
	}
	return &Client{DB: db, path: abs}, nil
}

func dsn(path string) string {
	u := url.URL{Scheme: "file", Path: path}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "query_only(1)")
	return u.String() + "?" + q.Encode()
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Path is the absolute path of the opened file.
func (c *Client) Path() string {
	return c.path
}

// Describe names the database for logs and the version probe.
func (c *Client) Describe() string {
	return "sqlite://" + c.path
}

// InTx runs fn inside one transaction. SQLite holds its read snapshot for the
// life of the transaction, so all tables fn reads are mutually consistent.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
