package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/newscheck/internal/analysis"
)

// ErrNotFound is returned by Lookup when no record exists for a URL.
var ErrNotFound = errors.New("analysis not found")

// AnalysisRecord is one cached analysis, keyed by article URL.
type AnalysisRecord struct {
	URL       string           `json:"url"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Issues    []analysis.Issue `json:"issues"`
	CreatedAt time.Time        `json:"created_at"`
	CachedAt  time.Time        `json:"cached_at"`
}

// Fresh reports whether the record's last refresh is inside the window. A
// non-positive window means records never go stale.
func (r AnalysisRecord) Fresh(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.Sub(r.CachedAt) < window
}

// CacheStore is the persistence boundary for cached analyses. Lookup returns
// ErrNotFound for a missing URL and the record regardless of freshness; the
// caller decides what stale means.
type CacheStore interface {
	Lookup(ctx context.Context, url string) (AnalysisRecord, error)
	Upsert(ctx context.Context, rec AnalysisRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	All(ctx context.Context) ([]AnalysisRecord, error)
}

// Store is the Postgres-backed cache store.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Lookup fetches the cached analysis for a URL.
func (s *Store) Lookup(ctx context.Context, url string) (AnalysisRecord, error) {
	var (
		rec    AnalysisRecord
		issues []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT url, title, content, issues, created_at, cached_at
FROM analyses WHERE url = $1`, url).
		Scan(&rec.URL, &rec.Title, &rec.Content, &issues, &rec.CreatedAt, &rec.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisRecord{}, ErrNotFound
	}
	if err != nil {
		return AnalysisRecord{}, fmt.Errorf("lookup analysis: %w", err)
	}
	if err := json.Unmarshal(issues, &rec.Issues); err != nil {
		return AnalysisRecord{}, fmt.Errorf("decode cached issues for %s: %w", url, err)
	}
	if rec.Issues == nil {
		rec.Issues = []analysis.Issue{}
	}
	return rec, nil
}

// Upsert writes a record, refreshing cached_at and the payload while keeping
// the original created_at on conflict.
func (s *Store) Upsert(ctx context.Context, rec AnalysisRecord) error {
	issues := rec.Issues
	if issues == nil {
		issues = []analysis.Issue{}
	}
	payload, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	if rec.CachedAt.IsZero() {
		rec.CachedAt = time.Now().UTC()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.CachedAt
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO analyses (url, title, content, issues, created_at, cached_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
    title = EXCLUDED.title,
    content = EXCLUDED.content,
    issues = EXCLUDED.issues,
    cached_at = EXCLUDED.cached_at`,
		rec.URL, rec.Title, rec.Content, payload, rec.CreatedAt, rec.CachedAt)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes records whose last refresh is before cutoff and
// reports how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM analyses WHERE cached_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune analyses: %w", err)
	}
	return res.RowsAffected()
}

// All returns every cached record, newest first. Used to warm the search
// index at startup.
func (s *Store) All(ctx context.Context) ([]AnalysisRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, title, content, issues, created_at, cached_at
FROM analyses ORDER BY cached_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var (
			rec    AnalysisRecord
			issues []byte
		)
		if err := rows.Scan(&rec.URL, &rec.Title, &rec.Content, &issues, &rec.CreatedAt, &rec.CachedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal(issues, &rec.Issues); err != nil {
			return nil, fmt.Errorf("decode cached issues for %s: %w", rec.URL, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }
