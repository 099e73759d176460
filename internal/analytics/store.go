// Package analytics records privacy-conscious page views and outbound
// project clicks in SQLite.
package analytics

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS visitors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hashed_ip TEXT NOT NULL,
	user_agent TEXT,
	path TEXT,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS visitors_ts ON visitors (ts);
CREATE TABLE IF NOT EXISTS clicks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS clicks_slug ON clicks (slug);
`

// Visit is one recorded page view. The client address is only ever stored
// hashed.
type Visit struct {
	ID        int64     `json:"id"`
	HashedIP  string    `json:"hashed_ip"`
	UserAgent string    `json:"user_agent"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

type ProjectClicks struct {
	Slug   string `json:"slug"`
	Clicks int64  `json:"clicks"`
}

type Stats struct {
	TotalVisitors    int64           `json:"total_visitors"`
	UniqueVisitors   int64           `json:"unique_visitors"`
	VisitorsToday    int64           `json:"visitors_today"`
	VisitorsThisWeek int64           `json:"visitors_this_week"`
	TotalClicks      int64           `json:"total_clicks"`
	TopProjects      []ProjectClicks `json:"top_projects"`
	RecentVisitors   []Visit         `json:"recent_visitors"`
}

type Store struct {
	db   *sql.DB
	salt string
	log  *zap.Logger
	now  func() time.Time

	pending sync.WaitGroup
}

type Option func(*Store)

// WithSalt fixes the IP hashing salt. Without it a random salt is drawn per
// process, so hashes cannot be correlated across restarts.
func WithSalt(salt string) Option {
	return func(s *Store) { s.salt = salt }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.salt == "" {
		s.salt, err = randomHex(32)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}
	return s, nil
}

// Close waits for in-flight background writes and closes the database.
func (s *Store) Close() error {
	s.pending.Wait()
	return s.db.Close()
}

// Wait blocks until background writes started by the middleware finish.
func (s *Store) Wait() {
	s.pending.Wait()
}

// HashIP returns a salted, truncated SHA-256 of ip. It is consistent for
// the lifetime of the salt.
func (s *Store) HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + s.salt))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) RecordVisit(ctx context.Context, ip, userAgent, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO visitors (hashed_ip, user_agent, path, ts) VALUES (?, ?, ?, ?)`,
		s.HashIP(ip), userAgent, path, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	return nil
}

func (s *Store) RecordClick(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clicks (slug, ts) VALUES (?, ?)`,
		slug, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

// ResetClicks removes every recorded click for slug.
func (s *Store) ResetClicks(ctx context.Context, slug string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clicks WHERE slug = ?`, slug)
	if err != nil {
		return 0, fmt.Errorf("reset clicks for %s: %w", slug, err)
	}
	return res.RowsAffected()
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	stats := &Stats{}
	counts := []struct {
		query string
		args  []any
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM visitors`, nil, &stats.TotalVisitors},
		{`SELECT COUNT(DISTINCT hashed_ip) FROM visitors`, nil, &stats.UniqueVisitors},
		{`SELECT COUNT(*) FROM visitors WHERE ts >= ?`, []any{startOfDay.Unix()}, &stats.VisitorsToday},
		{`SELECT COUNT(*) FROM visitors WHERE ts >= ?`, []any{weekAgo.Unix()}, &stats.VisitorsThisWeek},
		{`SELECT COUNT(*) FROM clicks`, nil, &stats.TotalClicks},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("load stats: %w", err)
		}
	}

	top, err := s.projectClicks(ctx, 10)
	if err != nil {
		return nil, err
	}
	stats.TopProjects = top

	recent, err := s.RecentVisitors(ctx, 50)
	if err != nil {
		return nil, err
	}
	stats.RecentVisitors = recent
	return stats, nil
}

func (s *Store) projectClicks(ctx context.Context, limit int) ([]ProjectClicks, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, COUNT(*) AS n
		FROM clicks
		GROUP BY slug
		ORDER BY n DESC, slug ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load project clicks: %w", err)
	}
	defer rows.Close()

	var out []ProjectClicks
	for rows.Next() {
		var pc ProjectClicks
		if err := rows.Scan(&pc.Slug, &pc.Clicks); err != nil {
			return nil, fmt.Errorf("scan project clicks: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// RecentVisitors returns the newest visits first.
func (s *Store) RecentVisitors(ctx context.Context, limit int) ([]Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hashed_ip, COALESCE(user_agent, ''), COALESCE(path, ''), ts
		FROM visitors
		ORDER BY ts DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load visitors: %w", err)
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		var (
			v  Visit
			ts int64
		)
		if err := rows.Scan(&v.ID, &v.HashedIP, &v.UserAgent, &v.Path, &ts); err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		v.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// Cleanup deletes visits and clicks older than retention and reports how
// many rows went.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).Unix()

	var removed int64
	for _, q := range []string{
		`DELETE FROM visitors WHERE ts < ?`,
		`DELETE FROM clicks WHERE ts < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return removed, fmt.Errorf("cleanup: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("cleanup rows affected: %w", err)
		}
		removed += n
	}
	if removed > 0 {
		s.log.Info("privacy cleanup removed old records",
			zap.Int64("rows", removed),
			zap.Duration("retention", retention),
		)
	}
	return removed, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
