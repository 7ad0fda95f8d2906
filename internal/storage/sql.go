package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/deusflow/crisiswatch/internal/news"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS sent_log (
	url        TEXT PRIMARY KEY,
	sent_at    BIGINT NOT NULL,
	title      TEXT NOT NULL,
	title_hash TEXT NOT NULL,
	critical   INTEGER NOT NULL DEFAULT 0,
	region     TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	severity   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sent_log_sent_at ON sent_log(sent_at);
CREATE INDEX IF NOT EXISTS idx_sent_log_title_hash ON sent_log(title_hash);
CREATE TABLE IF NOT EXISTS kv (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLStore keeps sent records and named scalars in SQLite or PostgreSQL.
// Timestamps are stored as Unix seconds so both dialects share one schema.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)
	return NewSQLStore(ctx, db, SQLite)
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQLStore(ctx, db, Postgres)
}

// NewSQLStore wraps an open handle and applies the schema.
func NewSQLStore(ctx context.Context, db *sql.DB, d Dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &SQLStore{db: db, sb: builderFor(d)}, nil
}

func builderFor(d Dialect) sq.StatementBuilderType {
	var ph sq.PlaceholderFormat = sq.Question
	if d == Postgres {
		ph = sq.Dollar
	}
	return sq.StatementBuilder.PlaceholderFormat(ph)
}

// InsertSent records rec unless its URL is already present. The returned
// bool is false for the silent no-op case.
func (s *SQLStore) InsertSent(ctx context.Context, rec news.SentRecord) (bool, error) {
	critical := 0
	if rec.Critical {
		critical = 1
	}
	query, args, err := s.sb.Insert("sent_log").
		Columns("url", "sent_at", "title", "title_hash", "critical", "region", "source", "severity").
		Values(rec.URL, rec.SentAt.Unix(), rec.Title, rec.TitleHash, critical, rec.Region, rec.Source, rec.Severity).
		Suffix("ON CONFLICT (url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert sent record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert sent record: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) SentURL(ctx context.Context, url string) (bool, error) {
	return s.exists(ctx, sq.Eq{"url": url})
}

func (s *SQLStore) TitleHashSeen(ctx context.Context, hash string, since time.Time) (bool, error) {
	return s.exists(ctx, sq.And{sq.Eq{"title_hash": hash}, sq.GtOrEq{"sent_at": since.Unix()}})
}

func (s *SQLStore) exists(ctx context.Context, where sq.Sqlizer) (bool, error) {
	query, args, err := s.sb.Select("1").From("sent_log").Where(where).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build lookup: %w", err)
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup sent record: %w", err)
	}
	return true, nil
}

// CountSent counts records with from <= sent_at < to.
func (s *SQLStore) CountSent(ctx context.Context, from, to time.Time) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").From("sent_log").
		Where(sq.And{sq.GtOrEq{"sent_at": from.Unix()}, sq.Lt{"sent_at": to.Unix()}}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sent records: %w", err)
	}
	return n, nil
}

// RecentTitles returns up to limit titles sent since the given time, newest first.
func (s *SQLStore) RecentTitles(ctx context.Context, since time.Time, limit int) ([]string, error) {
	b := s.sb.Select("title").From("sent_log").
		Where(sq.GtOrEq{"sent_at": since.Unix()}).
		OrderBy("sent_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent titles: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// Scalar returns a named value; ok is false when it was never set.
func (s *SQLStore) Scalar(ctx context.Context, name string) (string, bool, error) {
	query, args, err := s.sb.Select("value").From("kv").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build scalar: %w", err)
	}
	var v string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read scalar %s: %w", name, err)
	}
	return v, true, nil
}

func (s *SQLStore) SetScalar(ctx context.Context, name, value string) error {
	query, args, err := s.sb.Insert("kv").Columns("name", "value").Values(name, value).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build scalar upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write scalar %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
