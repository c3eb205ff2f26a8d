// Package storage provides the relational catalogue behind the relatedness pipeline.
// It stores markets, the batch-computed similarity edges keyed by canonical token key,
// curated structural relations, and a log of completed index builds.
//
// The same SQL runs on SQLite (modernc, pure Go) for single-node deployments and tests,
// and on PostgreSQL through pgx for shared deployments. Queries are written with "?"
// placeholders and rebound to "$n" when the postgres driver is selected. Batch outputs
// are replaced wholesale inside one transaction so readers never observe a half-written
// build.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/polyrelated/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage is a database-backed catalogue safe for concurrent use.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the catalogue database and ensures the schema exists.
func New(ctx context.Context, driver, dsn string) (*Storage, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite"
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	if driver == DriverSQLite && !strings.Contains(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection per in-memory database; SQLite serialises writers anyway.
		db.SetMaxOpenConns(1)
		if !strings.Contains(dsn, ":memory:") {
			if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to configure sqlite: %w", err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db, driver: driver}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS markets (
		market_id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		market_slug TEXT NOT NULL DEFAULT '',
		event_key TEXT NOT NULL DEFAULT '',
		event_title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		clob_token_ids TEXT NOT NULL DEFAULT '',
		token_key TEXT NOT NULL DEFAULT '',
		volume_24hr DOUBLE PRECISION NOT NULL DEFAULT 0,
		liquidity DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_interest DOUBLE PRECISION NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_markets_event_key ON markets (event_key)`,
	`CREATE INDEX IF NOT EXISTS idx_markets_category ON markets (category)`,
	`CREATE INDEX IF NOT EXISTS idx_markets_token_key ON markets (token_key)`,
	`CREATE TABLE IF NOT EXISTS similarity_edges (
		source_key TEXT NOT NULL,
		neighbor_key TEXT NOT NULL,
		similarity DOUBLE PRECISION NOT NULL,
		build_id TEXT NOT NULL,
		PRIMARY KEY (source_key, neighbor_key)
	)`,
	`CREATE TABLE IF NOT EXISTS related_markets (
		market_id TEXT NOT NULL,
		related_market_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		strength DOUBLE PRECISION NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		build_id TEXT NOT NULL,
		PRIMARY KEY (market_id, related_market_id, relationship_type)
	)`,
	`CREATE TABLE IF NOT EXISTS index_builds (
		build_id TEXT PRIMARY KEY,
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL,
		rows_used INTEGER NOT NULL,
		edges INTEGER NOT NULL,
		relations INTEGER NOT NULL
	)`,
}

// EnsureSchema creates tables and indexes when missing.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const marketColumns = `market_id, question, market_slug, event_key, event_title, category,
	clob_token_ids, volume_24hr, liquidity, open_interest, active, closed, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(row scanner) (*models.Market, error) {
	var m models.Market
	var updated int64
	if err := row.Scan(&m.ID, &m.Question, &m.Slug, &m.EventKey, &m.EventTitle, &m.Category,
		&m.TokenIDs, &m.Volume24hr, &m.Liquidity, &m.OpenInterest, &m.Active, &m.Closed, &updated); err != nil {
		return nil, err
	}
	if updated > 0 {
		m.UpdatedAt = time.Unix(updated, 0).UTC()
	}
	return &m, nil
}

func (s *Storage) queryMarkets(ctx context.Context, query string, args ...any) ([]models.Market, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var markets []models.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate markets: %w", err)
	}
	return markets, nil
}

func (s *Storage) queryMarket(ctx context.Context, query string, args ...any) (*models.Market, error) {
	m, err := scanMarket(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query market: %w", err)
	}
	return m, nil
}

// UpsertMarkets inserts or updates markets by ID. Invalid markets are rejected before
// anything is written.
func (s *Storage) UpsertMarkets(ctx context.Context, markets []models.Market) error {
	for i := range markets {
		if err := markets[i].Validate(); err != nil {
			return fmt.Errorf("invalid market %q: %w", markets[i].ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO markets (`+marketColumns+`, token_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market_id) DO UPDATE SET
			question = excluded.question,
			market_slug = excluded.market_slug,
			event_key = excluded.event_key,
			event_title = excluded.event_title,
			category = excluded.category,
			clob_token_ids = excluded.clob_token_ids,
			token_key = excluded.token_key,
			volume_24hr = excluded.volume_24hr,
			liquidity = excluded.liquidity,
			open_interest = excluded.open_interest,
			active = excluded.active,
			closed = excluded.closed,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to prepare market upsert: %w", err)
	}
	defer stmt.Close()

	for i := range markets {
		m := &markets[i]
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.Question, m.Slug, m.EventKey, m.EventTitle, m.Category,
			m.TokenIDs, m.Volume24hr, m.Liquidity, m.OpenInterest, m.Active, m.Closed, updated.Unix(),
			m.TokenKey()); err != nil {
			return fmt.Errorf("failed to upsert market %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit markets: %w", err)
	}
	return nil
}

// MarketByID retrieves a market by ID
func (s *Storage) MarketByID(ctx context.Context, id string) (*models.Market, error) {
	return s.queryMarket(ctx, `SELECT `+marketColumns+` FROM markets WHERE market_id = ?`, id)
}

// MarketByTokenKey retrieves the lowest-ID market carrying the canonical token key.
func (s *Storage) MarketByTokenKey(ctx context.Context, key string) (*models.Market, error) {
	if key == "" {
		return nil, models.ErrNotFound
	}
	return s.queryMarket(ctx, `SELECT `+marketColumns+` FROM markets WHERE token_key = ?
		ORDER BY market_id LIMIT 1`, key)
}

// MarketsByEvent lists markets sharing an event key.
func (s *Storage) MarketsByEvent(ctx context.Context, eventKey string, limit int) ([]models.Market, error) {
	if eventKey == "" {
		return nil, nil
	}
	return s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets WHERE event_key = ?
		ORDER BY market_id LIMIT ?`, eventKey, limit)
}

// CategoryQuery pages through the markets of one category.
type CategoryQuery struct {
	Category     string
	ExcludeID    string
	ExcludeEvent string // Skip markets of this event
	Limit        int
	Offset       int
}

// MarketsByCategory lists markets in a category ordered by ID.
func (s *Storage) MarketsByCategory(ctx context.Context, q CategoryQuery) ([]models.Market, error) {
	if q.Category == "" {
		return nil, nil
	}
	where := []string{"category = ?"}
	args := []any{q.Category}
	if q.ExcludeID != "" {
		where = append(where, "market_id <> ?")
		args = append(args, q.ExcludeID)
	}
	if q.ExcludeEvent != "" {
		where = append(where, "event_key <> ?")
		args = append(args, q.ExcludeEvent)
	}
	args = append(args, q.Limit, q.Offset)

	return s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets WHERE `+
		strings.Join(where, " AND ")+` ORDER BY market_id LIMIT ? OFFSET ?`, args...)
}

// SearchQuery selects markets whose question contains any of Terms.
type SearchQuery struct {
	Terms     []string
	Category  string // Optional exact category filter
	ExcludeID string
	Limit     int
	Offset    int
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchQuestions runs a case-insensitive substring search over market questions.
// Markets containing more of the terms come first, then by ID.
func (s *Storage) SearchQuestions(ctx context.Context, q SearchQuery) ([]models.Market, error) {
	if len(q.Terms) == 0 {
		return nil, nil
	}

	patterns := make([]any, 0, len(q.Terms))
	likes := make([]string, 0, len(q.Terms))
	hits := make([]string, 0, len(q.Terms))
	for _, term := range q.Terms {
		patterns = append(patterns, "%"+likeEscaper.Replace(strings.ToLower(term))+"%")
		likes = append(likes, `LOWER(question) LIKE ? ESCAPE '\'`)
		hits = append(hits, `CASE WHEN LOWER(question) LIKE ? ESCAPE '\' THEN 1 ELSE 0 END`)
	}

	where := []string{"(" + strings.Join(likes, " OR ") + ")"}
	args := append([]any{}, patterns...)
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if q.ExcludeID != "" {
		where = append(where, "market_id <> ?")
		args = append(args, q.ExcludeID)
	}
	args = append(args, patterns...)
	args = append(args, q.Limit, q.Offset)

	return s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets WHERE `+
		strings.Join(where, " AND ")+` ORDER BY (`+strings.Join(hits, " + ")+`) DESC, market_id LIMIT ? OFFSET ?`, args...)
}

// AllMarkets returns the full catalogue ordered by ID.
func (s *Storage) AllMarkets(ctx context.Context) ([]models.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY market_id`)
}

// ActiveMarkets returns open markets, optionally restricted to a category.
func (s *Storage) ActiveMarkets(ctx context.Context, category string) ([]models.Market, error) {
	if category == "" {
		return s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets
			WHERE active AND NOT closed ORDER BY market_id`)
	}
	return s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets
		WHERE active AND NOT closed AND category = ? ORDER BY market_id`, category)
}

// CountMarkets returns the catalogue size.
func (s *Storage) CountMarkets(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count markets: %w", err)
	}
	return n, nil
}
