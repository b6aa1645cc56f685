package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

// Schema creates the cache table. Safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS jurisdiction_cache (
    fingerprint TEXT PRIMARY KEY,
    payload     JSONB       NOT NULL,
    resolved_at TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL
)`

// DB is the subset of pgxpool.Pool the cache needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCache persists jurisdiction cache entries in PostgreSQL.
type PostgresCache struct {
	db  DB
	now func() time.Time
}

// NewPostgresCache constructs a PostgreSQL-backed jurisdiction cache.
func NewPostgresCache(db DB) *PostgresCache {
	return &PostgresCache{db: db, now: time.Now}
}

// EnsureSchema creates the cache table when missing.
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create jurisdiction cache table: %w", err)
	}
	return nil
}

func (c *PostgresCache) Get(ctx context.Context, key string) (*models.Jurisdiction, error) {
	var payload []byte
	err := c.db.QueryRow(ctx,
		`SELECT payload FROM jurisdiction_cache WHERE fingerprint = $1 AND expires_at > $2`,
		key, c.now(),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find jurisdiction cache: %w", err)
	}
	var j models.Jurisdiction
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("decode cached jurisdiction: %w", err)
	}
	return &j, nil
}

func (c *PostgresCache) Put(ctx context.Context, key string, j *models.Jurisdiction, ttl time.Duration) error {
	if j == nil {
		return fmt.Errorf("jurisdiction is required")
	}
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode jurisdiction: %w", err)
	}
	_, err = c.db.Exec(ctx, `
		INSERT INTO jurisdiction_cache (fingerprint, payload, resolved_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE
		SET payload = EXCLUDED.payload,
		    resolved_at = EXCLUDED.resolved_at,
		    expires_at = EXCLUDED.expires_at`,
		key, payload, j.ResolvedAt, c.now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("save jurisdiction cache: %w", err)
	}
	return nil
}
