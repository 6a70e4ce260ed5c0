// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStoreConfig controls the Postgres connection pool used for scan
// result rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ResultStore writes scan result rows into Postgres.
type ResultStore struct {
	pool  pgxPool
	table string
}

// NewResultStore creates a Postgres-backed ResultStore using the provided config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scan_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool pgxPool, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scan_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertResult inserts one completed scan row. The verdict is stored as
// JSONB so violation shapes can evolve without migrations.
func (s *ResultStore) InsertResult(ctx context.Context, result scanner.ScanResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if result.ID == "" {
		return fmt.Errorf("result id is required")
	}

	var verdictJSON []byte
	if result.Verdict != nil {
		encoded, err := json.Marshal(result.Verdict)
		if err != nil {
			return fmt.Errorf("marshal verdict: %w", err)
		}
		verdictJSON = encoded
	}

	compliant := result.Compliant()
	risk := ""
	method := ""
	if result.Verdict != nil {
		risk = string(result.Verdict.Risk)
		method = string(result.Verdict.Method)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	target,
	status,
	compliant,
	risk,
	detection_method,
	verdict,
	error_text,
	started_at,
	finished_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		result.ID,
		result.Target,
		string(result.Status),
		compliant,
		risk,
		method,
		verdictJSON,
		result.ErrorText,
		result.StartedAt,
		result.FinishedAt,
		result.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scan result: %w", err)
	}
	return nil
}

// ListResults returns the most recent results for a target, newest first.
func (s *ResultStore) ListResults(ctx context.Context, target string, limit int) ([]scanner.ScanResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("result store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
SELECT id, target, status, verdict, error_text, started_at, finished_at, duration_ms
FROM %s
WHERE target = $1
ORDER BY finished_at DESC
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan results: %w", err)
	}
	defer rows.Close()

	var results []scanner.ScanResult
	for rows.Next() {
		var (
			res         scanner.ScanResult
			status      string
			verdictJSON []byte
			durationMs  int64
		)
		if err := rows.Scan(
			&res.ID,
			&res.Target,
			&status,
			&verdictJSON,
			&res.ErrorText,
			&res.StartedAt,
			&res.FinishedAt,
			&durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		res.Status = scanner.ScanStatus(status)
		res.Duration = time.Duration(durationMs) * time.Millisecond
		if len(verdictJSON) > 0 {
			var verdict scanner.ClassificationVerdict
			if err := json.Unmarshal(verdictJSON, &verdict); err != nil {
				return nil, fmt.Errorf("decode verdict: %w", err)
			}
			res.Verdict = &verdict
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan results: %w", err)
	}
	return results, nil
}
