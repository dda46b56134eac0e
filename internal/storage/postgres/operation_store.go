// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/oplog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultOperationTable = "upload_operations"

// OperationStoreConfig controls the Postgres connection pool used for operation rows.
type OperationStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// OperationStore implements oplog.Log on a Postgres table.
type OperationStore struct {
	pool  pool
	table string
}

// NewOperationStore connects to Postgres using the provided config.
func NewOperationStore(ctx context.Context, cfg OperationStoreConfig) (*OperationStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewOperationStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewOperationStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOperationStoreWithPool(p pool, table string) (*OperationStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultOperationTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &OperationStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *OperationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Start inserts a processing row.
func (s *OperationStore) Start(ctx context.Context, rec oplog.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	operation_id,
	source_id,
	status,
	docs_count,
	failed_count,
	created_at,
	version,
	lang,
	crawler_version
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		rec.OperationID,
		rec.SourceID,
		string(oplog.StatusProcessing),
		rec.DocsCount,
		rec.FailedCount,
		rec.CreatedAt,
		rec.Metadata.Version,
		string(rec.Metadata.Lang),
		rec.Metadata.CrawlerVersion,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// Complete applies the terminal status to a processing row.
func (s *OperationStore) Complete(ctx context.Context, operationID string, c oplog.Completion) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, docs_count = $2, failed_count = $3,
	remote_operation_id = NULLIF($4, ''), completed_at = $5
WHERE operation_id = $6 AND status = $7`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(c.Status),
		c.DocsCount,
		c.FailedCount,
		c.RemoteOperationID,
		c.At,
		operationID,
		string(oplog.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete operation %s: %w", operationID,
			crawler.NewCodedError(crawler.CodeNotFound, "no processing operation", nil))
	}
	return nil
}

// List returns up to limit rows, newest first.
func (s *OperationStore) List(ctx context.Context, limit int) ([]oplog.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT operation_id, COALESCE(remote_operation_id, ''), source_id, status,
	docs_count, failed_count, created_at, completed_at, version, lang, crawler_version
FROM %s
ORDER BY created_at DESC
LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []oplog.Record
	for rows.Next() {
		var (
			rec    oplog.Record
			status string
			lang   string
		)
		if err := rows.Scan(
			&rec.OperationID,
			&rec.RemoteOperationID,
			&rec.SourceID,
			&status,
			&rec.DocsCount,
			&rec.FailedCount,
			&rec.CreatedAt,
			&rec.CompletedAt,
			&rec.Metadata.Version,
			&lang,
			&rec.Metadata.CrawlerVersion,
		); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		rec.Status = oplog.Status(status)
		rec.Metadata.Lang = crawler.Language(lang)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}
