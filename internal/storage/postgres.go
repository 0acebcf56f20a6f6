package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

const (
	defaultReadingsTable = "sensor_readings"
	defaultRecentLimit   = 100
)

// OpenPostgres opens a database handle through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresReadingArchive stores readings in Postgres. Metrics are kept as a
// jsonb document so new sensor channels need no migration.
type PostgresReadingArchive struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// ArchiveOption configures the archive.
type ArchiveOption func(*PostgresReadingArchive)

// WithTable overrides the default table name.
func WithTable(table string) ArchiveOption {
	return func(a *PostgresReadingArchive) {
		if table != "" {
			a.table = table
		}
	}
}

func NewPostgresReadingArchive(db *sql.DB, logger *zap.Logger, opts ...ArchiveOption) *PostgresReadingArchive {
	a := &PostgresReadingArchive{db: db, table: defaultReadingsTable, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnsureSchema creates the readings table when missing.
func (a *PostgresReadingArchive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	node_id     TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	metrics     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_node_ts_idx ON %[1]s (node_id, ts DESC)`, a.table)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", a.table, err)
	}
	return nil
}

func (a *PostgresReadingArchive) Add(ctx context.Context, r *data.SensorReading) error {
	if a == nil || a.db == nil {
		return errors.New("reading archive: nil db")
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, node_id, ts, received_at, metrics) VALUES ($1, $2, $3, $4, $5)`, a.table)
	if _, err := a.db.ExecContext(ctx, query, r.ID, r.NodeID, r.Timestamp, r.ReceivedAt, metrics); err != nil {
		return fmt.Errorf("insert reading %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit readings of a node, newest first.
func (a *PostgresReadingArchive) Recent(ctx context.Context, nodeID string, limit int) ([]*data.SensorReading, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := fmt.Sprintf(`
SELECT id, node_id, ts, received_at, metrics
FROM %s
WHERE node_id = $1
ORDER BY ts DESC
LIMIT $2`, a.table)

	rows, err := a.db.QueryContext(ctx, query, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := make([]*data.SensorReading, 0, limit)
	for rows.Next() {
		var (
			r   data.SensorReading
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Timestamp, &r.ReceivedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Metrics); err != nil {
			a.logger.Warn("skipping reading with unreadable metrics", zap.String("reading_id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (a *PostgresReadingArchive) DeleteNode(ctx context.Context, nodeID string) (int, error) {
	res, err := a.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE node_id = $1`, a.table), nodeID)
	if err != nil {
		return 0, fmt.Errorf("delete readings of %s: %w", nodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
