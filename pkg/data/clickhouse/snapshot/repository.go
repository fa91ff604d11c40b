// Package snapshot archives closed-window leaderboards to ClickHouse for
// analytics. Redis stays the source of truth; the archive is append-only and
// idempotent by window index.
package snapshot

import (
	"context"
	"fmt"

	"github.com/0xmdrakib/2048TX/pkg/clickhouse"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
)

// SinkName identifies this archive in logs and metrics.
const SinkName = "clickhouse"

// Repository writes and reads archived snapshots.
type Repository interface {
	// CreateTable creates the archive table if it does not exist.
	CreateTable(ctx context.Context) error
	// Archive writes every entry of rec in one batch.
	Archive(ctx context.Context, rec snapshot.Record) error
	// ReadWindow returns the archived rows of window w ordered by rank.
	ReadWindow(ctx context.Context, w int64) ([]Row, error)
	// Name returns SinkName.
	Name() string
}

type repository struct {
	client    clickhouse.Client
	tableName string
}

// NewRepository creates a new archive repository over tableName.
func NewRepository(client clickhouse.Client, tableName string) Repository {
	return &repository{client: client, tableName: tableName}
}

func (r *repository) Name() string {
	return SinkName
}

func (r *repository) CreateTable(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, CreateTableQuery(r.tableName)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", r.tableName, err)
	}
	return nil
}

func (r *repository) Archive(ctx context.Context, rec snapshot.Record) error {
	rows := Rows(rec)
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, InsertQueryForBatch(r.tableName))
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot batch: %w", err)
	}
	for _, row := range rows {
		err := batch.Append(
			row.WindowIndex,
			row.Rank,
			row.Subject,
			row.Score,
			row.WindowStart,
			row.WindowEnd,
			row.ChainID,
			row.Contract,
			row.CreatedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append window %d rank %d: %w", row.WindowIndex, row.Rank, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write snapshot %d: %w", rec.WindowIndex, err)
	}
	return nil
}

func (r *repository) ReadWindow(ctx context.Context, w int64) ([]Row, error) {
	rows, err := r.client.Conn().Query(ctx, SelectWindowQuery(r.tableName), w)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %d: %w", w, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.WindowIndex,
			&row.Rank,
			&row.Subject,
			&row.Score,
			&row.WindowStart,
			&row.WindowEnd,
			&row.ChainID,
			&row.Contract,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot %d: %w", w, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot %d: %w", w, err)
	}
	return out, nil
}
