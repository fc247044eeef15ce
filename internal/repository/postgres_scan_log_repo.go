package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ptwatch/internal/model"
)

// PostgresScanLogRepo はPostgreSQLを使用したスキャンログリポジトリ。
type PostgresScanLogRepo struct {
	db *sql.DB
}

// NewPostgresScanLogRepo はPostgresScanLogRepoを生成する。
func NewPostgresScanLogRepo(db *sql.DB) *PostgresScanLogRepo {
	return &PostgresScanLogRepo{db: db}
}

// Append はログエントリを追記する。
// entry.IDが空の場合はUUIDを採番し、entry.Atがゼロ値の場合は現在時刻を設定する。
func (r *PostgresScanLogRepo) Append(ctx context.Context, entry *model.ScanLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	if entry.Level == "" {
		entry.Level = "info"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scan_log (id, at, level, event, domain, message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.At, entry.Level, entry.Event, entry.Domain, entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append scan log: %w", err)
	}
	return nil
}

// List は新しい順にログエントリを返す。domainが空でない場合はそのドメインに絞り込む。
func (r *PostgresScanLogRepo) List(ctx context.Context, domain string, limit int) ([]*model.ScanLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if domain != "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, at, level, event, domain, message FROM scan_log
			 WHERE domain = $1 ORDER BY at DESC LIMIT $2`,
			domain, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, at, level, event, domain, message FROM scan_log
			 ORDER BY at DESC LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list scan logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.ScanLogEntry
	for rows.Next() {
		entry := &model.ScanLogEntry{}
		if err := rows.Scan(&entry.ID, &entry.At, &entry.Level, &entry.Event, &entry.Domain, &entry.Message); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log rows: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan は指定時刻より古いエントリを削除し、削除件数を返す。
func (r *PostgresScanLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM scan_log WHERE at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scan logs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ ScanLogRepository = (*PostgresScanLogRepo)(nil)
