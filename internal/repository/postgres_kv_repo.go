package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresKVRepo はPostgreSQLを使用したキーバリューリポジトリ。
// 値はJSONBカラムに保存する。
type PostgresKVRepo struct {
	db *sql.DB
}

// NewPostgresKVRepo はPostgresKVRepoを生成する。
func NewPostgresKVRepo(db *sql.DB) *PostgresKVRepo {
	return &PostgresKVRepo{db: db}
}

// GetJSON は指定キーの値をdestにデコードする。キーが存在しない場合はfalseを返す。
func (r *PostgresKVRepo) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = $1`,
		key,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get kv entry: %w", err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode kv entry %q: %w", key, err)
	}
	return true, nil
}

// SetJSON は値をJSONエンコードして保存する。既存キーは上書きされる。
func (r *PostgresKVRepo) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode kv entry %q: %w", key, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`,
		key, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。キーが存在しなくてもエラーにしない。
func (r *PostgresKVRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KVRepository = (*PostgresKVRepo)(nil)
