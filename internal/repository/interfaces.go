// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

// SiteStateRepository はサイト状態の永続化インターフェース。
type SiteStateRepository interface {
	// Upsert はサイト状態を挿入または更新する。
	// state.LastChangedAtがnilの場合、既存行のlast_changed_atを保持する。
	Upsert(ctx context.Context, state *model.SiteState) error

	// FindByDomain は指定ドメインのサイト状態を取得する。見つからない場合はnilを返す。
	FindByDomain(ctx context.Context, domain string) (*model.SiteState, error)

	// List は全サイト状態をドメイン昇順で返す。
	List(ctx context.Context) ([]*model.SiteState, error)

	// DeleteByDomain は指定ドメインのサイト状態を削除する。
	DeleteByDomain(ctx context.Context, domain string) error
}

// KVRepository はJSON値のキーバリュー永続化インターフェース。
// サイトリストキャッシュや依存サービスの疎通状態の保存に使う。
type KVRepository interface {
	// GetJSON は指定キーの値をdestにデコードする。キーが存在しない場合はfalseを返す。
	GetJSON(ctx context.Context, key string, dest any) (bool, error)

	// SetJSON は値をJSONエンコードして保存する。既存キーは上書きされる。
	SetJSON(ctx context.Context, key string, value any) error

	// Delete は指定キーを削除する。キーが存在しなくてもエラーにしない。
	Delete(ctx context.Context, key string) error
}

// ScanLogRepository はスキャンログの永続化インターフェース。
type ScanLogRepository interface {
	// Append はログエントリを追記する。
	Append(ctx context.Context, entry *model.ScanLogEntry) error

	// List は新しい順にログエントリを返す。domainが空でない場合はそのドメインに絞り込む。
	List(ctx context.Context, domain string, limit int) ([]*model.ScanLogEntry, error)

	// DeleteOlderThan は指定時刻より古いエントリを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
