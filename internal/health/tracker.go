package health

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/ptwatch/internal/repository"
)

// 外部依存（MoviePilot / CookieCloud）の疎通状態を KV ストアに永続化する。
// 失敗した依存は next_retry_at まで再試行しないことで、スキャンごとの
// 無駄なログイン試行やアカウントロックを防ぐ。

const (
	depsStatusKey     = "deps_status"
	depsStatusVersion = 1

	minRetryInterval = time.Minute
	maxRetryInterval = 24 * time.Hour
)

// 依存名。KV 内のキーとして使う。
const (
	DepMoviePilot  = "moviepilot"
	DepCookieCloud = "cookiecloud"
)

// DepStatus は単一依存の疎通記録。
type DepStatus struct {
	OK          bool      `json:"ok"`
	CheckedAt   time.Time `json:"checked_at,omitzero"`
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`
	Error       string    `json:"error,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

type depsStatusDoc struct {
	Version int                  `json:"version"`
	Deps    map[string]DepStatus `json:"deps,omitempty"`
}

// FingerprintMoviePilot は MoviePilot 設定の指紋を返す。
// 指紋が変わった依存はクールダウン中でも即座に再試行できる。
func FingerprintMoviePilot(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// FingerprintCookieCloud は CookieCloud 設定の指紋を返す。
func FingerprintCookieCloud(baseURL, uuid string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "|" + strings.TrimSpace(uuid)
}

// Tracker は依存の疎通状態を管理するサービス。
type Tracker struct {
	kvRepo        repository.KVRepository
	retryInterval time.Duration
	logger        *slog.Logger

	mu sync.Mutex
}

// NewTracker は新しい Tracker を作成する。
func NewTracker(kvRepo repository.KVRepository, retryInterval time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if retryInterval < minRetryInterval {
		retryInterval = minRetryInterval
	}
	if retryInterval > maxRetryInterval {
		retryInterval = maxRetryInterval
	}
	return &Tracker{
		kvRepo:        kvRepo,
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// Status は依存 name の現在の記録を返す。記録がなければゼロ値を返す。
func (t *Tracker) Status(ctx context.Context, name string) (DepStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(ctx)
	if err != nil {
		return DepStatus{}, err
	}
	return doc.Deps[name], nil
}

// CanAttempt は依存 name へ今アクセスしてよいかを返す。
// 指紋が未設定または記録と異なる場合は常に許可する（設定変更の即時反映）。
// 直近が成功していれば許可、失敗していれば next_retry_at 経過後のみ許可する。
// KV の読み取りに失敗した場合は安全側に倒して許可する。
func (t *Tracker) CanAttempt(ctx context.Context, name, fingerprint string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(ctx)
	if err != nil {
		t.logger.Warn("依存状態の読み取りに失敗しました", slog.String("dep", name), slog.String("error", err.Error()))
		return true
	}
	dep, found := doc.Deps[name]
	if !found {
		return true
	}
	if fingerprint == "" || dep.Fingerprint != fingerprint {
		return true
	}
	if dep.OK {
		return true
	}
	if dep.NextRetryAt.IsZero() {
		return true
	}
	return !now.Before(dep.NextRetryAt)
}

// MarkOK は依存 name の成功を記録する。
func (t *Tracker) MarkOK(ctx context.Context, name, fingerprint string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(ctx)
	if err != nil {
		return err
	}
	doc.Deps[name] = DepStatus{
		OK:          true,
		CheckedAt:   now,
		Fingerprint: fingerprint,
	}
	return t.save(ctx, doc)
}

// MarkFail は依存 name の失敗を記録し、再試行可能時刻を設定する。
func (t *Tracker) MarkFail(ctx context.Context, name, fingerprint, errMsg string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(ctx)
	if err != nil {
		return err
	}
	doc.Deps[name] = DepStatus{
		OK:          false,
		CheckedAt:   now,
		NextRetryAt: now.Add(t.retryInterval),
		Error:       strings.TrimSpace(errMsg),
		Fingerprint: fingerprint,
	}
	t.logger.Warn("依存への接続に失敗したため一時停止します",
		slog.String("dep", name),
		slog.String("error", errMsg),
		slog.Time("next_retry_at", doc.Deps[name].NextRetryAt))
	return t.save(ctx, doc)
}

// load は KV から状態を読み込む。版が合わない記録は破棄する。
func (t *Tracker) load(ctx context.Context) (depsStatusDoc, error) {
	var doc depsStatusDoc
	found, err := t.kvRepo.GetJSON(ctx, depsStatusKey, &doc)
	if err != nil {
		return depsStatusDoc{}, err
	}
	if !found || doc.Version != depsStatusVersion {
		doc = depsStatusDoc{Version: depsStatusVersion}
	}
	if doc.Deps == nil {
		doc.Deps = make(map[string]DepStatus)
	}
	return doc, nil
}

func (t *Tracker) save(ctx context.Context, doc depsStatusDoc) error {
	doc.Version = depsStatusVersion
	return t.kvRepo.SetJSON(ctx, depsStatusKey, doc)
}
