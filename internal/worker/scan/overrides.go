package scan

import (
	"context"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

const configOverridesKey = "config_overrides"

// 上書き可能な設定値の上下限。範囲外は黙ってクランプする。
const (
	minOverrideConcurrency = 1
	maxOverrideConcurrency = 64

	minOverrideCacheTTL = time.Minute
	maxOverrideCacheTTL = 7 * 24 * time.Hour
)

// ConfigOverrides はダッシュボードから変更できる実行時設定の上書き。
// KVに保存され、次のスキャンサイクルの開始時に反映される（サイクル途中では
// 再読み込みしない）。nilフィールドはベース設定の値をそのまま使う。
type ConfigOverrides struct {
	ScanConcurrency         *int `json:"scan_concurrency,omitempty"`
	SiteListCacheTTLSeconds *int `json:"site_list_cache_ttl_seconds,omitempty"`
}

// cycleConfig は1サイクル分の設定スナップショット。
type cycleConfig struct {
	concurrency int
	cacheTTL    time.Duration
}

// LoadOverrides は保存された実行時設定の上書きを返す。未保存の場合は空を返す。
func (c *Coordinator) LoadOverrides(ctx context.Context) (ConfigOverrides, error) {
	var overrides ConfigOverrides
	if _, err := c.kvRepo.GetJSON(ctx, configOverridesKey, &overrides); err != nil {
		return ConfigOverrides{}, err
	}
	return overrides, nil
}

// SaveOverrides は実行時設定の上書きを検証して保存する。
func (c *Coordinator) SaveOverrides(ctx context.Context, overrides ConfigOverrides) error {
	if overrides.ScanConcurrency != nil {
		v := clampInt(*overrides.ScanConcurrency, minOverrideConcurrency, maxOverrideConcurrency)
		overrides.ScanConcurrency = &v
	}
	if overrides.SiteListCacheTTLSeconds != nil {
		v := clampInt(*overrides.SiteListCacheTTLSeconds,
			int(minOverrideCacheTTL.Seconds()), int(maxOverrideCacheTTL.Seconds()))
		overrides.SiteListCacheTTLSeconds = &v
	}
	return c.kvRepo.SetJSON(ctx, configOverridesKey, overrides)
}

// snapshotConfig はサイクル開始時点の設定スナップショットを組み立てる。
// 上書きの読み込みに失敗した場合はベース設定にフォールバックする。
func (c *Coordinator) snapshotConfig(ctx context.Context) cycleConfig {
	cc := cycleConfig{
		concurrency: c.cfg.ScanConcurrency,
		cacheTTL:    c.cfg.SiteListCacheTTL,
	}
	if cc.concurrency < 1 {
		cc.concurrency = 1
	}

	overrides, err := c.LoadOverrides(ctx)
	if err != nil {
		return cc
	}
	if overrides.ScanConcurrency != nil {
		cc.concurrency = clampInt(*overrides.ScanConcurrency, minOverrideConcurrency, maxOverrideConcurrency)
	}
	if overrides.SiteListCacheTTLSeconds != nil {
		cc.cacheTTL = time.Duration(*overrides.SiteListCacheTTLSeconds) * time.Second
	}
	return cc
}

// Running はフルスキャンが実行中かどうかを返す。
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// InFlightDomains は現在スキャン中のドメイン一覧を返す。
func (c *Coordinator) InFlightDomains() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.inFlight))
	for domain := range c.inFlight {
		out[domain] = true
	}
	return out
}

// ListStates は永続化されたサイト状態の一覧を返す。
func (c *Coordinator) ListStates(ctx context.Context) ([]*model.SiteState, error) {
	return c.stateRepo.List(ctx)
}

func clampInt(v, minVal, maxVal int) int {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
