package sitelist

import (
	"strings"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

const (
	cacheVersion = 1

	// TTLのクランプ範囲。設定値がこの範囲外なら丸める。
	MinCacheTTL = time.Minute
	MaxCacheTTL = 7 * 24 * time.Hour
)

// Cache はMoviePilotサイト一覧の永続キャッシュ。
// MoviePilotが落ちている間のスキャンで利用する。
type Cache struct {
	Version   int          `json:"version"`
	BaseURL   string       `json:"base_url"`
	FetchedAt time.Time    `json:"fetched_at"`
	Sites     []cachedSite `json:"sites"`
}

type cachedSite struct {
	ID        *int   `json:"id,omitempty"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	URL       string `json:"url"`
	UserAgent string `json:"ua,omitempty"`
	Cookie    string `json:"cookie,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// BuildCache はMoviePilot由来のサイト一覧からキャッシュを構築する。
func BuildCache(baseURL string, sites []model.Site, fetchedAt time.Time) Cache {
	cached := make([]cachedSite, 0, len(sites))
	for _, s := range sites {
		cached = append(cached, cachedSite{
			ID:        s.ID,
			Name:      s.Name,
			Domain:    model.NormalizeDomain(s.Domain),
			URL:       s.URL,
			UserAgent: s.UserAgent,
			Cookie:    s.Cookie,
			IsActive:  s.IsActive,
		})
	}
	return Cache{
		Version:   cacheVersion,
		BaseURL:   normalizeBaseURL(baseURL),
		FetchedAt: fetchedAt.UTC(),
		Sites:     cached,
	}
}

// SiteList はキャッシュからサイト一覧を復元する。
// ドメインまたはURLを欠く項目は読み飛ばす。
func (c Cache) SiteList() []model.Site {
	sites := make([]model.Site, 0, len(c.Sites))
	for _, raw := range c.Sites {
		domain := model.NormalizeDomain(raw.Domain)
		url := strings.TrimSpace(raw.URL)
		if domain == "" || url == "" {
			continue
		}
		sites = append(sites, model.Site{
			ID:        raw.ID,
			Name:      firstNonEmpty(raw.Name, domain),
			Domain:    domain,
			URL:       url,
			UserAgent: strings.TrimSpace(raw.UserAgent),
			Cookie:    strings.TrimSpace(raw.Cookie),
			IsActive:  raw.IsActive,
		})
	}
	return sites
}

// Valid はキャッシュの版と取得時刻が読める形かを返す。
func (c Cache) Valid() bool {
	return c.Version == cacheVersion && !c.FetchedAt.IsZero()
}

// Age はキャッシュの経過時間を返す。負にはならない。
func (c Cache) Age(now time.Time) time.Duration {
	age := now.Sub(c.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Expired はキャッシュが利用不可かを返す。
// base_urlが記録時と異なる場合（接続先の切り替え）は即座に期限切れとみなす。
func (c Cache) Expired(now time.Time, ttl time.Duration, baseURL string) bool {
	cur := normalizeBaseURL(baseURL)
	if cur != "" && c.BaseURL != "" && cur != c.BaseURL {
		return true
	}
	if ttl <= 0 {
		return true
	}
	return c.Age(now) > ttl
}

func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}
