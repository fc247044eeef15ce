package cookiecloud

import (
	"context"
	"log/slog"
	neturl "net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cookieの取得元指定。
const (
	SourceAuto        = "auto"
	SourceCookieCloud = "cookiecloud"
	SourceMoviePilot  = "moviepilot"
)

const minRefreshInterval = 30 * time.Second

// Manager はサイトごとのCookieヘッダを解決するサービス。
// CookieCloudの取得結果を一定時間キャッシュし、ソース設定に従って
// CookieCloud → MoviePilot由来Cookieの順でフォールバックする。
type Manager struct {
	source          string
	fetcher         Fetcher
	refreshInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu       sync.Mutex
	cached   []CookieItem
	cachedAt time.Time
}

// NewManager はManagerを生成する。fetcherはCookieCloud未設定時nilでよい。
func NewManager(source string, fetcher Fetcher, refreshInterval time.Duration, logger *slog.Logger) *Manager {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		s = SourceAuto
	}
	if refreshInterval < minRefreshInterval {
		refreshInterval = minRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:          s,
		fetcher:         fetcher,
		refreshInterval: refreshInterval,
		now:             time.Now,
		logger:          logger,
	}
}

// CookieHeaderFor はサイトURLに適用するCookieヘッダを解決する。
// 解決できない場合は空文字を返す（エラーにはしない。Cookieなしでも
// 登録確認は続行できるため）。
func (m *Manager) CookieHeaderFor(ctx context.Context, siteURL, fallbackCookie string) string {
	hostname := hostnameOf(siteURL)

	if m.source == SourceCookieCloud || m.source == SourceAuto {
		if m.fetcher == nil {
			if m.source == SourceCookieCloud {
				return ""
			}
		} else {
			items, err := m.cachedItems(ctx)
			if err != nil {
				m.logger.Warn("CookieCloudからの取得に失敗しました",
					slog.String("site_url", siteURL),
					slog.Bool("fallback", m.source == SourceAuto),
					slog.String("error", err.Error()))
				if m.source == SourceCookieCloud {
					return ""
				}
			} else if header := BuildCookieHeader(items, hostname, m.now()); header != "" {
				return header
			}
		}
	}

	if m.source == SourceMoviePilot || m.source == SourceAuto {
		return strings.TrimSpace(fallbackCookie)
	}
	return ""
}

func (m *Manager) cachedItems(ctx context.Context) ([]CookieItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.cachedAt.IsZero() && now.Sub(m.cachedAt) < m.refreshInterval {
		return m.cached, nil
	}

	items, err := m.fetcher.FetchCookieItems(ctx)
	if err != nil {
		return nil, err
	}
	m.cached = items
	m.cachedAt = now
	return items, nil
}

// BuildCookieHeader はホスト名にマッチする有効なCookieからヘッダ値を組み立てる。
// 同名Cookieは後勝ち。出力は名前順で安定させる。
func BuildCookieHeader(items []CookieItem, hostname string, now time.Time) string {
	jar := make(map[string]string)
	for _, c := range items {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		if !cookieDomainMatches(c.Domain, hostname) {
			continue
		}
		if c.Expires > 0 && c.Expires < float64(now.Unix()) {
			continue
		}
		jar[c.Name] = c.Value
	}
	if len(jar) == 0 {
		return ""
	}

	names := make([]string, 0, len(jar))
	for name := range jar {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+jar[name])
	}
	return strings.Join(pairs, "; ")
}

// cookieDomainMatches はCookieのdomain属性がホスト名に適用されるか判定する。
// 先頭のドットは無視し、完全一致またはサブドメイン一致を許す。
func cookieDomainMatches(cookieDomain, hostname string) bool {
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	hn := strings.ToLower(hostname)
	if cd == "" || hn == "" {
		return false
	}
	return hn == cd || strings.HasSuffix(hn, "."+cd)
}

func hostnameOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
