// Package scan はサイトスキャンの実行とスケジューリングを提供する。
// サイトリストの解決、並列確認、状態の永続化、変化通知までを調整する。
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/ptwatch/internal/config"
	"github.com/hitoshi/ptwatch/internal/diff"
	"github.com/hitoshi/ptwatch/internal/health"
	"github.com/hitoshi/ptwatch/internal/metrics"
	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/repository"
	"github.com/hitoshi/ptwatch/internal/security"
	"github.com/hitoshi/ptwatch/internal/sitelist"
)

const scanStatusKey = "scan_status"

// SiteListChangeTitle はサイトリスト変化通知のタイトル。
const SiteListChangeTitle = "PT Invite Watcher: 站点列表变化"

// SiteChecker は1サイト分の確認を実行するインタフェース。
type SiteChecker interface {
	CheckSite(ctx context.Context, site *model.Site, cookieHeader string, now time.Time) model.SiteCheckResult
}

// SiteLister はMoviePilotからサイト一覧を取得するインタフェース。
type SiteLister interface {
	ListSites(ctx context.Context) ([]model.Site, error)
}

// CookieResolver はサイトごとのCookieヘッダを解決するインタフェース。
type CookieResolver interface {
	CookieHeaderFor(ctx context.Context, siteURL, fallbackCookie string) string
}

// DepTracker は外部依存の疎通状態を管理するインタフェース。
type DepTracker interface {
	CanAttempt(ctx context.Context, name, fingerprint string, now time.Time) bool
	MarkOK(ctx context.Context, name, fingerprint string, now time.Time) error
	MarkFail(ctx context.Context, name, fingerprint, errMsg string, now time.Time) error
}

// Notifier は状態変化の通知先インタフェース。
type Notifier interface {
	Send(ctx context.Context, title, text string)
}

// Options はCoordinatorの生成パラメータ。
type Options struct {
	Config  *config.Config
	Checker SiteChecker
	// SiteLister はMoviePilot未設定時nil。
	SiteLister SiteLister
	// Cookies はCookieCloud/MoviePilot Cookie解決。nilの場合はサイト自身のCookieを使う。
	Cookies CookieResolver
	// Health はnilの場合クールダウンなしで毎回接続を試みる。
	Health    DepTracker
	Store     *sitelist.Store
	StateRepo repository.SiteStateRepository
	LogRepo   repository.ScanLogRepository
	KVRepo    repository.KVRepository
	Notifier  Notifier
	Sanitizer security.EvidenceSanitizerService
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// Coordinator はスキャンサイクル全体を調整するサービス。
// フルスキャンは同時に1つだけ、サイト単位でも同一ドメインの重複実行を拒否する。
type Coordinator struct {
	cfg       *config.Config
	checker   SiteChecker
	lister    SiteLister
	cookies   CookieResolver
	health    DepTracker
	store     *sitelist.Store
	stateRepo repository.SiteStateRepository
	logRepo   repository.ScanLogRepository
	kvRepo    repository.KVRepository
	notifier  Notifier
	sanitizer security.EvidenceSanitizerService
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	inFlight map[string]bool
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       opts.Config,
		checker:   opts.Checker,
		lister:    opts.SiteLister,
		cookies:   opts.Cookies,
		health:    opts.Health,
		store:     opts.Store,
		stateRepo: opts.StateRepo,
		logRepo:   opts.LogRepo,
		kvRepo:    opts.KVRepo,
		notifier:  opts.Notifier,
		sanitizer: opts.Sanitizer,
		metrics:   opts.Metrics,
		logger:    logger,
		inFlight:  make(map[string]bool),
	}
}

// RunAll は全サイトのスキャンサイクルを1回実行する。
// 別のフルスキャンが実行中の場合はキューに積まず即座に拒否する。
func (c *Coordinator) RunAll(ctx context.Context) (*model.ScanStatus, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, model.NewAlreadyScanningError("")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	now := time.Now().UTC()
	status := &model.ScanStatus{StartedAt: now}
	c.appendLog(ctx, "info", model.ScanEventStart, "", "スキャンサイクルを開始します")

	// 設定スナップショットはサイクル開始時に1回だけ読む
	cc := c.snapshotConfig(ctx)

	sites, err := c.resolveSites(ctx, status, cc)
	if err != nil {
		status.OK = false
		status.Error = err.Error()
		status.LastRunAt = time.Now().UTC()
		c.saveStatus(ctx, status)
		c.appendLog(ctx, "error", model.ScanEventFailed, "", err.Error())
		c.metrics.RecordScanCycle(false)
		return status, err
	}
	status.SiteCount = len(sites)

	c.notifySiteListChanges(ctx, sites, now)

	sem := make(chan struct{}, cc.concurrency)
	var wg sync.WaitGroup
	var scanned, skipped atomic.Int32

	for i := range sites {
		site := &sites[i]
		if !site.IsActive {
			continue
		}
		if !c.tryAcquire(site.Domain) {
			skipped.Add(1)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(site *model.Site) {
			defer wg.Done()
			defer func() { <-sem }()
			defer c.release(site.Domain)

			c.checkAndPersist(ctx, site)
			scanned.Add(1)
		}(site)
	}
	wg.Wait()

	status.OK = true
	status.ScannedCount = int(scanned.Load())
	status.SkippedInFlight = int(skipped.Load())
	status.LastRunAt = time.Now().UTC()
	c.saveStatus(ctx, status)
	c.appendLog(ctx, "info", model.ScanEventDone, "",
		fmt.Sprintf("スキャンサイクルが完了しました（%d/%dサイト）", status.ScannedCount, status.SiteCount))
	c.metrics.RecordScanCycle(true)

	c.logger.Info("スキャンサイクルが完了しました",
		slog.Int("site_count", status.SiteCount),
		slog.Int("scanned_count", status.ScannedCount),
		slog.Int("skipped_in_flight", status.SkippedInFlight),
		slog.String("source", status.ProviderSource),
	)
	return status, nil
}

// RunOne は指定ドメインのサイトだけをスキャンする。
// 同一ドメインのスキャンが実行中の場合は拒否する。
func (c *Coordinator) RunOne(ctx context.Context, domain string) (*model.ScanStatus, error) {
	domain = model.NormalizeDomain(domain)
	if domain == "" {
		return nil, model.NewInvalidDomainError()
	}

	now := time.Now().UTC()
	status := &model.ScanStatus{Domain: domain, StartedAt: now}

	sites, err := c.resolveSites(ctx, status, c.snapshotConfig(ctx))
	if err != nil {
		status.OK = false
		status.Error = err.Error()
		status.LastRunAt = time.Now().UTC()
		return status, err
	}

	var target *model.Site
	for i := range sites {
		if sites[i].Domain == domain {
			target = &sites[i]
			break
		}
	}
	if target == nil {
		return nil, model.NewSiteNotFoundError(domain)
	}

	if !c.tryAcquire(domain) {
		return nil, model.NewAlreadyScanningError(domain)
	}
	defer c.release(domain)

	c.checkAndPersist(ctx, target)

	status.OK = true
	status.SiteCount = 1
	status.ScannedCount = 1
	status.LastRunAt = time.Now().UTC()
	return status, nil
}

// LoadStatus は最後に保存されたフルスキャンの集計結果を返す。
// まだスキャンが実行されていない場合は found=false を返す。
func (c *Coordinator) LoadStatus(ctx context.Context) (*model.ScanStatus, bool, error) {
	var status model.ScanStatus
	found, err := c.kvRepo.GetJSON(ctx, scanStatusKey, &status)
	if err != nil || !found {
		return nil, false, err
	}
	return &status, true, nil
}

// resolveSites はスキャン対象のサイト一覧を解決する。
// MoviePilotライブ取得 → 永続キャッシュ → 状態スナップショットの順に
// フォールバックし、最後に手動/上書きエントリをマージする。
func (c *Coordinator) resolveSites(ctx context.Context, status *model.ScanStatus, cc cycleConfig) ([]model.Site, error) {
	now := time.Now().UTC()

	entries, err := c.store.Entries(ctx)
	if err != nil {
		c.logger.Warn("サイトエントリの読み込みに失敗しました", slog.String("error", err.Error()))
		entries = map[string]sitelist.SiteEntry{}
	}

	var mpSites []model.Site
	source := model.SiteListSourceNone
	providerErr := ""

	if c.lister != nil {
		fingerprint := health.FingerprintMoviePilot(c.cfg.MoviePilotBaseURL)
		if c.health == nil || c.health.CanAttempt(ctx, health.DepMoviePilot, fingerprint, now) {
			sites, err := c.lister.ListSites(ctx)
			if err != nil {
				providerErr = err.Error()
				c.logger.Warn("MoviePilotからのサイト一覧取得に失敗しました", slog.String("error", providerErr))
				if c.health != nil {
					if markErr := c.health.MarkFail(ctx, health.DepMoviePilot, fingerprint, providerErr, now); markErr != nil {
						c.logger.Warn("依存状態の保存に失敗しました", slog.String("error", markErr.Error()))
					}
				}
			} else {
				mpSites = sites
				source = model.SiteListSourceLive
				if c.health != nil {
					if markErr := c.health.MarkOK(ctx, health.DepMoviePilot, fingerprint, now); markErr != nil {
						c.logger.Warn("依存状態の保存に失敗しました", slog.String("error", markErr.Error()))
					}
				}
				if saveErr := c.store.SaveCache(ctx, c.cfg.MoviePilotBaseURL, sites, now); saveErr != nil {
					c.logger.Warn("サイトリストキャッシュの保存に失敗しました", slog.String("error", saveErr.Error()))
				}
			}
		} else {
			providerErr = "moviepilot is in retry cooldown"
		}
	}

	if source != model.SiteListSourceLive {
		cache, err := c.store.LoadCache(ctx)
		if err != nil {
			c.logger.Warn("サイトリストキャッシュの読み込みに失敗しました", slog.String("error", err.Error()))
		} else if cache != nil {
			age := int(cache.Age(now).Seconds())
			expired := cache.Expired(now, cc.cacheTTL, c.cfg.MoviePilotBaseURL)
			status.CacheFetchedAt = cache.FetchedAt.Format(time.RFC3339)
			status.CacheAgeSeconds = &age
			status.CacheExpired = &expired
			if !expired {
				mpSites = cache.SiteList()
				source = model.SiteListSourceCache
				status.Warning = fmt.Sprintf("MoviePilotに接続できないためキャッシュを使用します（%d秒前に取得）", age)
			}
		}
	}

	if source == model.SiteListSourceNone && c.lister != nil {
		states, err := c.stateRepo.List(ctx)
		if err != nil {
			c.logger.Warn("サイト状態一覧の読み込みに失敗しました", slog.String("error", err.Error()))
		} else {
			for _, st := range states {
				if st.URL == "" {
					continue
				}
				mpSites = append(mpSites, model.Site{
					Name:     st.Name,
					Domain:   st.Domain,
					URL:      st.URL,
					Engine:   st.Engine,
					IsActive: true,
				})
			}
			if len(mpSites) > 0 {
				source = model.SiteListSourceState
				status.Warning = "MoviePilotにもキャッシュにも到達できないため前回の状態スナップショットを使用します"
			}
		}
	}

	status.ProviderOK = providerErr == ""
	status.ProviderError = providerErr
	status.ProviderSource = source

	merged := sitelist.Merge(mpSites, entries)
	if len(merged) == 0 {
		return nil, model.NewNoSitesError(providerErr)
	}
	return merged, nil
}

// checkAndPersist は1サイト分の確認・永続化・通知を実行する。
func (c *Coordinator) checkAndPersist(ctx context.Context, site *model.Site) {
	cookie := strings.TrimSpace(site.CookieOverride)
	if cookie == "" {
		if c.cookies != nil {
			cookie = c.cookies.CookieHeaderFor(ctx, site.URL, site.Cookie)
		} else {
			cookie = strings.TrimSpace(site.Cookie)
		}
	}

	now := time.Now().UTC()
	start := time.Now()
	result := c.checker.CheckSite(ctx, site, cookie, now)
	c.metrics.RecordFetchLatency(time.Since(start))
	c.sanitizeResult(&result)

	c.metrics.RecordSiteCheck("registration", string(result.Registration.State))
	c.metrics.RecordSiteCheck("invites", string(result.Invites.State))
	if result.Reachability.Evidence.HTTPStatus != 0 {
		c.metrics.RecordHTTPStatus(result.Reachability.Evidence.HTTPStatus)
	}

	prev, err := c.stateRepo.FindByDomain(ctx, site.Domain)
	if err != nil {
		c.logger.Error("前回状態の読み込みに失敗しました",
			slog.String("domain", site.Domain),
			slog.String("error", err.Error()))
		return
	}
	changes := diff.Changes(prev, &result)

	state := siteStateFrom(&result, now)
	if len(changes) > 0 {
		state.LastChangedAt = &now
	}
	if err := c.stateRepo.Upsert(ctx, state); err != nil {
		c.logger.Error("サイト状態の保存に失敗しました",
			slog.String("domain", site.Domain),
			slog.String("error", err.Error()))
		return
	}

	c.appendLog(ctx, "info", model.ScanEventSiteChecked, site.Domain,
		fmt.Sprintf("注册=%s (%s) 邀请=%s (%s)",
			result.Registration.State, result.Registration.Evidence.Reason,
			result.Invites.State, result.Invites.Evidence.Reason))

	if len(changes) == 0 {
		return
	}

	c.metrics.RecordStateTransition(site.Domain)
	c.appendLog(ctx, "info", model.ScanEventStateChange, site.Domain, strings.Join(changes, "; "))

	if c.notifier != nil {
		c.notifier.Send(ctx, diff.NotificationTitle, diff.Notification(&result, changes))
		c.metrics.RecordNotificationSent()
		c.appendLog(ctx, "info", model.ScanEventNotify, site.Domain, "状態変化を通知しました")
	}
}

// notifySiteListChanges は有効サイト一覧の増減・変更を検知して通知する。
// 初回（前回サマリーなし）は基準線の確立であり通知しない。
func (c *Coordinator) notifySiteListChanges(ctx context.Context, sites []model.Site, now time.Time) {
	cur := sitelist.BuildSummary(sites, now)
	prev, found, err := c.store.LoadSummary(ctx)
	if err != nil {
		c.logger.Warn("サイトリストサマリーの読み込みに失敗しました", slog.String("error", err.Error()))
		return
	}

	if found {
		d := sitelist.DiffSummary(prev, cur)
		if !d.Empty() {
			lines := sitelist.FormatDiffLines(d, cur)
			c.appendLog(ctx, "info", model.ScanEventSiteList, "", strings.Join(lines, "; "))
			if c.notifier != nil {
				c.notifier.Send(ctx, SiteListChangeTitle, strings.Join(lines, "\n"))
			}
		}
	}
	if err := c.store.SaveSummary(ctx, cur); err != nil {
		c.logger.Warn("サイトリストサマリーの保存に失敗しました", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) sanitizeResult(result *model.SiteCheckResult) {
	for _, ev := range []*model.Evidence{
		&result.Reachability.Evidence,
		&result.Registration.Evidence,
		&result.Invites.Evidence,
	} {
		ev.Matched = c.sanitizer.Sanitize(ev.Matched)
		ev.Detail = c.sanitizer.Sanitize(ev.Detail)
	}
}

func (c *Coordinator) tryAcquire(domain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[domain] {
		return false
	}
	c.inFlight[domain] = true
	return true
}

func (c *Coordinator) release(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, domain)
}

func (c *Coordinator) saveStatus(ctx context.Context, status *model.ScanStatus) {
	if err := c.kvRepo.SetJSON(ctx, scanStatusKey, status); err != nil {
		c.logger.Warn("スキャン状態の保存に失敗しました", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) appendLog(ctx context.Context, level, event, domain, message string) {
	entry := &model.ScanLogEntry{
		Level:   level,
		Event:   event,
		Domain:  domain,
		Message: message,
	}
	if err := c.logRepo.Append(ctx, entry); err != nil {
		c.logger.Warn("スキャンログの書き込みに失敗しました",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// siteStateFrom は確認結果から永続化行を組み立てる。
func siteStateFrom(result *model.SiteCheckResult, now time.Time) *model.SiteState {
	evidence, err := json.Marshal(map[string]model.Evidence{
		"reachability": result.Reachability.Evidence,
		"registration": result.Registration.Evidence,
		"invites":      result.Invites.Evidence,
	})
	if err != nil {
		evidence = []byte("{}")
	}
	return &model.SiteState{
		Domain:            model.NormalizeDomain(result.Site.Domain),
		Name:              result.Site.Name,
		URL:               result.Site.URL,
		Engine:            result.Engine,
		RegistrationState: result.Registration.State,
		InvitesState:      result.Invites.State,
		InvitesAvailable:  result.Invites.Available,
		InvitesPermanent:  result.Invites.Permanent,
		InvitesTemporary:  result.Invites.Temporary,
		LastCheckedAt:     now,
		LastEvidence:      string(evidence),
	}
}
