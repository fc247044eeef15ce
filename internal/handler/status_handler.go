package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/ptwatch/internal/config"
	"github.com/hitoshi/ptwatch/internal/health"
	"github.com/hitoshi/ptwatch/internal/model"
)

// DepHealthInterface は依存サービスの疎通状態の参照インターフェース。
type DepHealthInterface interface {
	Status(ctx context.Context, name string) (health.DepStatus, error)
}

// StatusHandler は監視状態ダッシュボードのHTTPハンドラー。
type StatusHandler struct {
	scanner ScanServiceInterface
	deps    DepHealthInterface
	cfg     *config.Config
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(scanner ScanServiceInterface, deps DepHealthInterface, cfg *config.Config) *StatusHandler {
	return &StatusHandler{scanner: scanner, deps: deps, cfg: cfg}
}

// --- レスポンス型 ---

// statusSiteRow はサイト1件分の状態行。
type statusSiteRow struct {
	Domain            string     `json:"domain"`
	Name              string     `json:"name"`
	URL               string     `json:"url"`
	Engine            string     `json:"engine"`
	RegistrationState string     `json:"registration_state"`
	InvitesState      string     `json:"invites_state"`
	InvitesDisplay    string     `json:"invites_display"`
	InvitesAvailable  *int       `json:"invites_available,omitempty"`
	LastCheckedAt     time.Time  `json:"last_checked_at"`
	LastChangedAt     *time.Time `json:"last_changed_at,omitempty"`
	Scanning          bool       `json:"scanning"`
}

// statusResponse はGET /api/statusのレスポンス。
type statusResponse struct {
	Sites        []statusSiteRow             `json:"sites"`
	Scan         *model.ScanStatus           `json:"scan,omitempty"`
	ScanRunning  bool                        `json:"scan_running"`
	Dependencies map[string]health.DepStatus `json:"dependencies,omitempty"`
}

// Health はプロセスの生存確認エンドポイント。
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status はサイト状態一覧とスキャン集計を返す。
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	states, err := h.scanner.ListStates(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	inFlight := h.scanner.InFlightDomains()

	rows := make([]statusSiteRow, 0, len(states))
	for _, st := range states {
		rows = append(rows, statusSiteRow{
			Domain:            st.Domain,
			Name:              st.Name,
			URL:               st.URL,
			Engine:            string(st.Engine),
			RegistrationState: string(st.RegistrationState),
			InvitesState:      string(st.InvitesState),
			InvitesDisplay:    model.InviteDisplay(st.InvitesPermanent, st.InvitesTemporary, st.InvitesAvailable),
			InvitesAvailable:  model.InviteTotal(st.InvitesPermanent, st.InvitesTemporary, st.InvitesAvailable),
			LastCheckedAt:     st.LastCheckedAt,
			LastChangedAt:     st.LastChangedAt,
			Scanning:          inFlight[st.Domain],
		})
	}

	resp := statusResponse{
		Sites:        rows,
		ScanRunning:  h.scanner.Running(),
		Dependencies: h.dependencyStatuses(r.Context()),
	}

	if scanStatus, found, err := h.scanner.LoadStatus(r.Context()); err == nil && found {
		resp.Scan = scanStatus
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// dependencyStatuses は設定済みの外部依存の疎通状態を集める。
func (h *StatusHandler) dependencyStatuses(ctx context.Context) map[string]health.DepStatus {
	if h.deps == nil {
		return nil
	}

	out := make(map[string]health.DepStatus)
	if h.cfg.MoviePilotEnabled() {
		if status, err := h.deps.Status(ctx, health.DepMoviePilot); err == nil {
			out[health.DepMoviePilot] = status
		}
	}
	if h.cfg.CookieCloudEnabled() {
		if status, err := h.deps.Status(ctx, health.DepCookieCloud); err == nil {
			out[health.DepCookieCloud] = status
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
