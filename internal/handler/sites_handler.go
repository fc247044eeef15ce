package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/sitelist"
)

// SitesHandler はサイトエントリ管理のHTTPハンドラー。
type SitesHandler struct {
	store SiteStoreInterface
}

// NewSitesHandler はSitesHandlerを生成する。
func NewSitesHandler(store SiteStoreInterface) *SitesHandler {
	return &SitesHandler{store: store}
}

// sitesResponse はGET/PUT /api/sitesのレスポンス。
type sitesResponse struct {
	Sites map[string]sitelist.SiteEntry `json:"sites"`
}

// GetSites は手動/上書きエントリの一覧を返す。
// GET /api/sites
func (h *SitesHandler) GetSites(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.Entries(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if entries == nil {
		entries = map[string]sitelist.SiteEntry{}
	}
	writeJSONResponse(w, http.StatusOK, sitesResponse{Sites: entries})
}

// UpdateSites は手動/上書きエントリの一覧を置き換える。
// PUT /api/sites
func (h *SitesHandler) UpdateSites(w http.ResponseWriter, r *http.Request) {
	var req sitesResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidConfig,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	normalized, err := normalizeSiteEntries(req.Sites)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.store.SaveEntries(r.Context(), normalized); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, sitesResponse{Sites: normalized})
}

// normalizeSiteEntries はエントリのキーを正規化し、内容を検証する。
// manualエントリはURL必須、modeはoverride/manualのいずれか。
func normalizeSiteEntries(entries map[string]sitelist.SiteEntry) (map[string]sitelist.SiteEntry, error) {
	normalized := make(map[string]sitelist.SiteEntry, len(entries))
	for rawDomain, entry := range entries {
		domain := model.NormalizeDomain(rawDomain)
		if domain == "" {
			return nil, model.NewInvalidConfigError(
				fmt.Sprintf("サイトのドメイン %q は不正です。", rawDomain))
		}

		mode := strings.ToLower(strings.TrimSpace(entry.Mode))
		switch mode {
		case "", sitelist.ModeOverride, sitelist.ModeManual:
		default:
			return nil, model.NewInvalidConfigError(
				fmt.Sprintf("サイト %s のmode %q は不正です（override/manualのみ）。", domain, entry.Mode))
		}

		if mode == sitelist.ModeManual && strings.TrimSpace(entry.URL) == "" {
			return nil, model.NewInvalidConfigError(
				fmt.Sprintf("manualエントリ %s にはurlが必要です。", domain))
		}
		entry.Mode = mode

		normalized[domain] = entry
	}
	return normalized, nil
}
