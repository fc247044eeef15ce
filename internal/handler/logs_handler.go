package handler

import (
	"net/http"
	"strconv"

	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/repository"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

// LogsHandler はスキャンログ参照のHTTPハンドラー。
type LogsHandler struct {
	logRepo repository.ScanLogRepository
}

// NewLogsHandler はLogsHandlerを生成する。
func NewLogsHandler(logRepo repository.ScanLogRepository) *LogsHandler {
	return &LogsHandler{logRepo: logRepo}
}

// logsResponse はGET /api/logsのレスポンス。
type logsResponse struct {
	Logs []*model.ScanLogEntry `json:"logs"`
}

// List はスキャンログを新しい順で返す。
// GET /api/logs?domain=&limit=
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	domain := model.NormalizeDomain(r.URL.Query().Get("domain"))

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     model.ErrCodeInvalidConfig,
				Message:  "limitは1以上の整数で指定してください。",
				Category: "validation",
				Action:   "クエリパラメータを確認してください。",
			})
			return
		}
		limit = n
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	logs, err := h.logRepo.List(r.Context(), domain, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []*model.ScanLogEntry{}
	}
	writeJSONResponse(w, http.StatusOK, logsResponse{Logs: logs})
}
