package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/notify"
)

// NotificationHandler は通知設定とテスト送信のHTTPハンドラー。
type NotificationHandler struct {
	notify NotifyServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(notifySvc NotifyServiceInterface) *NotificationHandler {
	return &NotificationHandler{notify: notifySvc}
}

// GetSettings は通知設定を返す。
// GET /api/notifications
// 編集画面での往復を想定してトークン類もそのまま返す。
// 秘匿が必要な用途には /api/export のリダクションを使う。
func (h *NotificationHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.notify.LoadSettings(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settings)
}

// UpdateSettings は通知設定を置き換える。
// PUT /api/notifications
func (h *NotificationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body notify.Settings
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidConfig,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if err := h.notify.SaveSettings(r.Context(), body); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, body)
}

// testResponse はPOST /api/notifications/test/{channel}のレスポンス。
type testResponse struct {
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// Test は指定チャンネルへテスト通知を送る。
// POST /api/notifications/test/{channel}
func (h *NotificationHandler) Test(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	switch channel {
	case "telegram", "wecom":
	default:
		handleServiceError(w, model.NewUnknownChannelError(channel))
		return
	}

	ok, detail := h.notify.Test(r.Context(), channel)
	writeJSONResponse(w, http.StatusOK, testResponse{
		Channel: channel,
		OK:      ok,
		Detail:  detail,
	})
}
