package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/notify"
)

func newNotificationRouter(h *NotificationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/notifications", h.GetSettings)
	r.Put("/api/notifications", h.UpdateSettings)
	r.Post("/api/notifications/test/{channel}", h.Test)
	return r
}

func TestGetNotificationSettings(t *testing.T) {
	svc := &stubNotifyService{
		settings: notify.Settings{
			Telegram: notify.TelegramSettings{Enabled: true, Token: "tg-token", ChatID: "123"},
		},
	}
	h := NewNotificationHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	rec := httptest.NewRecorder()
	newNotificationRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが%dではありません: got %d", http.StatusOK, rec.Code)
	}
	var settings notify.Settings
	if err := json.NewDecoder(rec.Body).Decode(&settings); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if !settings.Telegram.Enabled || settings.Telegram.Token != "tg-token" {
		t.Errorf("設定が返されていません: %+v", settings.Telegram)
	}
}

func TestUpdateNotificationSettings(t *testing.T) {
	svc := &stubNotifyService{}
	h := NewNotificationHandler(svc)

	body := strings.NewReader(`{"telegram": {"enabled": true, "token": "new-token", "chat_id": "456"}}`)
	req := httptest.NewRequest(http.MethodPut, "/api/notifications", body)
	rec := httptest.NewRecorder()
	newNotificationRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが%dではありません: got %d", http.StatusOK, rec.Code)
	}
	if svc.saved == nil {
		t.Fatal("SaveSettingsが呼ばれていません")
	}
	if svc.saved.Telegram.Token != "new-token" || svc.saved.Telegram.ChatID != "456" {
		t.Errorf("保存された設定が不正です: %+v", svc.saved.Telegram)
	}
}

func TestUpdateNotificationSettings_RejectsInvalidJSON(t *testing.T) {
	svc := &stubNotifyService{}
	h := NewNotificationHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/notifications", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	newNotificationRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ステータスコードが%dではありません: got %d", http.StatusBadRequest, rec.Code)
	}
	if svc.saved != nil {
		t.Error("不正なJSONでSaveSettingsを呼ぶべきではありません")
	}
}

func TestNotificationTest_KnownChannels(t *testing.T) {
	for _, channel := range []string{"telegram", "wecom"} {
		t.Run(channel, func(t *testing.T) {
			svc := &stubNotifyService{testOK: true, testDetail: "送信しました"}
			h := NewNotificationHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/notifications/test/"+channel, nil)
			rec := httptest.NewRecorder()
			newNotificationRouter(h).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("ステータスコードが%dではありません: got %d", http.StatusOK, rec.Code)
			}
			var resp testResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("レスポンスの解析に失敗しました: %v", err)
			}
			if !resp.OK || resp.Channel != channel {
				t.Errorf("テスト結果が不正です: %+v", resp)
			}
			if svc.testChannel != channel {
				t.Errorf("Testに渡されたチャンネルが不正です: got %q", svc.testChannel)
			}
		})
	}
}

func TestNotificationTest_UnknownChannel(t *testing.T) {
	svc := &stubNotifyService{}
	h := NewNotificationHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/test/slack", nil)
	rec := httptest.NewRecorder()
	newNotificationRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ステータスコードが%dではありません: got %d", http.StatusBadRequest, rec.Code)
	}
	if body := decodeErrorResponse(t, rec); body.Code != model.ErrCodeUnknownChannel {
		t.Errorf("エラーコードが%sではありません: got %s", model.ErrCodeUnknownChannel, body.Code)
	}
	if svc.testChannel != "" {
		t.Error("未知のチャンネルでTestを呼ぶべきではありません")
	}
}

func TestNotificationTest_ReportsFailureDetail(t *testing.T) {
	svc := &stubNotifyService{testOK: false, testDetail: "チャンネルが設定されていません"}
	h := NewNotificationHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/test/telegram", nil)
	rec := httptest.NewRecorder()
	newNotificationRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが%dではありません: got %d", http.StatusOK, rec.Code)
	}
	var resp testResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if resp.OK {
		t.Error("okがfalseではありません")
	}
	if resp.Detail != "チャンネルが設定されていません" {
		t.Errorf("detailが不正です: got %q", resp.Detail)
	}
}
