// Package notify は状態変化の通知チャンネル（Telegram / WeCom）を提供する。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/ptwatch/internal/fetch"
)

// TelegramBaseURL はTelegram Bot APIの既定の接続先。
const TelegramBaseURL = "https://api.telegram.org"

// Notifier は通知チャンネル1つ分の送信インタフェース。
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Telegram はBot APIのsendMessageで通知を送る。
type Telegram struct {
	client  *fetch.Client
	baseURL string
	token   string
	chatID  string
}

// NewTelegram はTelegram通知チャンネルを生成する。baseURLが空の場合は本番APIを使う。
func NewTelegram(client *fetch.Client, baseURL, token, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = TelegramBaseURL
	}
	return &Telegram{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
	}
}

// Send はテキストメッセージを送信する。
func (t *Telegram) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	resp, err := t.client.Post(ctx, t.baseURL+"/bot"+t.token+"/sendMessage", headers, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ Notifier = (*Telegram)(nil)
