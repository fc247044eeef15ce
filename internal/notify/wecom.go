package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/ptwatch/internal/fetch"
)

// WeComBaseURL は企業微信APIの既定の接続先。
const WeComBaseURL = "https://qyapi.weixin.qq.com"

// アクセストークンの残り有効期間がこの値を下回ったら再取得する。
const wecomTokenSlack = 30 * time.Second

// WeCom は企業微信のアプリメッセージで通知を送る。
// アクセストークンは有効期限までプロセス内にキャッシュする。
type WeCom struct {
	client    *fetch.Client
	baseURL   string
	corpID    string
	appSecret string
	agentID   string
	toUser    string
	toParty   string
	toTag     string
	now       func() time.Time

	mu             sync.Mutex
	token          string
	tokenExpiresAt time.Time
}

// WeComOptions はWeCom通知チャンネルの生成パラメータ。
type WeComOptions struct {
	// BaseURL が空の場合は本番APIを使う。
	BaseURL   string
	CorpID    string
	AppSecret string
	AgentID   string
	// ToUser が空の場合は全員（@all）宛てになる。
	ToUser  string
	ToParty string
	ToTag   string
}

// NewWeCom はWeCom通知チャンネルを生成する。
func NewWeCom(client *fetch.Client, opts WeComOptions) *WeCom {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = WeComBaseURL
	}
	toUser := opts.ToUser
	if toUser == "" {
		toUser = "@all"
	}
	return &WeCom{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		corpID:    opts.CorpID,
		appSecret: opts.AppSecret,
		agentID:   opts.AgentID,
		toUser:    toUser,
		toParty:   opts.ToParty,
		toTag:     opts.ToTag,
		now:       time.Now,
	}
}

type wecomTokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type wecomSendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (w *WeCom) getToken(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.token != "" && w.tokenExpiresAt.After(now.Add(wecomTokenSlack)) {
		return w.token, nil
	}

	query := neturl.Values{}
	query.Set("corpid", w.corpID)
	query.Set("corpsecret", w.appSecret)
	resp, err := w.client.Get(ctx, w.baseURL+"/cgi-bin/gettoken?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("wecom gettoken failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wecom gettoken failed: status %d", resp.StatusCode)
	}

	var payload wecomTokenResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("wecom gettoken failed: invalid response: %w", err)
	}
	if payload.ErrCode != 0 || payload.AccessToken == "" {
		return "", fmt.Errorf("wecom gettoken failed: errcode=%d %s", payload.ErrCode, payload.ErrMsg)
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 7200
	}
	w.token = payload.AccessToken
	w.tokenExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	return w.token, nil
}

// Send はテキストメッセージを送信する。
func (w *WeCom) Send(ctx context.Context, text string) error {
	token, err := w.getToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"touser":  w.toUser,
		"toparty": w.toParty,
		"totag":   w.toTag,
		"msgtype": "text",
		"agentid": w.agentID,
		"text":    map[string]string{"content": text},
		"safe":    0,
	})
	if err != nil {
		return err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	resp, err := w.client.Post(ctx, w.baseURL+"/cgi-bin/message/send?access_token="+neturl.QueryEscape(token), headers, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("wecom send failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wecom send failed: status %d", resp.StatusCode)
	}

	var result wecomSendResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("wecom send failed: invalid response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("wecom send failed: errcode=%d %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// compile-time interface check
var _ Notifier = (*WeCom)(nil)
