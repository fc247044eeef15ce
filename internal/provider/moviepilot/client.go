// Package moviepilot はMoviePilotのバックエンドAPIクライアントを提供する。
// サイト一覧（URL・Cookie・UA込み）の取得元として使う。
package moviepilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"

	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/model"
)

// SiteLister はMoviePilotからサイト一覧を取得するインタフェース。
type SiteLister interface {
	ListSites(ctx context.Context) ([]model.Site, error)
}

// Client はMoviePilot APIクライアント。
// アクセストークンをプロセス内にキャッシュし、401で一度だけ再ログインする。
type Client struct {
	client      *fetch.Client
	baseURL     string
	username    string
	password    string
	otpPassword string
	logger      *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient はClientを生成する。baseURLは末尾スラッシュなしに正規化される。
func NewClient(client *fetch.Client, baseURL, username, password, otpPassword string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:      client,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:    username,
		password:    password,
		otpPassword: otpPassword,
		logger:      logger,
	}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type siteItem struct {
	ID       *int   `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	URL      string `json:"url"`
	UA       string `json:"ua"`
	Cookie   string `json:"cookie"`
	IsActive *bool  `json:"is_active"`
}

// login はアクセストークンを取得してキャッシュする。
func (c *Client) login(ctx context.Context) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("moviepilot base_url is empty (MP_BASE_URL)")
	}
	if c.username == "" || c.password == "" {
		return "", fmt.Errorf("moviepilot credentials missing (MP_USERNAME/MP_PASSWORD)")
	}

	form := neturl.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	if c.otpPassword != "" {
		form.Set("otp_password", c.otpPassword)
	}

	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}
	resp, err := c.client.Post(ctx, c.baseURL+"/api/v1/login/access-token", headers, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("moviepilot login failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		hint := ""
		if resp.StatusCode == http.StatusNotFound {
			// よくある設定ミス。リバースプロキシのフロントURLを指定しているケース。
			hint = " (MP_BASE_URLを確認してください。ブラウザで ${MP_BASE_URL}/docs が開ける必要があります)"
		}
		return "", fmt.Errorf("moviepilot login failed: status %d%s", resp.StatusCode, hint)
	}

	var payload loginResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("moviepilot login failed: invalid response: %w", err)
	}
	token := strings.TrimSpace(payload.AccessToken)
	if token == "" {
		return "", fmt.Errorf("moviepilot login failed: access_token missing")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) cachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ListSites は有効なサイトの一覧を取得する。
// キャッシュ済みトークンが401で拒否された場合は一度だけ再ログインする。
func (c *Client) ListSites(ctx context.Context) ([]model.Site, error) {
	token := c.cachedToken()
	if token == "" {
		var err error
		if token, err = c.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.listSitesWithToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Info("MoviePilotのトークンが失効したため再ログインします")
		if token, err = c.login(ctx); err != nil {
			return nil, err
		}
		if resp, err = c.listSitesWithToken(ctx, token); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moviepilot list sites failed: status %d", resp.StatusCode)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, fmt.Errorf("moviepilot list sites failed: response is not a list: %w", err)
	}

	sites := make([]model.Site, 0, len(items))
	for _, raw := range items {
		var item siteItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		isActive := item.IsActive == nil || *item.IsActive
		if !isActive {
			continue
		}
		url := strings.TrimSpace(item.URL)
		domain := model.NormalizeDomain(item.Domain)
		if domain == "" {
			domain = domainFromURL(url)
		}
		if domain == "" || url == "" {
			continue
		}
		sites = append(sites, model.Site{
			ID:        item.ID,
			Name:      firstNonEmpty(item.Name, domain),
			Domain:    domain,
			URL:       url,
			UserAgent: strings.TrimSpace(item.UA),
			Cookie:    strings.TrimSpace(item.Cookie),
			IsActive:  true,
		})
	}
	return sites, nil
}

func (c *Client) listSitesWithToken(ctx context.Context, token string) (*fetch.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}
	resp, err := c.client.Get(ctx, c.baseURL+"/api/v1/site/", headers)
	if err != nil {
		return nil, fmt.Errorf("moviepilot list sites failed: %w", err)
	}
	return resp, nil
}

func domainFromURL(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// compile-time interface check
var _ SiteLister = (*Client)(nil)
