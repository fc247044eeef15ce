// Package cookiecloud はCookieCloudサーバーからのCookie取得と、
// サイトごとのCookieヘッダ解決を提供する。
package cookiecloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/ptwatch/internal/fetch"
)

// CookieItem はCookieCloudが返すCookie1件。
type CookieItem struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	// Expires はUNIX秒。0以下は無期限扱い。
	Expires float64 `json:"expires,omitempty"`
}

// Fetcher はCookie一覧の取得元を抽象化する。
type Fetcher interface {
	FetchCookieItems(ctx context.Context) ([]CookieItem, error)
}

// Client はCookieCloudサーバーのAPIクライアント。
type Client struct {
	client   *fetch.Client
	baseURL  string
	uuid     string
	password string
}

// NewClient はClientを生成する。
func NewClient(client *fetch.Client, baseURL, uuid, password string) *Client {
	return &Client{
		client:   client,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		uuid:     strings.TrimSpace(uuid),
		password: password,
	}
}

type getResponse struct {
	CookieData map[string][]CookieItem `json:"cookie_data"`
}

// FetchCookieItems は全ドメイン分のCookieをフラットな一覧で取得する。
func (c *Client) FetchCookieItems(ctx context.Context) ([]CookieItem, error) {
	if c.baseURL == "" || c.uuid == "" || c.password == "" {
		return nil, fmt.Errorf("cookiecloud config missing (COOKIECLOUD_BASE_URL/UUID/PASSWORD)")
	}

	body, err := json.Marshal(map[string]string{"password": c.password})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	// POSTだが読み取り専用エンドポイントなので一時的な失敗はリトライする。
	resp, err := c.client.PostRetry(ctx, c.baseURL+"/get/"+c.uuid, headers, body)
	if err != nil {
		return nil, fmt.Errorf("cookiecloud request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cookiecloud request failed: status %d", resp.StatusCode)
	}

	var payload getResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("cookiecloud response is not valid JSON: %w", err)
	}

	var items []CookieItem
	for _, domainItems := range payload.CookieData {
		items = append(items, domainItems...)
	}
	return items, nil
}

// compile-time interface check
var _ Fetcher = (*Client)(nil)
