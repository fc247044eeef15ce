// Package fetch はサイト取得用のHTTPクライアントを提供する。
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// maxBodySize はレスポンスボディの最大読み込みサイズ（2MB）。
// シグナップページ・招待ページの判定にはこれで十分。
const maxBodySize = 2 * 1024 * 1024

// Response はHTTPフェッチの結果を表す。
type Response struct {
	// StatusCode は最終レスポンスのHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ（maxBodySizeで打ち切り）。
	Body []byte
	// FinalURL はリダイレクト追従後の最終URL。
	FinalURL string
	// Attempts は実際に行ったリクエスト試行回数。
	Attempts int
}

// Client はリトライ付きHTTPクライアント。
// 一時的な失敗（408/429/5xx/接続エラー）に対して固定遅延でリトライする。
// 指数バックオフは使わない。スキャン間隔が十分長く、
// サイト側のレート制限を悪化させない範囲で即座に確定させたいため。
type Client struct {
	httpClient *http.Client
	userAgent  string
	attempts   int
	delay      time.Duration
	logger     *slog.Logger
}

// Options はClientの生成パラメータ。
type Options struct {
	// Timeout は1リクエストあたりのタイムアウト。
	Timeout time.Duration
	// UserAgent は空でない場合すべてのリクエストに付与される。
	UserAgent string
	// Attempts は最大試行回数（リトライ含む）。1未満は1に補正される。
	Attempts int
	// Delay はリトライ間の固定遅延。
	Delay time.Duration
	// TrustProxyEnv がfalseの場合、HTTP_PROXY等の環境変数を無視する。
	TrustProxyEnv bool
}

// NewClient はClientを生成する。
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.TrustProxyEnv {
		// プロキシ環境変数経由の意図しない経路迂回を防ぐ
		transport.Proxy = nil
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent: opts.UserAgent,
		attempts:  opts.Attempts,
		delay:     opts.Delay,
		logger:    logger,
	}
}

// IsRetryableStatus は一時的な失敗としてリトライ対象となるHTTPステータスか判定する。
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= 500
}

// Get はGETリクエストを実行し、リトライ対象の失敗に対して固定遅延で再試行する。
// headersには Cookie や Authorization などサイトごとのヘッダを渡す。
// 最後の試行もリトライ対象ステータスだった場合、そのレスポンスをエラーなしで返す。
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	return c.withRetry(ctx, rawURL, func(ctx context.Context) (*Response, error) {
		return c.do(ctx, rawURL, headers)
	})
}

// withRetry は固定遅延リトライポリシーでsendを実行する。
// キャンセル・タイムアウトはリトライせず即座に返す。
func (c *Client) withRetry(ctx context.Context, rawURL string, send func(context.Context) (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, c.delay); err != nil {
				return nil, err
			}
		}

		resp, err := send(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// キャンセル・タイムアウトはリトライしない
				return nil, ctx.Err()
			}
			lastErr = err
			c.logger.Warn("HTTPリクエストに失敗しました（リトライ対象）",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		resp.Attempts = attempt
		if IsRetryableStatus(resp.StatusCode) && attempt < c.attempts {
			c.logger.Warn("一時的なHTTPステータスのためリトライします",
				slog.String("url", rawURL),
				slog.Int("http_status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			lastErr = nil
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", c.attempts, lastErr)
	}
	return nil, fmt.Errorf("request failed after %d attempts", c.attempts)
}

func (c *Client) do(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.applyHeaders(req, headers)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}

// Post はJSONボディ付きのPOSTリクエストを実行する。リトライは行わない。
// M-Team APIやMoviePilotのような冪等でないAPI呼び出しに使う。
func (c *Client) Post(ctx context.Context, rawURL string, headers map[string]string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.applyHeaders(req, headers)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		FinalURL:   finalURL,
		Attempts:   1,
	}, nil
}

// PostRetry は冪等なPOSTリクエストをGetと同じ固定遅延リトライポリシーで実行する。
// CookieCloudの get/{uuid} のように、メソッドはPOSTだが実態が読み取りである
// エンドポイントに使う。試行ごとにbodyから新しいリーダーを作り直す。
func (c *Client) PostRetry(ctx context.Context, rawURL string, headers map[string]string, body []byte) (*Response, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	return c.withRetry(ctx, rawURL, func(ctx context.Context) (*Response, error) {
		return c.Post(ctx, rawURL, headers, bytes.NewReader(body))
	})
}

func (c *Client) applyHeaders(req *http.Request, headers map[string]string) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}

// sleepContext はコンテキストのキャンセルを考慮してスリープする。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
