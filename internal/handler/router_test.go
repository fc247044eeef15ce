package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/ptwatch/internal/middleware"
)

func newTestRouter(t *testing.T, scanner *stubScanService) http.Handler {
	t.Helper()

	cfg := testConfig()
	cfg.BasicAuthUsername = "admin"
	cfg.BasicAuthPassword = "secret"

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:      slog.Default(),
		Config:      cfg,
		RateLimiter: rl,
		Scanner:     scanner,
		Store:       &stubSiteStore{},
		Notify:      &stubNotifyService{},
		LogRepo:     &stubLogRepo{},
		Gatherer:    prometheus.NewRegistry(),
	})
}

func TestRouter_HealthWithoutAuth(t *testing.T) {
	router := newTestRouter(t, &stubScanService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("認証なしの/healthが%dではありません: got %d", http.StatusOK, rec.Code)
	}
}

func TestRouter_MetricsWithoutAuth(t *testing.T) {
	router := newTestRouter(t, &stubScanService{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("認証なしの/metricsが%dではありません: got %d", http.StatusOK, rec.Code)
	}
}

func TestRouter_APIRequiresAuth(t *testing.T) {
	router := newTestRouter(t, &stubScanService{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("認証なしの/api/statusが%dではありません: got %d", http.StatusUnauthorized, rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticateヘッダーがありません")
	}
}

func TestRouter_APIWithAuth(t *testing.T) {
	router := newTestRouter(t, &stubScanService{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("認証ありの/api/statusが%dではありません: got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("セキュリティヘッダーが設定されていません: got %q", got)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
}

func TestRouter_ScanRunRoute(t *testing.T) {
	scanner := &stubScanService{runAllDone: make(chan struct{})}
	router := newTestRouter(t, scanner)

	req := httptest.NewRequest(http.MethodPost, "/api/scan/run", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("POST /api/scan/runが%dではありません: got %d", http.StatusAccepted, rec.Code)
	}

	select {
	case <-scanner.runAllDone:
	case <-time.After(time.Second):
		t.Fatal("バックグラウンドスキャンが開始されませんでした")
	}
}

func TestRouter_ConfigMaskedThroughFullStack(t *testing.T) {
	router := newTestRouter(t, &stubScanService{})

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/configが%dではありません: got %d", http.StatusOK, rec.Code)
	}
	var view configView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if view.MoviePilot.Password != maskedSecret {
		t.Errorf("パスワードがマスクされていません: got %q", view.MoviePilot.Password)
	}
}
