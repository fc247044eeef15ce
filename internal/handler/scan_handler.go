package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/worker/scan"
)

// ScanServiceInterface はスキャンハンドラーが必要とするサービスインターフェース。
type ScanServiceInterface interface {
	// RunAll は全サイトのスキャンサイクルを1回実行する。
	RunAll(ctx context.Context) (*model.ScanStatus, error)
	// RunOne は指定ドメインのサイトだけをスキャンする。
	RunOne(ctx context.Context, domain string) (*model.ScanStatus, error)
	// LoadStatus は最後に保存されたスキャン集計結果を返す。
	LoadStatus(ctx context.Context) (*model.ScanStatus, bool, error)
	// Running はフルスキャンが実行中かどうかを返す。
	Running() bool
	// InFlightDomains は現在スキャン中のドメイン集合を返す。
	InFlightDomains() map[string]bool
	// ListStates は永続化されたサイト状態の一覧を返す。
	ListStates(ctx context.Context) ([]*model.SiteState, error)
	// LoadOverrides / SaveOverrides は実行時設定の上書きを読み書きする。
	LoadOverrides(ctx context.Context) (scan.ConfigOverrides, error)
	SaveOverrides(ctx context.Context, overrides scan.ConfigOverrides) error
}

// ScanHandler はスキャン実行のHTTPハンドラー。
type ScanHandler struct {
	scanner ScanServiceInterface
	logger  *slog.Logger
}

// NewScanHandler はScanHandlerを生成する。
func NewScanHandler(scanner ScanServiceInterface, logger *slog.Logger) *ScanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanHandler{scanner: scanner, logger: logger}
}

// RunAll は全サイトのスキャンをバックグラウンドで開始する。
// POST /api/scan/run
// 実行中の場合は409を返し、キューには積まない。
func (h *ScanHandler) RunAll(w http.ResponseWriter, r *http.Request) {
	if h.scanner.Running() {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewAlreadyScanningError(""))
		return
	}

	// スキャンはリクエストより長く生きるため、リクエストのコンテキストに紐付けない
	go func() {
		if _, err := h.scanner.RunAll(context.Background()); err != nil {
			h.logger.Error("手動スキャンの実行に失敗しました",
				slog.String("error", err.Error()))
		}
	}()

	writeJSONResponse(w, http.StatusAccepted, map[string]any{
		"status": "started",
	})
}

// RunOne は指定ドメインのサイトをスキャンし、結果を同期的に返す。
// POST /api/scan/run/{domain}
func (h *ScanHandler) RunOne(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")

	status, err := h.scanner.RunOne(r.Context(), domain)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, status)
}
