package sitelist

import (
	"context"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
	"github.com/hitoshi/ptwatch/internal/repository"
)

const (
	entriesKey = "sites"
	cacheKey   = "moviepilot_sites_cache"
	summaryKey = "effective_sites_summary"

	entriesVersion = 1
)

type entriesDoc struct {
	Version int                  `json:"version"`
	Entries map[string]SiteEntry `json:"entries"`
}

// Store はサイト一覧関連のKV永続化をまとめたサービス。
type Store struct {
	kvRepo repository.KVRepository
}

// NewStore は新しいStoreを作成する。
func NewStore(kvRepo repository.KVRepository) *Store {
	return &Store{kvRepo: kvRepo}
}

// Entries は手動/上書きエントリをドメインをキーに読み込む。
// 未保存または版不一致の場合は空のマップを返す。
func (s *Store) Entries(ctx context.Context) (map[string]SiteEntry, error) {
	var doc entriesDoc
	found, err := s.kvRepo.GetJSON(ctx, entriesKey, &doc)
	if err != nil {
		return nil, err
	}
	if !found || doc.Version != entriesVersion || doc.Entries == nil {
		return map[string]SiteEntry{}, nil
	}
	normalized := make(map[string]SiteEntry, len(doc.Entries))
	for rawDomain, entry := range doc.Entries {
		domain := model.NormalizeDomain(rawDomain)
		if domain == "" {
			continue
		}
		normalized[domain] = entry
	}
	return normalized, nil
}

// SaveEntries はエントリ一覧を保存する。
func (s *Store) SaveEntries(ctx context.Context, entries map[string]SiteEntry) error {
	if entries == nil {
		entries = map[string]SiteEntry{}
	}
	return s.kvRepo.SetJSON(ctx, entriesKey, entriesDoc{Version: entriesVersion, Entries: entries})
}

// LoadCache はMoviePilotサイト一覧のキャッシュを読み込む。
// 見つからない、または版が読めない場合は (nil, nil) を返す。
func (s *Store) LoadCache(ctx context.Context) (*Cache, error) {
	var cache Cache
	found, err := s.kvRepo.GetJSON(ctx, cacheKey, &cache)
	if err != nil {
		return nil, err
	}
	if !found || !cache.Valid() {
		return nil, nil
	}
	return &cache, nil
}

// SaveCache はMoviePilotから取得したサイト一覧をキャッシュに保存する。
func (s *Store) SaveCache(ctx context.Context, baseURL string, sites []model.Site, fetchedAt time.Time) error {
	return s.kvRepo.SetJSON(ctx, cacheKey, BuildCache(baseURL, sites, fetchedAt))
}

// LoadSummary は前回の有効サイト一覧サマリーを読み込む。
// 見つからない場合は found=false を返す。
func (s *Store) LoadSummary(ctx context.Context) (Summary, bool, error) {
	var summary Summary
	found, err := s.kvRepo.GetJSON(ctx, summaryKey, &summary)
	if err != nil {
		return Summary{}, false, err
	}
	if !found || !summary.Valid() {
		return Summary{}, false, nil
	}
	if summary.Items == nil {
		summary.Items = map[string]SummaryItem{}
	}
	return summary, true, nil
}

// SaveSummary は有効サイト一覧サマリーを保存する。
func (s *Store) SaveSummary(ctx context.Context, summary Summary) error {
	return s.kvRepo.SetJSON(ctx, summaryKey, summary)
}
