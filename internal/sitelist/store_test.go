package sitelist

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

type memoryKVRepo struct {
	values map[string]json.RawMessage
}

func newMemoryKVRepo() *memoryKVRepo {
	return &memoryKVRepo{values: make(map[string]json.RawMessage)}
}

func (r *memoryKVRepo) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok := r.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *memoryKVRepo) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.values[key] = raw
	return nil
}

func (r *memoryKVRepo) Delete(ctx context.Context, key string) error {
	delete(r.values, key)
	return nil
}

func TestStore_EntriesRoundTrip(t *testing.T) {
	store := NewStore(newMemoryKVRepo())
	ctx := context.Background()

	entries, err := store.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries でエラーが発生しました: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("未保存状態で空でないエントリが返されました: %+v", entries)
	}

	in := map[string]SiteEntry{
		"EXAMPLE.com": {Mode: ModeOverride, Cookie: "uid=1"},
	}
	if err := store.SaveEntries(ctx, in); err != nil {
		t.Fatalf("SaveEntries でエラーが発生しました: %v", err)
	}

	entries, err = store.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries でエラーが発生しました: %v", err)
	}
	entry, ok := entries["example.com"]
	if !ok {
		t.Fatalf("ドメインが正規化されて読み込まれていません: %+v", entries)
	}
	if entry.Cookie != "uid=1" {
		t.Errorf("エントリの内容が期待と異なります: %+v", entry)
	}
}

func TestStore_CacheRoundTrip(t *testing.T) {
	store := NewStore(newMemoryKVRepo())
	ctx := context.Background()

	cache, err := store.LoadCache(ctx)
	if err != nil {
		t.Fatalf("LoadCache でエラーが発生しました: %v", err)
	}
	if cache != nil {
		t.Errorf("未保存状態でキャッシュが返されました: %+v", cache)
	}

	fetchedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sites := []model.Site{
		{Name: "Example", Domain: "example.com", URL: "https://example.com/", IsActive: true},
	}
	if err := store.SaveCache(ctx, "http://mp.local", sites, fetchedAt); err != nil {
		t.Fatalf("SaveCache でエラーが発生しました: %v", err)
	}

	cache, err = store.LoadCache(ctx)
	if err != nil {
		t.Fatalf("LoadCache でエラーが発生しました: %v", err)
	}
	if cache == nil {
		t.Fatal("保存したキャッシュが読み込めません")
	}
	if !cache.FetchedAt.Equal(fetchedAt) {
		t.Errorf("取得時刻が一致しません: %v", cache.FetchedAt)
	}
	if restored := cache.SiteList(); len(restored) != 1 || restored[0].Domain != "example.com" {
		t.Errorf("復元されたサイト一覧が期待と異なります: %+v", restored)
	}
}

func TestStore_SummaryRoundTrip(t *testing.T) {
	store := NewStore(newMemoryKVRepo())
	ctx := context.Background()

	_, found, err := store.LoadSummary(ctx)
	if err != nil {
		t.Fatalf("LoadSummary でエラーが発生しました: %v", err)
	}
	if found {
		t.Error("未保存状態でサマリーが見つかりました")
	}

	summary := BuildSummary([]model.Site{
		{Name: "Example", Domain: "example.com", URL: "https://example.com/", IsActive: true},
	}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := store.SaveSummary(ctx, summary); err != nil {
		t.Fatalf("SaveSummary でエラーが発生しました: %v", err)
	}

	loaded, found, err := store.LoadSummary(ctx)
	if err != nil {
		t.Fatalf("LoadSummary でエラーが発生しました: %v", err)
	}
	if !found {
		t.Fatal("保存したサマリーが見つかりません")
	}
	if _, ok := loaded.Items["example.com"]; !ok {
		t.Errorf("サマリー項目が失われています: %+v", loaded.Items)
	}
}
