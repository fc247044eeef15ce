// Package sitelist は監視対象サイト一覧の組み立てを担当する。
// MoviePilot由来のサイトとKVに保存された手動エントリをマージし、
// 一覧のキャッシュと変更検知用サマリーを管理する。
package sitelist

import (
	"strings"

	"github.com/hitoshi/ptwatch/internal/model"
)

// エントリのモード。override はMoviePilot由来サイトへの上書き、
// manual はMoviePilotに存在しないサイトの手動登録。
const (
	ModeOverride = "override"
	ModeManual   = "manual"
)

// SiteEntry はKVに保存される手動/上書きエントリ1件。
type SiteEntry struct {
	Mode             string `json:"mode,omitempty"`
	Name             string `json:"name,omitempty"`
	URL              string `json:"url,omitempty"`
	Cookie           string `json:"cookie,omitempty"`
	Authorization    string `json:"authorization,omitempty"`
	APIKey           string `json:"api_key,omitempty"`
	Engine           string `json:"engine,omitempty"`
	RegistrationPath string `json:"registration_path,omitempty"`
	InvitePath       string `json:"invite_path,omitempty"`
}

func normalizeMode(mode, fallback string) string {
	m := strings.ToLower(strings.TrimSpace(mode))
	if m == "" {
		return fallback
	}
	return m
}

// Merge はMoviePilot由来のサイト一覧と手動/上書きエントリを統合する。
// MoviePilotのサイトには同一ドメインのoverrideエントリを適用し、
// MoviePilotに存在しないドメインのmanualエントリ（URL必須）を追加する。
// m-team.cc系ドメインにはM-Teamエンジンと既定パスを補完する。
func Merge(mpSites []model.Site, entries map[string]SiteEntry) []model.Site {
	merged := make([]model.Site, 0, len(mpSites)+len(entries))
	mpDomains := make(map[string]bool, len(mpSites))

	for _, s := range mpSites {
		domain := model.NormalizeDomain(s.Domain)
		if domain == "" {
			continue
		}
		mpDomains[domain] = true

		entry := entries[domain]
		mode := normalizeMode(entry.Mode, ModeOverride)
		if mode != ModeOverride && mode != ModeManual {
			entry = SiteEntry{}
		}

		site := model.Site{
			ID:               s.ID,
			Name:             firstNonEmpty(entry.Name, s.Name),
			Domain:           domain,
			URL:              s.URL,
			UserAgent:        s.UserAgent,
			Cookie:           s.Cookie,
			CookieOverride:   strings.TrimSpace(entry.Cookie),
			Authorization:    strings.TrimSpace(entry.Authorization),
			APIKey:           strings.TrimSpace(entry.APIKey),
			IsActive:         s.IsActive,
			Engine:           model.ParseEngine(entry.Engine),
			RegistrationPath: strings.TrimSpace(entry.RegistrationPath),
			InvitePath:       strings.TrimSpace(entry.InvitePath),
		}
		applyMTeamDefaults(&site)
		merged = append(merged, site)
	}

	for rawDomain, entry := range entries {
		domain := model.NormalizeDomain(rawDomain)
		if domain == "" || mpDomains[domain] {
			continue
		}
		if normalizeMode(entry.Mode, ModeManual) != ModeManual {
			continue
		}
		url := strings.TrimSpace(entry.URL)
		if url == "" {
			continue
		}
		site := model.Site{
			Name:             firstNonEmpty(entry.Name, domain),
			Domain:           domain,
			URL:              url,
			CookieOverride:   strings.TrimSpace(entry.Cookie),
			Authorization:    strings.TrimSpace(entry.Authorization),
			APIKey:           strings.TrimSpace(entry.APIKey),
			IsActive:         true,
			Engine:           model.ParseEngine(entry.Engine),
			RegistrationPath: strings.TrimSpace(entry.RegistrationPath),
			InvitePath:       strings.TrimSpace(entry.InvitePath),
		}
		applyMTeamDefaults(&site)
		if site.Engine == "" {
			site.Engine = model.EngineCustom
		}
		merged = append(merged, site)
	}

	// ドメイン重複は後勝ちで解決する
	byDomain := make(map[string]int, len(merged))
	result := make([]model.Site, 0, len(merged))
	for _, s := range merged {
		if idx, ok := byDomain[s.Domain]; ok {
			result[idx] = s
			continue
		}
		byDomain[s.Domain] = len(result)
		result = append(result, s)
	}
	return result
}

func applyMTeamDefaults(site *model.Site) {
	if !strings.HasSuffix(site.Domain, "m-team.cc") {
		return
	}
	if site.Engine == "" {
		site.Engine = model.EngineMTeam
	}
	if site.RegistrationPath == "" {
		site.RegistrationPath = "signup"
	}
	if site.InvitePath == "" {
		site.InvitePath = "invite"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
