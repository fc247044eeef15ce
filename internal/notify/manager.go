package notify

import (
	"context"
	"log/slog"

	"github.com/hitoshi/ptwatch/internal/fetch"
	"github.com/hitoshi/ptwatch/internal/repository"
)

const notificationsKey = "notifications"

// TestMessage は疎通確認用の固定メッセージ。
const TestMessage = "PT Invite Watcher test message"

// チャンネル名。APIのパスパラメータとしても使う。
const (
	ChannelTelegram = "telegram"
	ChannelWeCom    = "wecom"
)

// Settings はKVに保存される通知設定。
type Settings struct {
	Telegram TelegramSettings `json:"telegram"`
	WeCom    WeComSettings    `json:"wecom"`
}

// TelegramSettings はTelegramチャンネルの設定。
type TelegramSettings struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// Configured はチャンネルが送信可能な設定かを返す。
func (s TelegramSettings) Configured() bool {
	return s.Token != "" && s.ChatID != ""
}

// WeComSettings はWeComチャンネルの設定。
type WeComSettings struct {
	Enabled   bool   `json:"enabled"`
	CorpID    string `json:"corpid,omitempty"`
	AppSecret string `json:"app_secret,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	ToUser    string `json:"to_user,omitempty"`
	ToParty   string `json:"to_party,omitempty"`
	ToTag     string `json:"to_tag,omitempty"`
}

// Configured はチャンネルが送信可能な設定かを返す。
func (s WeComSettings) Configured() bool {
	return s.CorpID != "" && s.AppSecret != "" && s.AgentID != ""
}

// Manager は有効な全チャンネルへの通知送信をまとめるサービス。
// 設定はKVから毎回読み直すため、API経由の設定変更が即座に反映される。
type Manager struct {
	kvRepo repository.KVRepository
	client *fetch.Client
	logger *slog.Logger

	// テストからモックサーバーへ向けるための接続先。空なら本番API。
	telegramBaseURL string
	wecomBaseURL    string
}

// NewManager はManagerを生成する。
func NewManager(kvRepo repository.KVRepository, client *fetch.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{kvRepo: kvRepo, client: client, logger: logger}
}

// LoadSettings は通知設定を読み込む。未保存の場合はゼロ値を返す。
func (m *Manager) LoadSettings(ctx context.Context) (Settings, error) {
	var settings Settings
	if _, err := m.kvRepo.GetJSON(ctx, notificationsKey, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// SaveSettings は通知設定を保存する。
func (m *Manager) SaveSettings(ctx context.Context, settings Settings) error {
	return m.kvRepo.SetJSON(ctx, notificationsKey, settings)
}

// Send はタイトルと本文を有効な全チャンネルへ送信する。
// チャンネル単位の失敗はログに残して他のチャンネルの送信を続ける。
func (m *Manager) Send(ctx context.Context, title, text string) {
	settings, err := m.LoadSettings(ctx)
	if err != nil {
		m.logger.Error("通知設定の読み込みに失敗しました", slog.String("error", err.Error()))
		return
	}
	message := title + "\n" + text

	if settings.Telegram.Enabled && settings.Telegram.Configured() {
		if err := m.telegram(settings.Telegram).Send(ctx, message); err != nil {
			m.logger.Error("Telegram通知の送信に失敗しました", slog.String("error", err.Error()))
		} else {
			m.logger.Info("Telegram通知を送信しました", slog.String("title", title))
		}
	}

	if settings.WeCom.Enabled && settings.WeCom.Configured() {
		if err := m.wecom(settings.WeCom).Send(ctx, message); err != nil {
			m.logger.Error("WeCom通知の送信に失敗しました", slog.String("error", err.Error()))
		} else {
			m.logger.Info("WeCom通知を送信しました", slog.String("title", title))
		}
	}
}

// Test は指定チャンネルへテストメッセージを送信する。
// 戻り値は送信成否と状態の説明。
func (m *Manager) Test(ctx context.Context, channel string) (bool, string) {
	settings, err := m.LoadSettings(ctx)
	if err != nil {
		return false, "failed to load settings"
	}

	switch channel {
	case ChannelTelegram:
		if !settings.Telegram.Enabled {
			return false, "telegram disabled"
		}
		if !settings.Telegram.Configured() {
			return false, "telegram not configured"
		}
		if err := m.telegram(settings.Telegram).Send(ctx, TestMessage); err != nil {
			m.logger.Warn("Telegramテスト送信に失敗しました", slog.String("error", err.Error()))
			return false, "send failed"
		}
		return true, "sent"

	case ChannelWeCom:
		if !settings.WeCom.Enabled {
			return false, "wecom disabled"
		}
		if !settings.WeCom.Configured() {
			return false, "wecom not configured"
		}
		if err := m.wecom(settings.WeCom).Send(ctx, TestMessage); err != nil {
			m.logger.Warn("WeComテスト送信に失敗しました", slog.String("error", err.Error()))
			return false, "send failed"
		}
		return true, "sent"
	}
	return false, "unknown channel"
}

func (m *Manager) telegram(s TelegramSettings) *Telegram {
	return NewTelegram(m.client, m.telegramBaseURL, s.Token, s.ChatID)
}

func (m *Manager) wecom(s WeComSettings) *WeCom {
	return NewWeCom(m.client, WeComOptions{
		BaseURL:   m.wecomBaseURL,
		CorpID:    s.CorpID,
		AppSecret: s.AppSecret,
		AgentID:   s.AgentID,
		ToUser:    s.ToUser,
		ToParty:   s.ToParty,
		ToTag:     s.ToTag,
	})
}
