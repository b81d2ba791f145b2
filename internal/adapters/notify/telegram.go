package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram implements ports.Notifier via the Bot API sendMessage endpoint.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// TelegramConfig holds the credentials for the Bot API.
type TelegramConfig struct {
	BotToken string // Bot API token from @BotFather
	ChatID   string // Target chat/group/channel ID
	BaseURL  string // Override for tests; defaults to the public Bot API
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram notifier requires a bot token and chat ID")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &Telegram{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		baseURL:  baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts the alert as a MarkdownV2 message. Any failure wraps
// ports.ErrNotifierFailed so the caller knows the alert never went out.
func (t *Telegram) Send(ctx context.Context, alert domain.Alert) error {
	squeeze := "inactive"
	if alert.VolatilityCompressed {
		squeeze = "active"
	}
	text := fmt.Sprintf("%s *%s*\n\nSymbol: *%s*\nPrice: *%s*\nRSI: *%s*\nBand position: *%s*\nWidth percentile: *%s*\nSqueeze: *%s*\nBar time: %s",
		kindEmoji(alert.Kind),
		escapeMarkdown(kindLabel(alert.Kind)),
		escapeMarkdown(alert.Symbol),
		escapeMarkdown(fmt.Sprintf("%.2f", alert.Price)),
		escapeMarkdown(fmt.Sprintf("%.1f", alert.RSI)),
		escapeMarkdown(fmt.Sprintf("%.2f", alert.BandPosition)),
		escapeMarkdown(fmt.Sprintf("%.2f", alert.BandWidthPercentile)),
		escapeMarkdown(squeeze),
		escapeMarkdown(alert.Timestamp.UTC().Format("2006-01-02 15:04 UTC")))

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w: %w", ports.ErrNotifierFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d: %w", resp.StatusCode, ports.ErrNotifierFailed)
	}
	return nil
}

func kindEmoji(kind domain.SignalKind) string {
	switch kind {
	case domain.SignalEntry:
		return "🚀"
	case domain.SignalPartialExit:
		return "💡"
	case domain.SignalFullExit:
		return "🔴"
	default:
		return "ℹ️"
	}
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
