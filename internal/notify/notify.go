// Package notify sends completion notifications. Failures are the
// caller's to log; a broken notifier never affects run state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Notifier announces a completed digest run.
type Notifier interface {
	NotifyCompleted(ctx context.Context, runDate string, totalItems int, highlights []string) error
}

// TelegramNotifier posts a short summary message via the Telegram bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegram creates a Telegram notifier reading the bot token from the
// named environment variable. Returns nil if the token or chat ID is
// unset, so callers can skip notification cleanly.
func NewTelegram(tokenEnv, chatID string) *TelegramNotifier {
	token := os.Getenv(tokenEnv)
	if token == "" || chatID == "" {
		return nil
	}
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyCompleted sends the digest summary message.
func (t *TelegramNotifier) NotifyCompleted(ctx context.Context, runDate string, totalItems int, highlights []string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "AI Digest for %s is ready: %d items analyzed.", runDate, totalItems)
	if len(highlights) > 0 {
		sb.WriteString("\n\nTop stories:")
		for _, h := range highlights {
			fmt.Fprintf(&sb, "\n- %s", h)
		}
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    sb.String(),
	})
	if err != nil {
		return fmt.Errorf("marshaling telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
