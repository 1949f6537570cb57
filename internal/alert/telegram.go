package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	httpclient "signal_trader/pkg/http"
)

const telegramAPI = "https://api.telegram.org"

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramChannel sends through the Bot API
type TelegramChannel struct {
	token  string
	chatID string
	client *httpclient.Client
}

func NewTelegramChannel(token, chatID string) *TelegramChannel {
	return newTelegramChannel(telegramAPI, token, chatID)
}

func newTelegramChannel(baseURL, token, chatID string) *TelegramChannel {
	return &TelegramChannel{
		token:  token,
		chatID: chatID,
		client: httpclient.NewClientWithOptions(baseURL, 5*time.Second, nil, httpclient.Options{Name: "telegram", RedactPath: true, MaxRetries: 2}),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, a Alert) error {
	if t.token == "" || t.chatID == "" {
		return nil
	}
	msg := telegramMessage{ChatID: t.chatID, Text: formatTelegram(a), ParseMode: "Markdown"}
	if _, err := t.client.Post(ctx, "/bot"+t.token+"/sendMessage", msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

func formatTelegram(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s] %s*\n\n%s", a.Severity, a.Title, a.Message)
	if len(a.Fields) > 0 {
		b.WriteString("\n")
		for _, k := range sortedKeys(a.Fields) {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, a.Fields[k])
		}
	}
	return b.String()
}
