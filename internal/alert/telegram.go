package alert

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/safesite-data/ppewatch/internal/monitoring"
)

// TelegramNotifier posts violation alerts to a Telegram chat via the bot
// API, attaching the frame snapshot when one is available.
type TelegramNotifier struct {
	Token  string
	ChatID string

	client  *http.Client
	baseURL string // overridable in tests
}

// NewTelegramNotifier returns nil when the bot token or chat ID is missing;
// the channel is simply not registered.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	if token == "" || chatID == "" {
		monitoring.Logf("alert: telegram not configured, channel disabled")
		return nil
	}
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: "https://api.telegram.org",
	}
}

func (n *TelegramNotifier) Name() string { return ChannelTelegram }

// Send posts sendPhoto with the snapshot, or sendMessage when the frame
// image is unavailable.
func (n *TelegramNotifier) Send(message string, image []byte) error {
	if len(image) > 0 {
		return n.sendPhoto(message, image)
	}
	return n.sendMessage(message)
}

func (n *TelegramNotifier) sendMessage(message string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.Token)
	resp, err := n.client.PostForm(endpoint, url.Values{
		"chat_id": {n.ChatID},
		"text":    {message},
	})
	if err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	defer resp.Body.Close()
	return checkTelegramStatus(resp)
}

func (n *TelegramNotifier) sendPhoto(message string, image []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", n.ChatID); err != nil {
		return err
	}
	if err := mw.WriteField("caption", message); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("photo", "violation.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", n.baseURL, n.Token)
	resp, err := n.client.Post(endpoint, mw.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("telegram sendPhoto failed: %w", err)
	}
	defer resp.Body.Close()
	return checkTelegramStatus(resp)
}

func checkTelegramStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
