package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends messages through the Bot API sendMessage method.
type TelegramNotifier struct {
	endpoint string
	client   *http.Client
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func NewTelegramNotifier(apiURL, token string, client *http.Client) (*TelegramNotifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TelegramNotifier{
		endpoint: strings.TrimRight(apiURL, "/") + "/bot" + token + "/sendMessage",
		client:   client,
	}, nil
}

func (n *TelegramNotifier) Send(ctx context.Context, subscriberID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: subscriberID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var out botResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.OK {
		return nil
	}
	return classifyBotError(resp.StatusCode, out)
}

func classifyBotError(status int, out botResponse) error {
	code := out.ErrorCode
	if code == 0 {
		code = status
	}
	desc := strings.ToLower(out.Description)
	switch {
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrRecipientUnavailable, out.Description)
	case code == http.StatusBadRequest && (strings.Contains(desc, "chat not found") || strings.Contains(desc, "user is deactivated")):
		return fmt.Errorf("%w: %s", ErrRecipientUnavailable, out.Description)
	case code == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: time.Duration(out.Parameters.RetryAfter) * time.Second}
	default:
		return fmt.Errorf("telegram error %d: %s", code, out.Description)
	}
}
