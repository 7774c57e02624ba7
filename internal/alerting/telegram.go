package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"pc-deal-watch/internal/domain"
)

// TelegramClient wraps the Bot API calls used for alerts and commands.
type TelegramClient struct {
	token   string
	baseURL string
	client  *resty.Client
}

// NewTelegramClient builds a Bot API client.
func NewTelegramClient(token, baseURL string, timeout time.Duration) *TelegramClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))

	return &TelegramClient{token: token, baseURL: baseURL, client: client}
}

// Update is the subset of a Bot API update the control handler needs.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From *struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

// SendMessage 调用 sendMessage API 推送文本。
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	var result apiResponse[any]
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":                  chatID,
			"text":                     text,
			"disable_web_page_preview": true,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", c.token))
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode())
	}
	if !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}
	return nil
}

// GetUpdates long-polls for updates after offset and returns the next offset.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, int64, error) {
	var result apiResponse[[]Update]
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("offset", fmt.Sprint(offset)).
		SetQueryParam("timeout", fmt.Sprint(int(wait.Seconds()))).
		SetResult(&result).
		Get(fmt.Sprintf("/bot%s/getUpdates", c.token))
	if err != nil {
		return nil, offset, fmt.Errorf("get telegram updates: %w", err)
	}
	if resp.IsError() {
		return nil, offset, fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode())
	}
	if !result.OK {
		return nil, offset, fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}

	next := offset
	for _, u := range result.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return result.Result, next, nil
}

// TelegramNotifier 通过 Telegram Bot API 推送告警。
type TelegramNotifier struct {
	client *TelegramClient
	chatID string
	logger zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(client *TelegramClient, chatID string, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		client: client,
		chatID: chatID,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders and sends one alert.
func (n *TelegramNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	if err := n.client.SendMessage(ctx, n.chatID, RenderText(alert)); err != nil {
		return err
	}

	n.logger.Info().
		Str("product", alert.Decision.Key.Slug()).
		Str("verdict", string(alert.Decision.Verdict)).
		Str("route", string(alert.Route)).
		Msg("告警已发送 (Telegram)")
	return nil
}
