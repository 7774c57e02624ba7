package control

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"pc-deal-watch/internal/alerting"
)

// Bot is the part of the Telegram client the poller needs.
type Bot interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerting.Update, int64, error)
	SendMessage(ctx context.Context, chatID, text string) error
}

var _ Bot = (*alerting.TelegramClient)(nil)

// Poller long-polls the bot for commands from the owner's chat.
type Poller struct {
	bot     Bot
	handler *Handler
	chatID  string
	wait    time.Duration
	backoff time.Duration
	logger  zerolog.Logger
}

// NewPoller builds a poller that only answers messages from chatID.
func NewPoller(bot Bot, handler *Handler, chatID string, wait time.Duration, logger zerolog.Logger) *Poller {
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &Poller{
		bot:     bot,
		handler: handler,
		chatID:  chatID,
		wait:    wait,
		backoff: 5 * time.Second,
		logger:  logger.With().Str("component", "telegram_commands").Logger(),
	}
}

// Run polls until ctx is cancelled. API errors are logged and retried.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	for {
		updates, next, err := p.bot.GetUpdates(ctx, offset, p.wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn().Err(err).Msg("拉取 Telegram 更新失败")
			if err := sleep(ctx, p.backoff); err != nil {
				return err
			}
			continue
		}
		offset = next

		for _, u := range updates {
			if err := p.handle(ctx, u); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				p.logger.Warn().Err(err).Int64("update_id", u.UpdateID).Msg("回复命令失败")
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (p *Poller) handle(ctx context.Context, u alerting.Update) error {
	if u.Message == nil || u.Message.Text == "" {
		return nil
	}
	chat := strconv.FormatInt(u.Message.Chat.ID, 10)
	if chat != p.chatID {
		p.logger.Warn().Str("chat_id", chat).Msg("ignoring command from unknown chat")
		return nil
	}

	actor := "telegram"
	if u.Message.From != nil && u.Message.From.Username != "" {
		actor = "telegram:@" + u.Message.From.Username
	}
	reply := p.handler.Execute(ctx, u.Message.Text, actor)
	return p.bot.SendMessage(ctx, p.chatID, reply)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
