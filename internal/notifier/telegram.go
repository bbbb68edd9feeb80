package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"cronhost/internal/config"
	"cronhost/pkg/logx"
)

// FromConfig builds the configured notifier, falling back to Nop when
// the channel is disabled or cannot be constructed. A broken notifier
// must never block job execution.
func FromConfig(tc config.TelegramConfig, log logx.Logger) Notifier {
	if !tc.Enabled {
		return Nop{}
	}
	t, err := NewTelegram(TelegramConfig{
		Token:      tc.Token,
		ChatID:     tc.ChatID,
		RatePerSec: tc.RatePerSec,
	}, log)
	if err != nil {
		log.Warn("telegram notifier disabled", logx.Err(err))
		return Nop{}
	}
	return t
}

type TelegramConfig struct {
	Token      string
	ChatID     int64
	RatePerSec int
}

// Telegram sends messages to one chat. Sends are rate limited so a
// flapping job cannot flood the channel.
type Telegram struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, msg string, format Format) {
	if !t.limiter.Allow() {
		t.log.Debug("notification dropped by rate limit")
		return
	}

	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if format == FormatMarkdown {
		opts.ParseMode = tele.ModeMarkdown
	}

	// Bound the send; the caller's cycle must not hang on Telegram.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, msg, opts)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(10 * time.Second):
		err = errors.New("send timed out")
	}
	if err != nil {
		t.log.Warn("notification send failed", logx.Err(err))
	}
}
