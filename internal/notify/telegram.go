// Package notify pushes batch progress to external channels.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/flow"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// TelegramSink forwards progress lines to a Telegram chat so long batches
// can be watched from a phone. Send failures are logged and dropped;
// progress delivery is best-effort by design of the sink contract.
type TelegramSink struct {
	bot  *telebot.Bot
	chat telebot.ChatID
	log  *slog.Logger
}

var _ flow.ProgressSink = (*TelegramSink)(nil)

// NewTelegramSink connects the bot API. The bot only sends; no poller runs.
func NewTelegramSink(cfg config.TelegramConfig, log *slog.Logger) (*TelegramSink, error) {
	if log == nil {
		log = slog.Default()
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Token,
		Client: nil,
		Poller: nil,
		OnError: func(err error, _ telebot.Context) {
			log.Warn("telegram sink error", "error", err)
		},
	})
	if err != nil {
		return nil, err
	}

	return &TelegramSink{
		bot:  bot,
		chat: telebot.ChatID(cfg.ChatID),
		log:  log,
	}, nil
}

// Report sends the progress line to the configured chat.
func (s *TelegramSink) Report(msg string) {
	if _, err := s.bot.Send(s.chat, msg, &telebot.SendOptions{DisableNotification: true}); err != nil {
		s.log.Warn("failed to push progress to telegram", "error", err)
	}
}

// ReportSummary formats and sends the end-of-batch summary.
func (s *TelegramSink) ReportSummary(attempted, succeeded, total int, elapsed time.Duration) {
	s.Report(fmt.Sprintf("batch finished: %d/%d succeeded (of %d requested) in %s",
		succeeded, attempted, total, elapsed.Round(time.Second)))
}
