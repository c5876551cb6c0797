// Package telegram forwards operator alerts to Telegram chats.
//
// Errors are sent to every configured chat immediately; lower levels are
// buffered and flushed as a digest on an interval.
package telegram

import (
	"aprendecomigo/internal/config"
	"aprendecomigo/lib/sl"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
)

const defaultDigestInterval = 30 * time.Minute

// StatusReporter renders the /status reply.
type StatusReporter interface {
	Report() string
}

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	chatIDs  []int64
	minLevel slog.Level
	updater  *ext.Updater
	digest   *DigestBuffer
	status   StatusReporter
}

func NewTgBot(conf config.TelegramConfig, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBot(conf.ApiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	t := &TgBot{
		log:      log.With(sl.Module("tgbot")),
		api:      api,
		chatIDs:  conf.ChatIDs,
		minLevel: slog.Level(conf.LogLevel),
	}
	t.digest = NewDigestBuffer(t.plainResponse, defaultDigestInterval)
	return t, nil
}

func (t *TgBot) SetStatusReporter(r StatusReporter) {
	t.status = r
}

func (t *TgBot) Start() error {
	t.digest.StartTicker()

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("status", t.statusCmd))

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	t.digest.Stop()
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

// SendMessageWithLevel routes an alert to the operator chats.
func (t *TgBot) SendMessageWithLevel(msg, topic string, level slog.Level) {
	if level < t.minLevel {
		return
	}
	for _, id := range t.chatIDs {
		if level >= slog.LevelError {
			t.plainResponse(id, msg)
			continue
		}
		t.digest.Add(id, msg, topic, level)
	}
}

func (t *TgBot) isOperator(chatId int64) bool {
	for _, id := range t.chatIDs {
		if id == chatId {
			return true
		}
	}
	return false
}

// start replies with the chat id so it can be added to the configuration.
func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	if t.isOperator(chatId) {
		t.plainResponse(chatId, "Alerts are enabled for this chat\\.")
		return nil
	}
	t.plainResponse(chatId, Sanitize(fmt.Sprintf("Chat id: %s. Add it to telegram.chat_ids to receive alerts.", strconv.FormatInt(chatId, 10))))
	return nil
}

func (t *TgBot) statusCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	if !t.isOperator(chatId) {
		return nil
	}
	if t.status == nil {
		t.plainResponse(chatId, "No status available\\.")
		return nil
	}
	t.plainResponse(chatId, Sanitize(t.status.Report()))
	return nil
}
