package logger

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/telegram"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sender delivers a formatted alert, e.g. *telegram.TgBot.
type Sender interface {
	SendMessageWithLevel(msg, topic string, level slog.Level)
}

// TelegramHandler is a slog.Handler that sends log messages to Telegram
type TelegramHandler struct {
	handler  slog.Handler
	sender   Sender
	minLevel slog.Level
	mu       *sync.Mutex
	attrs    []slog.Attr
	group    string
}

// NewTelegramHandler creates a new TelegramHandler
func NewTelegramHandler(handler slog.Handler, sender Sender, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		handler:  handler,
		sender:   sender,
		minLevel: minLevel,
		mu:       &sync.Mutex{},
		attrs:    make([]slog.Attr, 0),
	}
}

// Enabled reports whether the underlying handler accepts the level; the
// Telegram level only decides what is forwarded.
func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *TelegramHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.handler.Handle(ctx, record)
	if err != nil {
		return err
	}
	if record.Level < h.minLevel || h.sender == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var msg string
	if h.group != "" {
		msg = fmt.Sprintf("*%s* `%s.%s`", record.Level.String(), h.group, record.Message)
	} else {
		msg = fmt.Sprintf("*%s* `%s`", record.Level.String(), record.Message)
	}

	mod := ""
	for _, attr := range h.attrs {
		if attr.Key == "mod" {
			mod = attr.Value.String()
		}
		msg += formatAttr(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "mod" {
			mod = attr.Value.String()
		}
		msg += formatAttr(attr)
		return true
	})

	h.sender.SendMessageWithLevel(msg, entity.TopicForModule(mod), record.Level)
	return nil
}

func formatAttr(attr slog.Attr) string {
	if attr.Key == "error" {
		return fmt.Sprintf("\n%s: ```error %v ```", attr.Key, attr.Value)
	}
	return telegram.Sanitize(fmt.Sprintf("\n%s: %v", attr.Key, attr.Value))
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &TelegramHandler{
		handler:  h.handler.WithAttrs(attrs),
		sender:   h.sender,
		minLevel: h.minLevel,
		mu:       h.mu,
		attrs:    newAttrs,
		group:    h.group,
	}
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}

	return &TelegramHandler{
		handler:  h.handler.WithGroup(name),
		sender:   h.sender,
		minLevel: h.minLevel,
		mu:       h.mu,
		attrs:    h.attrs,
		group:    group,
	}
}
