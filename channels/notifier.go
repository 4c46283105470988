// Package channels delivers change notifications: text alerts to the
// operator and diff images to the broadcast audience.
//
// A Notifier talks to one platform (Telegram Bot API, a signed webhook, a
// Discord webhook, or the log). The Dispatcher wraps any Notifier and bounds
// how many sends are in flight, holding each slot for a post-send delay so
// platform rate limits are respected.
//
//	tg, _ := channels.NewTelegram(channels.TelegramConfig{Token: token})
//	d := channels.NewDispatcher(tg, channels.WithMaxConcurrent(5), channels.WithLogger(logger))
//	err := d.SendImage(ctx, channelID, "data/x_diff.png", caption)
package channels

import (
	"context"
	"unicode/utf8"
)

// Notifier sends messages to a destination (a chat ID, or a label such as
// "admin" for platforms without addressing).
type Notifier interface {
	SendText(ctx context.Context, dest, text string) error
	SendImage(ctx context.Context, dest, path, caption string) error
}

// DocumentSender is implemented by notifiers that can attach arbitrary files.
type DocumentSender interface {
	SendDocument(ctx context.Context, dest, path, caption string) error
}

// Kind identifies the message type of a send.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Message is one send, as used by Dispatcher.SendAll.
type Message struct {
	Kind    Kind
	Dest    string
	Text    string // KindText
	Path    string // KindImage, KindDocument
	Caption string
}

// Platform limits.
const (
	MaxTextLen    = 4096
	MaxCaptionLen = 1024
)

// truncate cuts s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
