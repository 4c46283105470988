package channels

import (
	"context"
	"log/slog"
)

// Log writes every send to a logger instead of a platform. It backs dry
// runs and the `diff` command.
type Log struct {
	logger *slog.Logger
}

var (
	_ Notifier       = (*Log)(nil)
	_ DocumentSender = (*Log)(nil)
)

// NewLog creates a Log notifier. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) SendText(ctx context.Context, dest, text string) error {
	l.logger.InfoContext(ctx, "channels: text", "dest", dest, "text", text)
	return nil
}

func (l *Log) SendImage(ctx context.Context, dest, path, caption string) error {
	l.logger.InfoContext(ctx, "channels: image", "dest", dest, "path", path, "caption", caption)
	return nil
}

func (l *Log) SendDocument(ctx context.Context, dest, path, caption string) error {
	l.logger.InfoContext(ctx, "channels: document", "dest", dest, "path", path, "caption", caption)
	return nil
}
