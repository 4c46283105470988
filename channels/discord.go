package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DiscordConfig maps destinations to Discord webhook URLs, e.g.
// {"admin": "https://discord.com/api/webhooks/...", "broadcast": "..."}.
type DiscordConfig struct {
	Webhooks   map[string]string
	MaxRetries int // on 429; default 3
	Client     *http.Client
	Logger     *slog.Logger
}

// MaxDiscordContent is Discord's message content limit.
const MaxDiscordContent = 2000

// Discord posts through channel webhooks. Files go as multipart uploads
// with a payload_json part.
type Discord struct {
	hooks map[string]string
	post  *poster
}

var (
	_ Notifier       = (*Discord)(nil)
	_ DocumentSender = (*Discord)(nil)
)

// NewDiscord creates a Discord notifier. At least one webhook is required.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if len(cfg.Webhooks) == 0 {
		return nil, fmt.Errorf("discord: at least one webhook is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		hooks: cfg.Webhooks,
		post: &poster{
			client:     cfg.Client,
			maxRetries: cfg.MaxRetries,
			unit:       time.Second,
			logger:     cfg.Logger,
			check:      checkDiscord,
		},
	}, nil
}

func checkDiscord(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	var r struct {
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
	}
	_ = json.Unmarshal(body, &r)
	e := &APIError{Status: status, Description: r.Message}
	if status == http.StatusTooManyRequests {
		e.RetryAfter = r.RetryAfter
	}
	return e
}

func (d *Discord) hook(kind Kind, dest string) (string, error) {
	u, ok := d.hooks[dest]
	if !ok {
		return "", &SendError{Platform: "discord", Kind: kind, Dest: dest, Cause: ErrUnknownDest}
	}
	return u, nil
}

// SendText posts text as message content.
func (d *Discord) SendText(ctx context.Context, dest, text string) error {
	u, err := d.hook(KindText, dest)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"content": truncate(text, MaxDiscordContent)})
	if err := d.post.do(ctx, request{url: u, contentType: "application/json", body: body}); err != nil {
		return &SendError{Platform: "discord", Kind: KindText, Dest: dest, Cause: err}
	}
	return nil
}

// SendImage uploads the image with caption as message content.
func (d *Discord) SendImage(ctx context.Context, dest, path, caption string) error {
	return d.upload(ctx, KindImage, dest, path, caption)
}

// SendDocument uploads any file.
func (d *Discord) SendDocument(ctx context.Context, dest, path, caption string) error {
	return d.upload(ctx, KindDocument, dest, path, caption)
}

func (d *Discord) upload(ctx context.Context, kind Kind, dest, path, caption string) error {
	u, err := d.hook(kind, dest)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"content": truncate(caption, MaxDiscordContent)})
	req, err := multipartRequest(path, "files[0]", map[string]string{"payload_json": string(payload)})
	if err == nil {
		req.url = u
		err = d.post.do(ctx, req)
	}
	if err != nil {
		return &SendError{Platform: "discord", Kind: kind, Dest: dest, Cause: err}
	}
	return nil
}
