package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TelegramConfig configures the Bot API notifier.
type TelegramConfig struct {
	// Token is the bot token from @BotFather.
	Token string
	// APIBase defaults to https://api.telegram.org.
	APIBase string
	// MaxRetries bounds retries on 429 responses. Default: 3.
	MaxRetries int
	Client     *http.Client
	Logger     *slog.Logger
}

func (c *TelegramConfig) defaults() {
	if c.APIBase == "" {
		c.APIBase = "https://api.telegram.org"
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Telegram sends through the Bot API: sendMessage for text, sendPhoto and
// sendDocument as multipart uploads.
type Telegram struct {
	cfg  TelegramConfig
	post *poster
}

var (
	_ Notifier       = (*Telegram)(nil)
	_ DocumentSender = (*Telegram)(nil)
)

// NewTelegram creates a Telegram notifier. Token is required.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	cfg.defaults()
	return &Telegram{
		cfg: cfg,
		post: &poster{
			client:     cfg.Client,
			maxRetries: cfg.MaxRetries,
			unit:       time.Second,
			logger:     cfg.Logger,
			check:      checkTelegram,
		},
	}, nil
}

// telegramResponse is the Bot API envelope.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func checkTelegram(status int, body []byte) error {
	var r telegramResponse
	if err := json.Unmarshal(body, &r); err != nil {
		if status >= 400 {
			return &APIError{Status: status}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if r.OK && status < 400 {
		return nil
	}
	return &APIError{
		Status:      status,
		Description: r.Description,
		RetryAfter:  float64(r.Parameters.RetryAfter),
	}
}

func (t *Telegram) endpoint(method string) string {
	return t.cfg.APIBase + "/bot" + t.cfg.Token + "/" + method
}

// SendText sends text to chat dest, truncated to MaxTextLen.
func (t *Telegram) SendText(ctx context.Context, dest, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": dest,
		"text":    truncate(text, MaxTextLen),
	})
	if err == nil {
		err = t.post.do(ctx, request{url: t.endpoint("sendMessage"), contentType: "application/json", body: body})
	}
	if err != nil {
		return &SendError{Platform: "telegram", Kind: KindText, Dest: dest, Cause: err}
	}
	return nil
}

// SendImage uploads the image at path with caption.
func (t *Telegram) SendImage(ctx context.Context, dest, path, caption string) error {
	return t.upload(ctx, KindImage, "sendPhoto", "photo", dest, path, caption)
}

// SendDocument uploads the file at path as a document.
func (t *Telegram) SendDocument(ctx context.Context, dest, path, caption string) error {
	return t.upload(ctx, KindDocument, "sendDocument", "document", dest, path, caption)
}

func (t *Telegram) upload(ctx context.Context, kind Kind, method, field, dest, path, caption string) error {
	req, err := multipartRequest(path, field, map[string]string{
		"chat_id": dest,
		"caption": truncate(caption, MaxCaptionLen),
	})
	if err == nil {
		req.url = t.endpoint(method)
		err = t.post.do(ctx, req)
	}
	if err != nil {
		return &SendError{Platform: "telegram", Kind: kind, Dest: dest, Cause: err}
	}
	return nil
}

// multipartRequest reads the file at path into a multipart body under
// field, alongside the non-empty form values.
func multipartRequest(path, field string, values map[string]string) (request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return request{}, fmt.Errorf("read attachment: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, k := range sortedKeys(values) {
		if values[k] == "" {
			continue
		}
		if err := mw.WriteField(k, values[k]); err != nil {
			return request{}, err
		}
	}
	fw, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return request{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return request{}, err
	}
	if err := mw.Close(); err != nil {
		return request{}, err
	}
	return request{contentType: mw.FormDataContentType(), body: buf.Bytes()}, nil
}
