package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hazyhaar/sitediff/horosafe"
)

// WebhookConfig configures the generic webhook notifier.
type WebhookConfig struct {
	URL string
	// Secret, when set, signs every body: X-Signature-256: sha256=<hex HMAC>.
	Secret string
	// AllowPrivate permits loopback and private targets.
	AllowPrivate bool
	Client       *http.Client
	Logger       *slog.Logger
}

// WebhookPayload is the JSON body posted for every send. Data carries the
// attachment bytes (base64 in JSON).
type WebhookPayload struct {
	Kind        Kind      `json:"kind"`
	Dest        string    `json:"dest"`
	Text        string    `json:"text,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Data        []byte    `json:"data,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Webhook posts JSON payloads to one URL.
type Webhook struct {
	cfg  WebhookConfig
	post *poster
}

var (
	_ Notifier       = (*Webhook)(nil)
	_ DocumentSender = (*Webhook)(nil)
)

// NewWebhook validates the target and secret and creates the notifier.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if err := horosafe.CheckURL(cfg.URL, cfg.AllowPrivate); err != nil {
		return nil, fmt.Errorf("webhook: url: %w", err)
	}
	if cfg.Secret != "" {
		if err := horosafe.ValidateSecret([]byte(cfg.Secret)); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		cfg: cfg,
		post: &poster{
			client:     cfg.Client,
			maxRetries: 0,
			unit:       time.Second,
			logger:     cfg.Logger,
			check:      checkStatus,
		},
	}, nil
}

func checkStatus(status int, body []byte) error {
	if status >= 400 {
		return &APIError{Status: status, Description: string(body)}
	}
	return nil
}

// Sign returns the X-Signature-256 value of body for secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign. The "sha256=" prefix is
// optional.
func Verify(secret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// SendText posts a text payload.
func (w *Webhook) SendText(ctx context.Context, dest, text string) error {
	return w.send(ctx, WebhookPayload{Kind: KindText, Dest: dest, Text: text})
}

// SendImage posts the image at path.
func (w *Webhook) SendImage(ctx context.Context, dest, path, caption string) error {
	return w.sendFile(ctx, KindImage, dest, path, caption)
}

// SendDocument posts the file at path.
func (w *Webhook) SendDocument(ctx context.Context, dest, path, caption string) error {
	return w.sendFile(ctx, KindDocument, dest, path, caption)
}

func (w *Webhook) sendFile(ctx context.Context, kind Kind, dest, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &SendError{Platform: "webhook", Kind: kind, Dest: dest, Cause: err}
	}
	return w.send(ctx, WebhookPayload{
		Kind:        kind,
		Dest:        dest,
		Caption:     caption,
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	})
}

func (w *Webhook) send(ctx context.Context, p WebhookPayload) error {
	p.SentAt = time.Now().UTC()
	body, err := json.Marshal(p)
	if err != nil {
		return &SendError{Platform: "webhook", Kind: p.Kind, Dest: p.Dest, Cause: err}
	}
	h := http.Header{}
	h.Set("X-Sitediff-Event", string(p.Kind))
	if w.cfg.Secret != "" {
		h.Set("X-Signature-256", Sign(w.cfg.Secret, body))
	}
	err = w.post.do(ctx, request{url: w.cfg.URL, contentType: "application/json", body: body, header: h})
	if err != nil {
		return &SendError{Platform: "webhook", Kind: p.Kind, Dest: p.Dest, Cause: err}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
