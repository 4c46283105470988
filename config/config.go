// Package config loads sitediff settings from a YAML file and the
// environment. Environment variables win over the file, so a deployment can
// run with no file at all:
//
//	TELEGRAM_BOT_TOKEN, TELEGRAM_CHANNEL_ID, TELEGRAM_ADMIN_ID
//	SITEDIFF_DATA_DIR, SITEDIFF_SITES_FILE, SITEDIFF_FONT_FILE
//	SITEDIFF_NOTIFIER, SITEDIFF_WEBHOOK_URL, SITEDIFF_WEBHOOK_SECRET
//	DISCORD_ADMIN_WEBHOOK, DISCORD_BROADCAST_WEBHOOK
//
// TELEGRAM_CHANNEL_ID may list several channels separated by commas; each
// receives every change image.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // Timezone must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/sitediff/horosafe"
)

// Config is the top-level configuration.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	SitesFile  string `yaml:"sites_file"`
	AuditFile  string `yaml:"audit_file"`
	AuditDB    string `yaml:"audit_db"` // optional SQLite mirror of the audit trail
	Timezone   string `yaml:"timezone"`
	KeepImages bool   `yaml:"keep_images"`

	// RetryFailedChanges keeps the old snapshot when a change cannot be
	// rendered or broadcast.
	RetryFailedChanges bool `yaml:"retry_failed_changes"`

	Store    StoreConfig    `yaml:"store"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Render   RenderConfig   `yaml:"render"`
	Notifier NotifierConfig `yaml:"notifier"`
	Watch    WatchConfig    `yaml:"watch"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Type string `yaml:"type"` // file | sqlite
	Path string `yaml:"path"` // sqlite database path
}

// FetchConfig controls page retrieval.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	BrowserTimeout time.Duration `yaml:"browser_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	BrowserURL     string        `yaml:"browser_url"` // remote DevTools endpoint; empty launches a local browser
	AllowPrivate   bool          `yaml:"allow_private"`
}

// RenderConfig controls the diff image.
type RenderConfig struct {
	FontFile    string   `yaml:"font_file"`
	Fallbacks   []string `yaml:"fallbacks"`
	FontSize    float64  `yaml:"font_size"`
	MinWidth    int      `yaml:"min_width"`
	MaxWidth    int      `yaml:"max_width"`
	MaxHeight   int      `yaml:"max_height"`
	LineNumbers bool     `yaml:"line_numbers"`
	PDF         bool     `yaml:"pdf"` // send the full diff as a PDF when the image is cropped
}

// NotifierConfig selects and configures the notifier.
type NotifierConfig struct {
	Type          string         `yaml:"type"` // telegram | webhook | discord | log
	Telegram      TelegramConfig `yaml:"telegram"`
	Webhook       WebhookConfig  `yaml:"webhook"`
	Discord       DiscordConfig  `yaml:"discord"`
	MaxConcurrent int            `yaml:"max_concurrent"`
	TextDelay     time.Duration  `yaml:"text_delay"`
	ImageDelay    time.Duration  `yaml:"image_delay"`
}

// TelegramConfig holds Bot API credentials and destinations.
type TelegramConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	AdminID   string `yaml:"admin_id"`
	APIBase   string `yaml:"api_base"`
}

// WebhookConfig configures the signed webhook notifier.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DiscordConfig holds one channel webhook per destination.
type DiscordConfig struct {
	AdminURL     string `yaml:"admin_url"`
	BroadcastURL string `yaml:"broadcast_url"`
}

// WatchConfig controls the periodic loop.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Listen   string        `yaml:"listen"`
	// AuditRetentionDays prunes SQLite audit rows older than this after
	// each cycle. Zero keeps everything.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// Error reports an unusable configuration. It is fatal at start-up.
type Error struct {
	Field  string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	msg := "config: " + e.Field + ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (if it exists), applies environment overrides and
// defaults, and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, &Error{Field: "file", Reason: "read " + path, Cause: err}
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, &Error{Field: "file", Reason: "parse " + path, Cause: err}
			}
		}
	}
	c.applyEnv(os.Getenv)
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Notifier.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	set(&c.Notifier.Telegram.ChannelID, "TELEGRAM_CHANNEL_ID")
	set(&c.Notifier.Telegram.AdminID, "TELEGRAM_ADMIN_ID")
	set(&c.DataDir, "SITEDIFF_DATA_DIR")
	set(&c.SitesFile, "SITEDIFF_SITES_FILE")
	set(&c.Render.FontFile, "SITEDIFF_FONT_FILE")
	set(&c.Notifier.Type, "SITEDIFF_NOTIFIER")
	set(&c.Notifier.Webhook.URL, "SITEDIFF_WEBHOOK_URL")
	set(&c.Notifier.Webhook.Secret, "SITEDIFF_WEBHOOK_SECRET")
	set(&c.Notifier.Discord.AdminURL, "DISCORD_ADMIN_WEBHOOK")
	set(&c.Notifier.Discord.BroadcastURL, "DISCORD_BROADCAST_WEBHOOK")
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.SitesFile == "" {
		c.SitesFile = "sites.txt"
	}
	if c.AuditFile == "" {
		c.AuditFile = "changes.log"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
	if c.Store.Type == "" {
		c.Store.Type = "file"
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		c.Store.Path = c.DataDir + "/sitediff.db"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 15 * time.Second
	}
	if c.Fetch.BrowserTimeout <= 0 {
		c.Fetch.BrowserTimeout = 30 * time.Second
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = horosafe.MaxPageBody
	}
	if c.Render.FontFile == "" {
		c.Render.FontFile = "aliph.ttf"
	}
	if c.Render.Fallbacks == nil {
		c.Render.Fallbacks = []string{"Arial.ttf", "arial.ttf", "DejaVuSans.ttf"}
	}
	if c.Render.FontSize <= 0 {
		c.Render.FontSize = 16
	}
	if c.Notifier.Type == "" {
		c.Notifier.Type = "telegram"
	}
	if c.Notifier.Telegram.APIBase == "" {
		c.Notifier.Telegram.APIBase = "https://api.telegram.org"
	}
	if c.Notifier.MaxConcurrent <= 0 {
		c.Notifier.MaxConcurrent = 5
	}
	if c.Notifier.TextDelay <= 0 {
		c.Notifier.TextDelay = time.Second
	}
	if c.Notifier.ImageDelay <= 0 {
		c.Notifier.ImageDelay = 3 * time.Second
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = time.Hour
	}
}

// Validate checks required fields for the selected notifier and the sanity
// of numeric bounds.
func (c *Config) Validate() error {
	switch c.Notifier.Type {
	case "telegram":
		t := c.Notifier.Telegram
		if t.Token == "" {
			return &Error{Field: "notifier.telegram.token", Reason: "required (TELEGRAM_BOT_TOKEN)"}
		}
		if len(c.BroadcastDests()) == 0 {
			return &Error{Field: "notifier.telegram.channel_id", Reason: "required (TELEGRAM_CHANNEL_ID)"}
		}
		if t.AdminID == "" {
			return &Error{Field: "notifier.telegram.admin_id", Reason: "required (TELEGRAM_ADMIN_ID)"}
		}
	case "webhook":
		w := c.Notifier.Webhook
		if err := horosafe.CheckURL(w.URL, true); err != nil {
			return &Error{Field: "notifier.webhook.url", Reason: "invalid", Cause: err}
		}
		if w.Secret != "" {
			if err := horosafe.ValidateSecret([]byte(w.Secret)); err != nil {
				return &Error{Field: "notifier.webhook.secret", Reason: "too short", Cause: err}
			}
		}
	case "discord":
		d := c.Notifier.Discord
		if d.BroadcastURL == "" {
			return &Error{Field: "notifier.discord.broadcast_url", Reason: "required (DISCORD_BROADCAST_WEBHOOK)"}
		}
		for field, u := range map[string]string{"admin_url": d.AdminURL, "broadcast_url": d.BroadcastURL} {
			if u == "" {
				continue
			}
			if err := horosafe.CheckURL(u, false); err != nil {
				return &Error{Field: "notifier.discord." + field, Reason: "invalid", Cause: err}
			}
		}
	case "log":
	default:
		return &Error{Field: "notifier.type", Reason: fmt.Sprintf("unsupported %q (telegram, webhook, discord or log)", c.Notifier.Type)}
	}

	switch c.Store.Type {
	case "file", "sqlite":
	default:
		return &Error{Field: "store.type", Reason: fmt.Sprintf("unsupported %q (file or sqlite)", c.Store.Type)}
	}

	if c.Render.MinWidth < 0 || c.Render.MaxWidth < 0 || c.Render.MaxHeight < 0 {
		return &Error{Field: "render", Reason: "dimensions must not be negative"}
	}
	if c.Render.MaxWidth > 0 && c.Render.MinWidth > c.Render.MaxWidth {
		return &Error{Field: "render.min_width", Reason: "greater than max_width"}
	}
	if _, err := c.Location(); err != nil {
		return &Error{Field: "timezone", Reason: "unknown zone " + c.Timezone, Cause: err}
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// AdminDest is the destination of operator alerts: the Telegram admin chat,
// or the label "admin" for other notifiers.
func (c *Config) AdminDest() string {
	if c.Notifier.Type == "telegram" {
		return c.Notifier.Telegram.AdminID
	}
	return "admin"
}

// BroadcastDests are the destinations of change images: every Telegram
// channel in the comma-separated ChannelID, or the label "broadcast".
func (c *Config) BroadcastDests() []string {
	if c.Notifier.Type != "telegram" {
		return []string{"broadcast"}
	}
	var out []string
	for _, id := range strings.Split(c.Notifier.Telegram.ChannelID, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
