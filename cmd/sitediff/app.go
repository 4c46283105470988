package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sitediff/channels"
	"github.com/hazyhaar/sitediff/config"
	"github.com/hazyhaar/sitediff/dbopen"
	"github.com/hazyhaar/sitediff/fetch"
	"github.com/hazyhaar/sitediff/markup"
	"github.com/hazyhaar/sitediff/monitor"
	"github.com/hazyhaar/sitediff/observability"
	"github.com/hazyhaar/sitediff/render"
	"github.com/hazyhaar/sitediff/snapshot"
)

// app is the wired detector plus everything that must be closed with it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	detector *monitor.Detector
	store    snapshot.Store
	audit    *observability.SQLiteAudit // nil unless audit_db is set
	metrics  *observability.Metrics     // nil unless audit_db is set

	closers []func() error
}

// buildApp wires the detector from cfg. The start-up font warning is sent
// through the configured notifier.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, &config.Error{Field: "timezone", Reason: "unknown zone " + cfg.Timezone, Cause: err}
	}

	if a.store, err = a.openStore(); err != nil {
		return nil, err
	}

	audits := observability.Multi{observability.NewFileAudit(cfg.AuditFile, loc)}
	if cfg.AuditDB != "" {
		db, err := dbopen.Open(cfg.AuditDB, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		a.audit = observability.NewSQLiteAudit(db, 256, observability.WithAuditLogger(logger))
		a.metrics = observability.NewMetrics(db, 100, 0, logger)
		audits = append(audits, a.audit)
		a.closers = append(a.closers, db.Close, a.metrics.Close, a.audit.Close)
	}

	face, src, fontErrs := render.LoadFace(cfg.Render.FontFile, cfg.Render.Fallbacks, cfg.Render.FontSize)
	for _, e := range fontErrs {
		logger.Warn("sitediff: font", "error", e)
	}
	renderer, err := render.New(face, renderOptions(cfg.Render))
	if err != nil {
		return nil, err
	}

	browser := fetch.NewBrowser(fetch.BrowserConfig{
		RemoteURL: cfg.Fetch.BrowserURL,
		Timeout:   cfg.Fetch.BrowserTimeout,
		Logger:    logger,
	})
	a.closers = append(a.closers, browser.Close)
	fetcher := &fetch.Router{
		Static: fetch.NewHTTP(fetch.HTTPConfig{
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBodyBytes,
			AllowPrivate: cfg.Fetch.AllowPrivate,
			Logger:       logger,
		}),
		Dynamic: browser,
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.detector, err = monitor.New(monitor.Config{
		Fetcher:            fetcher,
		Store:              a.store,
		Formatter:          markup.NewHTML(logger),
		Renderer:           renderer,
		Notifier:           notifier,
		Audit:              audits,
		Metrics:            a.metrics,
		AdminDest:          cfg.AdminDest(),
		BroadcastDests:     cfg.BroadcastDests(),
		DataDir:            cfg.DataDir,
		KeepImages:         cfg.KeepImages,
		RetryFailedChanges: cfg.RetryFailedChanges,
		PDF:                cfg.Render.PDF,
		Location:           loc,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	if src.Kind != "primary" {
		logger.Warn("sitediff: primary font unavailable", "font", cfg.Render.FontFile, "using", src.Kind, "path", src.Path)
		a.detector.Alert(ctx, monitor.FontMissingText(cfg.Render.FontFile, src))
	}
	return a, nil
}

func (a *app) openStore() (snapshot.Store, error) {
	switch a.cfg.Store.Type {
	case "sqlite":
		s, err := snapshot.OpenSQLite(a.cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot db: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return snapshot.NewFileStore(a.cfg.DataDir), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func renderOptions(rc config.RenderConfig) render.Options {
	o := render.DefaultOptions()
	if rc.MinWidth > 0 {
		o.MinWidth = rc.MinWidth
	}
	if rc.MaxWidth > 0 {
		o.MaxWidth = rc.MaxWidth
	}
	if rc.MaxHeight > 0 {
		o.MaxHeight = rc.MaxHeight
	}
	o.LineNumbers = rc.LineNumbers
	return o
}

// buildNotifier returns the platform notifier for cfg wrapped in a
// Dispatcher.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (*channels.Dispatcher, error) {
	nc := cfg.Notifier
	var (
		n   channels.Notifier
		err error
	)
	switch nc.Type {
	case "telegram":
		n, err = channels.NewTelegram(channels.TelegramConfig{
			Token:   nc.Telegram.Token,
			APIBase: nc.Telegram.APIBase,
			Logger:  logger,
		})
	case "webhook":
		n, err = channels.NewWebhook(channels.WebhookConfig{
			URL:    nc.Webhook.URL,
			Secret: nc.Webhook.Secret,
			Logger: logger,
		})
	case "discord":
		hooks := map[string]string{"broadcast": nc.Discord.BroadcastURL}
		if nc.Discord.AdminURL != "" {
			hooks["admin"] = nc.Discord.AdminURL
		}
		n, err = channels.NewDiscord(channels.DiscordConfig{Webhooks: hooks, Logger: logger})
	case "log":
		n = channels.NewLog(logger)
	default:
		err = &config.Error{Field: "notifier.type", Reason: "unsupported " + nc.Type}
	}
	if err != nil {
		return nil, err
	}
	return channels.NewDispatcher(n,
		channels.WithLogger(logger),
		channels.WithMaxConcurrent(nc.MaxConcurrent),
		channels.WithDelays(nc.TextDelay, nc.ImageDelay),
	), nil
}
