// Package monitor decides, per watched URL and per cycle, whether the page
// is new, unchanged or changed, and produces the notifications that go with
// each outcome.
//
// Both the stored and the fresh body go through the same preparation
// (normalize, then format markup) before they are compared, so a diff only
// ever shows content changes. The operator (admin destination) hears about
// first captures and every failure; the broadcast destinations only ever
// receive confirmed changes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/sitediff/channels"
	"github.com/hazyhaar/sitediff/diff"
	"github.com/hazyhaar/sitediff/fetch"
	"github.com/hazyhaar/sitediff/horosafe"
	"github.com/hazyhaar/sitediff/markup"
	"github.com/hazyhaar/sitediff/normalize"
	"github.com/hazyhaar/sitediff/observability"
	"github.com/hazyhaar/sitediff/render"
	"github.com/hazyhaar/sitediff/sites"
	"github.com/hazyhaar/sitediff/snapshot"
)

// Config wires a Detector. Fetcher, Store, Renderer and Notifier are
// required.
type Config struct {
	Fetcher   fetch.Fetcher
	Store     snapshot.Store
	Formatter markup.Formatter // default markup.NewHTML(Logger)
	Renderer  *render.Renderer
	Notifier  channels.Notifier
	Audit     observability.Auditor
	Metrics   *observability.Metrics

	AdminDest      string
	BroadcastDests []string

	// DataDir receives "<key>_diff.png" (and "<key>_diff.pdf").
	DataDir string
	// KeepImages leaves diff images on disk after sending.
	KeepImages bool
	// PDF also sends the full diff as a PDF document when the image is
	// cropped.
	PDF bool
	// RetryFailedChanges keeps the previous snapshot when rendering or
	// broadcasting a change fails, so the next cycle tries again. By
	// default the fresh content is stored anyway.
	RetryFailedChanges bool

	Location *time.Location // caption and alert timestamps; default time.Local
	Logger   *slog.Logger
	Now      func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Formatter == nil {
		c.Formatter = markup.NewHTML(c.Logger)
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// Detector runs checks. Checks of different sites may run concurrently;
// rendering is serialised.
type Detector struct {
	cfg Config
	log *slog.Logger

	renderMu sync.Mutex

	statusMu sync.RWMutex
	status   map[string]Result // by key
}

// New validates cfg and creates a Detector.
func New(cfg Config) (*Detector, error) {
	switch {
	case cfg.Fetcher == nil:
		return nil, errors.New("monitor: fetcher is required")
	case cfg.Store == nil:
		return nil, errors.New("monitor: snapshot store is required")
	case cfg.Renderer == nil:
		return nil, errors.New("monitor: renderer is required")
	case cfg.Notifier == nil:
		return nil, errors.New("monitor: notifier is required")
	}
	cfg.defaults()
	return &Detector{cfg: cfg, log: cfg.Logger, status: make(map[string]Result)}, nil
}

// Check fetches site, compares it with its snapshot and notifies. It never
// returns an error: failures are reported to the admin destination and
// carried in the Result.
//
// A panic while handling one site is recovered and reported the same way.
func (d *Detector) Check(ctx context.Context, site sites.Site) (res Result) {
	start := d.cfg.Now()
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			res = newResult(site, snapshot.Key(site.URL), start)
			res.Outcome, res.Err, res.Detail = ChangeFailed, err, err.Error()
			d.log.Error("monitor: site processing failed", "url", site.URL, "error", err)
			d.Alert(ctx, processingFailedText(site.URL, err))
		}
		res.Duration = d.cfg.Now().Sub(start)
		d.finish(ctx, res)
	}()
	return d.check(ctx, site, start)
}

func (d *Detector) check(ctx context.Context, site sites.Site, start time.Time) Result {
	key := snapshot.Key(site.URL)
	res := newResult(site, key, start)
	log := d.log.With("url", site.URL, "mode", site.Kind)

	body, err := d.cfg.Fetcher.Fetch(ctx, site.URL, site.FetchMode())
	if err != nil {
		res.Outcome, res.Err, res.Detail = FetchFailed, err, err.Error()
		log.Warn("monitor: fetch failed", "error", err)
		d.Alert(ctx, fetchFailedText(site.URL, d.stamp(start), err))
		return res
	}

	mode := site.ContentMode()
	content := d.prepare(mode, body)
	if mode != sites.Plain {
		res.Title = markup.Title(body)
	}

	prev, err := d.cfg.Store.Get(ctx, key)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		if err := d.put(ctx, key, site.URL, content, mode); err != nil {
			return d.failed(ctx, res, err)
		}
		res.Outcome, res.Detail = FirstRun, "first capture"
		log.Info("monitor: first capture")
		d.Alert(ctx, firstRunText(site.URL, d.stamp(start)))
		return res
	case err != nil:
		return d.failed(ctx, res, fmt.Errorf("read snapshot: %w", err))
	}

	old := d.prepareStored(mode, prev.Body)
	if old == content {
		if err := d.put(ctx, key, site.URL, content, mode); err != nil {
			return d.failed(ctx, res, err)
		}
		res.Outcome, res.Detail = Unchanged, "no change"
		log.Info("monitor: unchanged")
		return res
	}

	if err := d.changed(ctx, &res, old, content); err != nil {
		if !d.cfg.RetryFailedChanges {
			if perr := d.put(ctx, key, site.URL, content, mode); perr != nil {
				err = errors.Join(err, perr)
			}
		}
		return d.failed(ctx, res, err)
	}
	if err := d.put(ctx, key, site.URL, content, mode); err != nil {
		return d.failed(ctx, res, err)
	}
	res.Outcome = Changed
	res.Detail = fmt.Sprintf("+%d -%d", res.Stats.Added, res.Stats.Removed)
	log.Info("monitor: changed", "added", res.Stats.Added, "removed", res.Stats.Removed, "cropped", res.Cropped)
	return res
}

// changed renders the diff of old → content and broadcasts it.
func (d *Detector) changed(ctx context.Context, res *Result, old, content string) error {
	dr := diff.Compute(old, content)
	res.Stats = dr.Stats()
	text := dr.Text()

	d.renderMu.Lock()
	out, err := d.cfg.Renderer.Render(text)
	d.renderMu.Unlock()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	res.Cropped = out.Cropped

	imgPath, err := horosafe.SafePath(d.cfg.DataDir, res.Key+"_diff.png")
	if err != nil {
		return fmt.Errorf("image path: %w", err)
	}
	if err := render.WritePNG(imgPath, out.Image); err != nil {
		return err
	}
	if d.cfg.KeepImages {
		res.Image = imgPath
	} else {
		defer os.Remove(imgPath)
	}

	caption := changedCaption(res.URL, d.stamp(res.At), res.Title, res.Stats, out)
	msgs := make([]channels.Message, 0, 2*len(d.cfg.BroadcastDests))
	for _, dest := range d.cfg.BroadcastDests {
		msgs = append(msgs, channels.Message{Kind: channels.KindImage, Dest: dest, Path: imgPath, Caption: caption})
	}

	if out.Cropped && d.cfg.PDF {
		pdfPath := filepath.Join(filepath.Dir(imgPath), res.Key+"_diff.pdf")
		if err := render.WritePDFFile(pdfPath, res.URL, text, d.cfg.Renderer.Options().Palette); err != nil {
			return err
		}
		defer os.Remove(pdfPath)
		for _, dest := range d.cfg.BroadcastDests {
			msgs = append(msgs, channels.Message{Kind: channels.KindDocument, Dest: dest, Path: pdfPath, Caption: "Full diff: " + res.URL})
		}
	}

	return d.broadcast(ctx, msgs)
}

// batchSender is satisfied by *channels.Dispatcher.
type batchSender interface {
	SendAll(ctx context.Context, msgs []channels.Message) []error
}

func (d *Detector) broadcast(ctx context.Context, msgs []channels.Message) error {
	if len(msgs) == 0 {
		return errors.New("no broadcast destination configured")
	}
	var errs []error
	if bs, ok := d.cfg.Notifier.(batchSender); ok {
		errs = bs.SendAll(ctx, msgs)
	} else {
		errs = make([]error, len(msgs))
		for i, m := range msgs {
			errs[i] = d.send(ctx, m)
		}
	}

	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if msgs[i].Kind == channels.KindDocument && errors.Is(err, errors.ErrUnsupported) {
			d.log.Debug("monitor: notifier cannot send documents", "dest", msgs[i].Dest)
			continue
		}
		failed = append(failed, err)
	}
	return errors.Join(failed...)
}

func (d *Detector) send(ctx context.Context, m channels.Message) error {
	switch m.Kind {
	case channels.KindImage:
		return d.cfg.Notifier.SendImage(ctx, m.Dest, m.Path, m.Caption)
	case channels.KindDocument:
		ds, ok := d.cfg.Notifier.(channels.DocumentSender)
		if !ok {
			return errors.ErrUnsupported
		}
		return ds.SendDocument(ctx, m.Dest, m.Path, m.Caption)
	default:
		return d.cfg.Notifier.SendText(ctx, m.Dest, m.Text)
	}
}

func (d *Detector) failed(ctx context.Context, res Result, err error) Result {
	res.Outcome, res.Err, res.Detail = ChangeFailed, err, err.Error()
	d.log.Error("monitor: compare failed", "url", res.URL, "error", err)
	d.Alert(ctx, changeFailedText(res.URL, d.stamp(res.At), err))
	return res
}

// Alert sends text to the admin destination. Failures are logged and
// swallowed.
func (d *Detector) Alert(ctx context.Context, text string) {
	if d.cfg.AdminDest == "" {
		d.log.Warn("monitor: no admin destination, alert dropped", "text", text)
		return
	}
	if err := d.cfg.Notifier.SendText(ctx, d.cfg.AdminDest, text); err != nil {
		d.log.Error("monitor: admin alert failed", "error", err)
	}
}

// Prepare turns a fetched body into the comparable form for mode. On a
// markdown conversion error the normalized body is returned with the error.
func Prepare(f markup.Formatter, mode sites.ContentMode, body string) (string, error) {
	body = normalize.Text(body)
	switch mode {
	case sites.Markup:
		return normalize.Text(f.FormatMarkup(body)), nil
	case sites.Markdown:
		md, err := markup.Markdown(body)
		if err != nil {
			return body, err
		}
		return md, nil
	}
	return body, nil
}

func (d *Detector) prepare(mode sites.ContentMode, body string) string {
	out, err := Prepare(d.cfg.Formatter, mode, body)
	if err != nil {
		d.log.Warn("monitor: markdown conversion failed, using raw body", "error", err)
	}
	return out
}

// prepareStored re-applies the preparation a stored body went through.
// Markdown output is already final and is only normalized.
func (d *Detector) prepareStored(mode sites.ContentMode, body string) string {
	if mode == sites.Markup {
		return d.prepare(mode, body)
	}
	return normalize.Text(body)
}

func (d *Detector) put(ctx context.Context, key, url, body string, mode sites.ContentMode) error {
	err := d.cfg.Store.Put(ctx, &snapshot.Snapshot{Key: key, URL: url, Body: body, Mode: mode, UpdatedAt: d.cfg.Now()})
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (d *Detector) stamp(t time.Time) string {
	return t.In(d.cfg.Location).Format(observability.TimeLayout)
}

// finish records res in the status map, the audit trail and the metrics.
func (d *Detector) finish(ctx context.Context, res Result) {
	d.statusMu.Lock()
	d.status[res.Key] = res
	d.statusMu.Unlock()

	if d.cfg.Audit != nil {
		err := d.cfg.Audit.Record(ctx, observability.Entry{
			Time: res.At, URL: res.URL, Outcome: res.Outcome.String(), Detail: res.Detail,
		})
		if err != nil {
			d.log.Error("monitor: audit failed", "url", res.URL, "error", err)
		}
	}

	labels := map[string]string{"outcome": res.Outcome.String(), "mode": res.Kind}
	d.cfg.Metrics.Duration(observability.MetricCheckDurationMs, res.Duration, labels)
	if res.Outcome == Changed {
		d.cfg.Metrics.Count(observability.MetricDiffLines, res.Stats.Added, map[string]string{"kind": "added"})
		d.cfg.Metrics.Count(observability.MetricDiffLines, res.Stats.Removed, map[string]string{"kind": "removed"})
	}
}

// Status returns the last result of every checked site, ordered by URL.
func (d *Detector) Status() []Result {
	d.statusMu.RLock()
	out := make([]Result, 0, len(d.status))
	for _, r := range d.status {
		out = append(out, r)
	}
	d.statusMu.RUnlock()
	sortResults(out)
	return out
}

// StatusOf returns the last result for a snapshot key.
func (d *Detector) StatusOf(key string) (Result, bool) {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	r, ok := d.status[key]
	return r, ok
}

// Store returns the snapshot store.
func (d *Detector) Store() snapshot.Store { return d.cfg.Store }

// DataDir returns the directory diff images are written to.
func (d *Detector) DataDir() string { return d.cfg.DataDir }
