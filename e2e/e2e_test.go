// Package e2e runs the whole change pipeline against local servers: a page
// server stands in for the watched sites and a fake Bot API receives every
// notification through the real Telegram notifier and Dispatcher.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/image/font/basicfont"

	"github.com/hazyhaar/sitediff/channels"
	"github.com/hazyhaar/sitediff/fetch"
	"github.com/hazyhaar/sitediff/httpapi"
	"github.com/hazyhaar/sitediff/monitor"
	"github.com/hazyhaar/sitediff/observability"
	"github.com/hazyhaar/sitediff/render"
	"github.com/hazyhaar/sitediff/sites"
	"github.com/hazyhaar/sitediff/snapshot"
)

const (
	adminChat     = "1001"
	broadcastChat = "-2002"
	botToken      = "123:secret"
)

// --- test helpers ---

// sent is one call received by the fake Bot API.
type sent struct {
	Method string
	ChatID string
	Text   string // message text or photo caption
	File   []byte
}

// botAPI is a fake Telegram Bot API that records calls and tracks how many
// are in flight at once.
type botAPI struct {
	srv   *httptest.Server
	delay time.Duration

	mu    sync.Mutex
	calls []sent

	inFlight atomic.Int32
	peak     atomic.Int32
}

func newBotAPI(t *testing.T) *botAPI {
	t.Helper()
	b := &botAPI{}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *botAPI) handle(w http.ResponseWriter, r *http.Request) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	prefix := "/bot" + botToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		return
	}
	call := sent{Method: strings.TrimPrefix(r.URL.Path, prefix)}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var msg struct {
			ChatID string `json:"chat_id"`
			Text   string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&msg)
		call.ChatID, call.Text = msg.ChatID, msg.Text
	} else {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, err.Error())
			return
		}
		call.ChatID = r.FormValue("chat_id")
		call.Text = r.FormValue("caption")
		for _, field := range []string{"photo", "document"} {
			if f, _, err := r.FormFile(field); err == nil {
				call.File, _ = io.ReadAll(f)
				f.Close()
			}
		}
	}

	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
	fmt.Fprint(w, `{"ok":true,"result":{}}`)
}

// take returns and clears the recorded calls.
func (b *botAPI) take() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.calls
	b.calls = nil
	return out
}

// pages serves per-path bodies; unknown paths answer 503.
type pages struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (p *pages) set(path, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies[path] = body
}

func (p *pages) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	body, ok := p.bodies[r.URL.Path]
	p.mu.Unlock()
	if !ok {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	ct := "text/html; charset=utf-8"
	if strings.HasSuffix(r.URL.Path, ".txt") {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	io.WriteString(w, body)
}

type pipeline struct {
	detector *monitor.Detector
	bot      *botAPI
	pages    *pages
	site     *httptest.Server
	dataDir  string
	audit    string
	store    *snapshot.FileStore
}

func newPipeline(t *testing.T, maxConcurrent int) *pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	p := &pipeline{
		bot:     newBotAPI(t),
		pages:   &pages{bodies: map[string]string{}},
		dataDir: filepath.Join(dir, "data"),
		audit:   filepath.Join(dir, "changes.log"),
	}
	p.site = httptest.NewServer(p.pages)
	t.Cleanup(p.site.Close)
	p.store = snapshot.NewFileStore(p.dataDir)

	tg, err := channels.NewTelegram(channels.TelegramConfig{Token: botToken, APIBase: p.bot.srv.URL, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	disp := channels.NewDispatcher(tg,
		channels.WithLogger(logger),
		channels.WithMaxConcurrent(maxConcurrent),
		channels.WithDelays(0, 0),
	)
	r, err := render.New(basicfont.Face7x13, render.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	p.detector, err = monitor.New(monitor.Config{
		Fetcher:        &fetch.Router{Static: fetch.NewHTTP(fetch.HTTPConfig{AllowPrivate: true, Logger: logger})},
		Store:          p.store,
		Renderer:       r,
		Notifier:       disp,
		Audit:          observability.NewFileAudit(p.audit, time.UTC),
		AdminDest:      adminChat,
		BroadcastDests: []string{broadcastChat},
		DataDir:        p.dataDir,
		Location:       time.UTC,
		Logger:         logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (p *pipeline) auditLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(p.audit)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// --- tests ---

func TestE2E_ChangeLifecycle(t *testing.T) {
	// WHAT: first run, unchanged, changed, over real HTTP fetch and the Bot API.
	// WHY: the detector's outcomes only matter through what reaches the chats.
	p := newPipeline(t, 5)
	ctx := context.Background()
	url := p.site.URL + "/news.txt"
	site := sites.Site{Kind: "txt", URL: url}
	key := snapshot.Key(url)

	// (a) first observation
	p.pages.set("/news.txt", "A")
	if res := p.detector.Check(ctx, site); res.Outcome != monitor.FirstRun {
		t.Fatalf("first check = %v (%v)", res.Outcome, res.Err)
	}
	calls := p.bot.take()
	if len(calls) != 1 || calls[0].Method != "sendMessage" || calls[0].ChatID != adminChat {
		t.Fatalf("first run calls = %+v", calls)
	}
	if !strings.Contains(calls[0].Text, url) {
		t.Errorf("admin text %q does not name the url", calls[0].Text)
	}
	if snap, err := p.store.Get(ctx, key); err != nil || snap.Body != "A" {
		t.Fatalf("snapshot after first run = %+v, %v", snap, err)
	}
	if n := len(p.auditLines(t)); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}

	// (b) unchanged
	if res := p.detector.Check(ctx, site); res.Outcome != monitor.Unchanged {
		t.Fatalf("second check = %v", res.Outcome)
	}
	if calls := p.bot.take(); len(calls) != 0 {
		t.Errorf("unchanged sent %+v", calls)
	}
	if n := len(p.auditLines(t)); n != 2 {
		t.Errorf("audit lines = %d, want 2", n)
	}

	// (c) changed
	p.pages.set("/news.txt", "B")
	res := p.detector.Check(ctx, site)
	if res.Outcome != monitor.Changed || res.Stats.Added != 1 || res.Stats.Removed != 1 {
		t.Fatalf("third check = %v %+v (%v)", res.Outcome, res.Stats, res.Err)
	}
	calls = p.bot.take()
	if len(calls) != 1 || calls[0].Method != "sendPhoto" || calls[0].ChatID != broadcastChat {
		t.Fatalf("change calls = %+v", calls)
	}
	img, err := png.Decode(bytes.NewReader(calls[0].File))
	if err != nil {
		t.Fatalf("photo is not a PNG: %v", err)
	}
	if w := img.Bounds().Dx(); w < render.DefaultMinWidth || w > render.DefaultMaxWidth {
		t.Errorf("image width %d out of bounds", w)
	}
	if !strings.Contains(calls[0].Text, "+1 -1") {
		t.Errorf("caption %q lacks line counts", calls[0].Text)
	}
	if snap, _ := p.store.Get(ctx, key); snap == nil || snap.Body != "B" {
		t.Errorf("snapshot not updated: %+v", snap)
	}
	if _, err := os.Stat(filepath.Join(p.dataDir, key+"_diff.png")); !os.IsNotExist(err) {
		t.Errorf("diff image left on disk: %v", err)
	}
}

func TestE2E_FetchFailure(t *testing.T) {
	// WHAT: (d) a 503 page alerts the admin and leaves no snapshot.
	p := newPipeline(t, 5)
	ctx := context.Background()
	url := p.site.URL + "/down.txt"

	res := p.detector.Check(ctx, sites.Site{Kind: "txt", URL: url})
	if res.Outcome != monitor.FetchFailed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	calls := p.bot.take()
	if len(calls) != 1 || calls[0].ChatID != adminChat || !strings.Contains(calls[0].Text, "503") {
		t.Fatalf("calls = %+v", calls)
	}
	if _, err := p.store.Get(ctx, snapshot.Key(url)); err != snapshot.ErrNotFound {
		t.Errorf("snapshot written for failed fetch: %v", err)
	}
	lines := p.auditLines(t)
	if len(lines) != 1 || !strings.Contains(lines[0], "FetchFailed") {
		t.Errorf("audit = %q", lines)
	}
}

func TestE2E_DynamicWithoutBrowser(t *testing.T) {
	// WHAT: a dynamic site with no browser configured is a fetch failure.
	p := newPipeline(t, 5)
	res := p.detector.Check(context.Background(), sites.Site{Kind: "dynamic", URL: p.site.URL + "/app"})
	if res.Outcome != monitor.FetchFailed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
}

func TestE2E_MarkupFormattingNoise(t *testing.T) {
	// WHAT: re-indented markup with the same structure is not a change.
	p := newPipeline(t, 5)
	ctx := context.Background()
	site := sites.Site{Kind: "static", URL: p.site.URL + "/page"}

	p.pages.set("/page", "<html><head><title>Notice</title></head><body><p>Hello</p></body></html>")
	if res := p.detector.Check(ctx, site); res.Outcome != monitor.FirstRun {
		t.Fatalf("first = %v (%v)", res.Outcome, res.Err)
	}
	p.pages.set("/page", "<html>\r\n  <head><title>Notice</title></head>\r\n  <body>\r\n    <p>Hello</p>\r\n  </body>\r\n</html>\r\n")
	if res := p.detector.Check(ctx, site); res.Outcome != monitor.Unchanged {
		t.Fatalf("reformatted = %v", res.Outcome)
	}
	p.pages.set("/page", "<html><head><title>Notice</title></head><body><p>Goodbye</p></body></html>")
	res := p.detector.Check(ctx, site)
	if res.Outcome != monitor.Changed || res.Title != "Notice" {
		t.Fatalf("changed = %v title %q", res.Outcome, res.Title)
	}
}

func TestE2E_DispatchBound(t *testing.T) {
	// WHAT: (e) 8 concurrent sends through a bound of 5 never exceed 5 in flight.
	p := newPipeline(t, 5)
	p.bot.delay = 30 * time.Millisecond

	tg, err := channels.NewTelegram(channels.TelegramConfig{Token: botToken, APIBase: p.bot.srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	disp := channels.NewDispatcher(tg, channels.WithMaxConcurrent(5), channels.WithDelays(0, 0))
	msgs := make([]channels.Message, 8)
	for i := range msgs {
		msgs[i] = channels.Message{Kind: channels.KindText, Dest: broadcastChat, Text: fmt.Sprint("m", i)}
	}
	for i, err := range disp.SendAll(context.Background(), msgs) {
		if err != nil {
			t.Errorf("send %d: %v", i, err)
		}
	}
	if peak := p.bot.peak.Load(); peak > 5 || peak < 2 {
		t.Errorf("peak in flight = %d, want 2..5", peak)
	}
	if n := len(p.bot.take()); n != 8 {
		t.Errorf("delivered %d, want 8", n)
	}
}

func TestE2E_BatchAndStatusAPI(t *testing.T) {
	// WHAT: a batch over several sites is visible through the status API.
	p := newPipeline(t, 5)
	ctx := context.Background()
	p.pages.set("/a.txt", "alpha")
	list := []sites.Site{
		{Kind: "txt", URL: p.site.URL + "/a.txt"},
		{Kind: "txt", URL: p.site.URL + "/missing.txt"},
	}
	rep := p.detector.Run(ctx, list)
	if rep.Count(monitor.FirstRun) != 1 || rep.Count(monitor.FetchFailed) != 1 {
		t.Fatalf("counts = %+v", rep.Counts)
	}

	api, err := httpapi.New(httpapi.Config{Status: p.detector, Store: p.store, DataDir: p.dataDir})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/snapshots/" + snapshot.Key(p.site.URL+"/a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap snapshot.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil || snap.Body != "alpha" {
		t.Fatalf("snapshot via API = %+v, %v", snap, err)
	}

	resp2, err := http.Get(srv.URL + "/api/sites")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var status []struct {
		URL     string `json:"url"`
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&status); err != nil || len(status) != 2 {
		t.Fatalf("status = %+v, %v", status, err)
	}
}
