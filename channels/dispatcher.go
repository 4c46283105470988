package channels

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher bounds concurrent sends to a wrapped Notifier. Each send
// acquires a slot from a counting semaphore, blocking until one is free or
// ctx is done, and keeps it for a post-send delay (shorter after text,
// longer after files). A failed send is logged and returned to its caller;
// it never cancels other sends.
type Dispatcher struct {
	next       Notifier
	logger     *slog.Logger
	sem        chan struct{}
	textDelay  time.Duration
	imageDelay time.Duration
}

var (
	_ Notifier       = (*Dispatcher)(nil)
	_ DocumentSender = (*Dispatcher)(nil)
)

// Defaults for NewDispatcher.
const (
	DefaultMaxConcurrent = 5
	DefaultTextDelay     = time.Second
	DefaultImageDelay    = 3 * time.Second
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for send failures.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxConcurrent sets how many sends may be in flight. Values below 1
// keep the default.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithDelays sets the post-send delays. Negative values mean no delay.
func WithDelays(text, image time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.textDelay = max(text, 0)
		d.imageDelay = max(image, 0)
	}
}

// NewDispatcher wraps next.
func NewDispatcher(next Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:       next,
		logger:     slog.Default(),
		sem:        make(chan struct{}, DefaultMaxConcurrent),
		textDelay:  DefaultTextDelay,
		imageDelay: DefaultImageDelay,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Capacity returns the number of concurrent sends allowed.
func (d *Dispatcher) Capacity() int { return cap(d.sem) }

// SendText implements Notifier.
func (d *Dispatcher) SendText(ctx context.Context, dest, text string) error {
	return d.run(ctx, KindText, dest, d.textDelay, func(ctx context.Context) error {
		return d.next.SendText(ctx, dest, text)
	})
}

// SendImage implements Notifier.
func (d *Dispatcher) SendImage(ctx context.Context, dest, path, caption string) error {
	return d.run(ctx, KindImage, dest, d.imageDelay, func(ctx context.Context) error {
		return d.next.SendImage(ctx, dest, path, caption)
	})
}

// SendDocument forwards to the wrapped notifier when it supports documents.
func (d *Dispatcher) SendDocument(ctx context.Context, dest, path, caption string) error {
	ds, ok := d.next.(DocumentSender)
	if !ok {
		return &SendError{Platform: "dispatcher", Kind: KindDocument, Dest: dest, Cause: errors.ErrUnsupported}
	}
	return d.run(ctx, KindDocument, dest, d.imageDelay, func(ctx context.Context) error {
		return ds.SendDocument(ctx, dest, path, caption)
	})
}

// Send dispatches m according to its Kind.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	switch m.Kind {
	case KindImage:
		return d.SendImage(ctx, m.Dest, m.Path, m.Caption)
	case KindDocument:
		return d.SendDocument(ctx, m.Dest, m.Path, m.Caption)
	default:
		return d.SendText(ctx, m.Dest, m.Text)
	}
}

// SendAll sends every message concurrently, within the dispatcher's bound,
// and waits for all of them. errs[i] is the outcome of msgs[i].
func (d *Dispatcher) SendAll(ctx context.Context, msgs []Message) (errs []error) {
	errs = make([]error, len(msgs))
	var wg sync.WaitGroup
	for i, m := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.Send(ctx, m)
		}()
	}
	wg.Wait()
	return errs
}

func (d *Dispatcher) run(ctx context.Context, kind Kind, dest string, delay time.Duration, send func(context.Context) error) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return &SendError{Platform: "dispatcher", Kind: kind, Dest: dest, Cause: ctx.Err()}
	}
	defer func() { <-d.sem }()

	err := send(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "channels: send failed", "kind", kind, "dest", dest, "error", err)
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	return err
}
