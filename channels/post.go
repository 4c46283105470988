package channels

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/sitediff/horosafe"
)

// poster performs the HTTP side of a send and retries rate-limit rejections
// after the delay the platform asks for.
type poster struct {
	client     *http.Client
	maxRetries int
	unit       time.Duration // RetryAfter unit; a second outside tests
	logger     *slog.Logger
	// check turns a response into nil or an *APIError.
	check func(status int, body []byte) error
}

// request is one prepared HTTP request body.
type request struct {
	url         string
	contentType string
	body        []byte
	header      http.Header
}

func (p *poster) do(ctx context.Context, req request) error {
	for attempt := 0; ; attempt++ {
		err := p.once(ctx, req)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 || attempt >= p.maxRetries {
			return err
		}
		wait := time.Duration(apiErr.RetryAfter * float64(p.unit))
		p.logger.WarnContext(ctx, "channels: rate limited, retrying",
			"attempt", attempt+1, "max_retries", p.maxRetries, "backoff_ms", wait.Milliseconds())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func (p *poster) once(ctx context.Context, req request) error {
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.body))
	if err != nil {
		return redact(err)
	}
	hr.Header.Set("Content-Type", req.contentType)
	for k, vs := range req.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	resp, err := p.client.Do(hr)
	if err != nil {
		return redact(err)
	}
	defer resp.Body.Close()
	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return err
	}
	return p.check(resp.StatusCode, body)
}

// redact drops the request URL, which may embed a bot token, from
// transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
