// Package crossseed forwards torrent-completion events to an external
// cross-seed collaborator over HTTP, per spec.md §4.6. Forwarding is a
// separate, independently failing task from webhook intake itself: a
// forwarding failure never blocks or drops the underlying webhook event.
package crossseed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// sharedTransport pools connections across forwarder instances.
var sharedTransport = func() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 50
	t.MaxIdleConnsPerHost = 5
	t.IdleConnTimeout = 90 * time.Second
	return t
}()

// Config configures the cross-seed collaborator endpoint.
type Config struct {
	Enabled bool
	URL     string
	APIKey  string
}

// Forwarder posts completion notifications to the configured collaborator.
type Forwarder struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds a Forwarder. Forward is a no-op when cfg.Enabled is false.
func New(cfg Config, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: sharedTransport,
		},
		log: log.With().Str("component", "crossseed").Logger(),
	}
}

// Forward notifies the collaborator that hash completed, making up to 3
// attempts in all with exponential backoff between them.
func (f *Forwarder) Forward(ctx context.Context, hash, name string) error {
	if !f.cfg.Enabled {
		return nil
	}

	return retry.Do(
		func() error { return f.post(ctx, hash, name) },
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.log.Warn().Err(err).Uint("attempt", n+1).Str("hash", hash).Msg("retrying cross-seed forward")
		}),
	)
}

func (f *Forwarder) post(ctx context.Context, hash, name string) error {
	endpoint := strings.TrimSuffix(f.cfg.URL, "/") + "/api/notify"

	form := url.Values{}
	form.Set("hash", hash)
	form.Set("name", name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build cross-seed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", f.cfg.APIKey)
	req.Header.Set("User-Agent", "upcapd/1.0 (crossseed)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cross-seed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("cross-seed collaborator returned status %d", resp.StatusCode)
	}
	return nil
}
