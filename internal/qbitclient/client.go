// Package qbitclient wraps github.com/autobrr/go-qbittorrent with the
// cross-cutting concerns spec.md §4.3 requires on top of it: a cooperative
// rate limiter, a three-state circuit breaker, chunked batched writes, and
// the active-torrent/tracker-fetch shape the allocation engine needs.
package qbitclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/trackercap/upcap/internal/apperrors"
	"github.com/trackercap/upcap/internal/domain"
)

// minBatchedUploadLimitVersion is the earliest qBittorrent WebAPI version
// known to accept a semicolon-joined hash list on torrents/setUploadLimit.
// Older instances only honor the first hash in a multi-hash call, so this
// adapter falls back to one API call per hash below it.
var minBatchedUploadLimitVersion = semver.MustParse("2.8.4")

// Config configures a single qBittorrent instance connection. Only one
// credential pair is ever attempted; alternates are never tried, and the
// password is never logged.
type Config struct {
	Host          string
	Username      string
	Password      string
	RequestTimeout time.Duration
	MinRequestGap  time.Duration // default 100ms
}

// qbtAPI is the subset of *qbt.Client this adapter drives. Narrowing to an
// interface (mirroring go-qbittorrent's own trackerAPI in tracker_manager.go)
// lets tests substitute a fake instead of talking to a real instance.
type qbtAPI interface {
	LoginCtx(ctx context.Context) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	GetTorrentTrackersCtx(ctx context.Context, hash string) ([]qbt.TorrentTracker, error)
	SetTorrentUploadLimitCtx(ctx context.Context, hashes []string, limit int64) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
}

// Client is the adapter the allocation engine talks to.
type Client struct {
	cfg     Config
	inner   qbtAPI
	limiter *rate.Limiter
	breaker *breaker
	log     zerolog.Logger

	mu                    sync.RWMutex
	loggedIn              bool
	lastLogin             time.Time
	webAPIVersion         string
	supportsBatchedLimits bool
}

// New builds an unauthenticated adapter. Call Login before issuing other
// calls.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MinRequestGap <= 0 {
		cfg.MinRequestGap = 100 * time.Millisecond
	}

	inner := qbt.NewClient(qbt.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(cfg.RequestTimeout.Seconds()),
	})

	return newWithAPI(cfg, inner, log)
}

// TestAPI exposes the adapter's narrowed API surface so other packages'
// tests can construct a Client around a fake instead of a real qBittorrent
// instance.
type TestAPI = qbtAPI

// NewWithAPI builds a Client around a caller-supplied API implementation,
// for tests that need a fake qBittorrent server.
func NewWithAPI(cfg Config, api TestAPI, log zerolog.Logger) *Client {
	return newWithAPI(cfg, api, log)
}

func newWithAPI(cfg Config, inner qbtAPI, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(cfg.MinRequestGap), 1),
		breaker: newBreaker(),
		log:     log.With().Str("component", "qbitclient").Logger(),
		// Optimistic until Login's probe proves otherwise; most deployed
		// instances are well past minBatchedUploadLimitVersion.
		supportsBatchedLimits: true,
	}
}

// call wraps every outbound request with the rate limiter and circuit
// breaker. fn should perform exactly one logical API call.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewTransport(err)
	}

	err := fn(ctx)
	if err != nil {
		c.breaker.RecordFailure()
		return apperrors.NewTransport(err)
	}
	c.breaker.RecordSuccess()
	return nil
}

// callGet wraps an idempotent GET with up to 3 attempts of exponential
// backoff, following go-qbittorrent's own http.go retry.Do usage. Each
// attempt still goes through the breaker and limiter via call.
func (c *Client) callGet(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error { return c.call(ctx, fn) },
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Err(err).Uint("attempt", n+1).Msg("retrying qbittorrent GET")
		}),
	)
}

// Login authenticates once with the single configured credential pair, then
// probes the WebAPI version to decide whether SetUploadLimits can batch
// multiple hashes into one call.
func (c *Client) Login(ctx context.Context) error {
	err := c.call(ctx, func(ctx context.Context) error {
		return c.inner.LoginCtx(ctx)
	})
	if err != nil {
		return apperrors.NewAuth(err)
	}

	var webAPIVersion string
	supportsBatchedLimits := true
	if verErr := c.call(ctx, func(ctx context.Context) error {
		var innerErr error
		webAPIVersion, innerErr = c.inner.GetWebAPIVersionCtx(ctx)
		return innerErr
	}); verErr != nil {
		c.log.Warn().Err(verErr).Msg("failed to probe webapi version, assuming batched upload-limit writes are supported")
	} else if v, parseErr := semver.NewVersion(webAPIVersion); parseErr == nil {
		supportsBatchedLimits = !v.LessThan(minBatchedUploadLimitVersion)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.lastLogin = time.Now()
	c.webAPIVersion = webAPIVersion
	c.supportsBatchedLimits = supportsBatchedLimits
	c.mu.Unlock()
	c.log.Debug().
		Str("host", c.cfg.Host).
		Str("webAPIVersion", webAPIVersion).
		Bool("supportsBatchedLimits", supportsBatchedLimits).
		Msg("logged in")
	return nil
}

// WebAPIVersion returns the probed WebAPI version string, empty if the probe
// failed or Login hasn't run yet.
func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

// SupportsBatchedLimits reports whether the connected instance's WebAPI is
// known to honor a multi-hash torrents/setUploadLimit call.
func (c *Client) SupportsBatchedLimits() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsBatchedLimits
}

// CircuitState reports the adapter's current breaker state, for /health.
func (c *Client) CircuitState() (domain.CircuitBreakerState, int, time.Time) {
	return c.breaker.State()
}

// representativeURL picks the URL per spec.md §3 invariant (v): the first
// announce URL with status working, or else the first non-errored URL.
func representativeURL(trackers []qbt.TorrentTracker) string {
	var firstNonErrored string
	for _, tr := range trackers {
		if tr.Status == qbt.TrackerStatusOK {
			return tr.Url
		}
		if firstNonErrored == "" && tr.Status != qbt.TrackerStatusNotWorking {
			firstNonErrored = tr.Url
		}
	}
	return firstNonErrored
}

// GetActiveTorrents fetches the server-side "active" filter, then applies a
// client-side up-speed threshold.
func (c *Client) GetActiveTorrents(ctx context.Context, minUpspeedBytes int64) ([]domain.TorrentInfo, error) {
	var torrents []qbt.Torrent
	err := c.callGet(ctx, func(ctx context.Context) error {
		var innerErr error
		torrents, innerErr = c.inner.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Filter: qbt.TorrentFilterActive})
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.TorrentInfo, 0, len(torrents))
	for _, t := range torrents {
		if t.UpSpeed < minUpspeedBytes {
			continue
		}
		out = append(out, domain.TorrentInfo{
			Hash:        t.Hash,
			Name:        t.Name,
			UpSpeed:     t.UpSpeed,
			UploadLimit: t.UpLimit,
			NumSeeds:    t.NumSeeds,
			NumLeechs:   t.NumLeechs,
			Size:        t.Size,
			Progress:    t.Progress,
			State:       string(t.State),
			AddedOn:     t.AddedOn,
		})
	}
	return out, nil
}

const maxTrackerBackfill = 1000

// GetTrackersFor issues one tracker lookup per hash (capped at 1000 per
// call) and returns each torrent's representative announce URL.
func (c *Client) GetTrackersFor(ctx context.Context, hashes []string) (map[string]string, error) {
	if len(hashes) > maxTrackerBackfill {
		hashes = hashes[:maxTrackerBackfill]
	}

	out := make(map[string]string, len(hashes))
	for _, hash := range hashes {
		var trackers []qbt.TorrentTracker
		err := c.callGet(ctx, func(ctx context.Context) error {
			var innerErr error
			trackers, innerErr = c.inner.GetTorrentTrackersCtx(ctx, hash)
			return innerErr
		})
		if err != nil {
			c.log.Warn().Err(err).Str("hash", hash).Msg("failed to fetch trackers for torrent")
			continue
		}
		out[hash] = representativeURL(trackers)
	}
	return out, nil
}

// WriteResult reports the outcome of a batched SetUploadLimits call.
type WriteResult struct {
	Applied []string
	Failed  map[string]error
	APICallsUsed int
}

const maxHashesPerBatch = 100

// SetUploadLimits batches hash->limit writes grouped by target value (so
// each API call sets one limit across a semicolon-joined hash list), honors
// maxAPICalls as a hard per-cycle budget, and keeps going past individual
// batch failures so the caller can retry them next cycle. On WebAPI versions
// below minBatchedUploadLimitVersion (see SupportsBatchedLimits), each batch
// is capped to a single hash per call instead.
func (c *Client) SetUploadLimits(ctx context.Context, limits map[string]int64, maxAPICalls int) WriteResult {
	result := WriteResult{Failed: make(map[string]error)}

	batchSize := maxHashesPerBatch
	if !c.SupportsBatchedLimits() {
		batchSize = 1
	}

	groups := make(map[int64][]string)
	for hash, limit := range limits {
		groups[limit] = append(groups[limit], hash)
	}

	// Deterministic ordering makes batching (and tests) reproducible.
	values := make([]int64, 0, len(groups))
	for v := range groups {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	for _, value := range values {
		hashes := groups[value]
		for i := 0; i < len(hashes); i += batchSize {
			if result.APICallsUsed >= maxAPICalls {
				for _, h := range hashes[i:] {
					result.Failed[h] = fmt.Errorf("deferred: per-cycle API call budget exhausted")
				}
				break
			}
			end := i + batchSize
			if end > len(hashes) {
				end = len(hashes)
			}
			chunk := hashes[i:end]

			err := c.call(ctx, func(ctx context.Context) error {
				return c.inner.SetTorrentUploadLimitCtx(ctx, chunk, value)
			})
			result.APICallsUsed++
			if err != nil {
				for _, h := range chunk {
					result.Failed[h] = err
				}
				continue
			}
			result.Applied = append(result.Applied, chunk...)
		}
	}

	return result
}
