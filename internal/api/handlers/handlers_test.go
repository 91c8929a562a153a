package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackercap/upcap/internal/crossseed"
	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/dryrunstore"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/rollbackstore"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
	"github.com/trackercap/upcap/internal/webhook"
)

type fakeQbitAPI struct{}

func (fakeQbitAPI) LoginCtx(ctx context.Context) error { return nil }
func (fakeQbitAPI) GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error) {
	return nil, nil
}
func (fakeQbitAPI) GetTorrentTrackersCtx(ctx context.Context, hash string) ([]qbt.TorrentTracker, error) {
	return nil, nil
}
func (fakeQbitAPI) SetTorrentUploadLimitCtx(ctx context.Context, hashes []string, limit int64) error {
	return nil
}
func (fakeQbitAPI) GetWebAPIVersionCtx(ctx context.Context) (string, error) {
	return "2.11.4", nil
}

type testDeps struct {
	engine  *engine.Engine
	cache   *torrentcache.Cache
	matcher *trackermatch.Matcher
	qbit    *qbitclient.Client
	webhook *webhook.Queue
}

func newTestDeps(t *testing.T) testDeps {
	t.Helper()

	cache := torrentcache.New()
	qbit := qbitclient.NewWithAPI(qbitclient.Config{MinRequestGap: time.Millisecond}, fakeQbitAPI{}, zerolog.Nop())
	matcher, err := trackermatch.New([]domain.TrackerConfig{
		{ID: "catchall", Pattern: ".*", MaxUploadSpeed: domain.Unlimited},
	})
	require.NoError(t, err)

	rollback, err := rollbackstore.Open(filepath.Join(t.TempDir(), "rollback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rollback.Close() })

	dryrun, err := dryrunstore.Open(filepath.Join(t.TempDir(), "dryrun.gob"))
	require.NoError(t, err)

	wq := webhook.New(10)
	cfg := engine.Config{}.WithDefaults()
	eng := engine.New(qbit, cache, matcher, rollback, dryrun, wq, cfg, zerolog.Nop())

	return testDeps{engine: eng, cache: cache, matcher: matcher, qbit: qbit, webhook: wq}
}

func TestHealthHandlerReturns503BeforeFirstCycle(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHealthHandler(deps.engine, deps.qbit)

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsHandlerGetReturnsCacheAndCycleState(t *testing.T) {
	deps := newTestDeps(t)
	deps.cache.Upsert(domain.TorrentInfo{Hash: "h1", UploadLimit: -1})
	h := NewStatsHandler(deps.engine, deps.cache, deps.matcher)

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache"`)
}

func TestStatsHandlerGetTrackersCountsActiveTorrents(t *testing.T) {
	deps := newTestDeps(t)
	deps.cache.Upsert(domain.TorrentInfo{Hash: "h1", TrackerURL: "http://tracker.example/announce", UpSpeed: 1024})
	h := NewStatsHandler(deps.engine, deps.cache, deps.matcher)

	rec := httptest.NewRecorder()
	h.GetTrackers(rec, httptest.NewRequest(http.MethodGet, "/stats/trackers", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_torrents":1`)
}

func TestEngineHandlerSetRolloutRejectsOutOfRange(t *testing.T) {
	deps := newTestDeps(t)
	h := NewEngineHandler(deps.engine)

	body := strings.NewReader(`{"percentage": 150}`)
	req := httptest.NewRequest(http.MethodPost, "/rollout", body)
	rec := httptest.NewRecorder()

	h.SetRollout(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineHandlerSetRolloutAcceptsValidValue(t *testing.T) {
	deps := newTestDeps(t)
	h := NewEngineHandler(deps.engine)

	body := strings.NewReader(`{"percentage": 50}`)
	req := httptest.NewRequest(http.MethodPost, "/rollout", body)
	rec := httptest.NewRecorder()

	h.SetRollout(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEngineHandlerForceCycleRejectsWhenNotReady(t *testing.T) {
	deps := newTestDeps(t)
	h := NewEngineHandler(deps.engine)

	rec := httptest.NewRecorder()
	h.ForceCycle(rec, httptest.NewRequest(http.MethodPost, "/cycle/force", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEngineHandlerResetLimitsRejectsEmptyHashes(t *testing.T) {
	deps := newTestDeps(t)
	h := NewEngineHandler(deps.engine)

	body := strings.NewReader(`{"hashes": []}`)
	req := httptest.NewRequest(http.MethodPost, "/limits/reset", body)
	rec := httptest.NewRecorder()

	h.ResetLimits(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchHandlerTestRequiresURL(t *testing.T) {
	deps := newTestDeps(t)
	h := NewMatchHandler(deps.matcher)

	rec := httptest.NewRecorder()
	h.Test(rec, httptest.NewRequest(http.MethodGet, "/match/test", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchHandlerTestMatchesCatchAll(t *testing.T) {
	deps := newTestDeps(t)
	h := NewMatchHandler(deps.matcher)

	req := httptest.NewRequest(http.MethodGet, "/match/test?url=http://any.example/announce", nil)
	rec := httptest.NewRecorder()

	h.Test(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "catchall")
}

func TestWebhookHandlerRejectsMissingHash(t *testing.T) {
	deps := newTestDeps(t)
	h := NewWebhookHandler(deps.webhook, crossseed.New(crossseed.Config{}, zerolog.Nop()), zerolog.Nop())

	form := url.Values{"event": {"add"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.Post(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandlerAcceptsValidEventAndEnqueues(t *testing.T) {
	deps := newTestDeps(t)
	h := NewWebhookHandler(deps.webhook, crossseed.New(crossseed.Config{}, zerolog.Nop()), zerolog.Nop())

	form := url.Values{"event": {"add"}, "hash": {"abc123"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.Post(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, deps.webhook.Len())
}

func TestWebhookHandlerRejectsUnknownEventType(t *testing.T) {
	deps := newTestDeps(t)
	h := NewWebhookHandler(deps.webhook, nil, zerolog.Nop())

	form := url.Values{"event": {"bogus"}, "hash": {"abc123"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.Post(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
