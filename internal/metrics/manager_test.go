package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
	"github.com/trackercap/upcap/internal/webhook"
)

type noopQbitAPI struct{}

func (noopQbitAPI) LoginCtx(ctx context.Context) error { return nil }
func (noopQbitAPI) GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error) {
	return nil, nil
}
func (noopQbitAPI) GetTorrentTrackersCtx(ctx context.Context, hash string) ([]qbt.TorrentTracker, error) {
	return nil, nil
}
func (noopQbitAPI) SetTorrentUploadLimitCtx(ctx context.Context, hashes []string, limit int64) error {
	return nil
}
func (noopQbitAPI) GetWebAPIVersionCtx(ctx context.Context) (string, error) {
	return "2.11.4", nil
}

func testManagerDeps(t *testing.T) (*engine.Engine, *torrentcache.Cache, *qbitclient.Client, *webhook.Queue) {
	t.Helper()
	cache := torrentcache.New()
	qbit := qbitclient.NewWithAPI(qbitclient.Config{MinRequestGap: time.Millisecond}, noopQbitAPI{}, zerolog.Nop())
	matcher, err := trackermatch.New([]domain.TrackerConfig{{ID: "catchall", Pattern: ".*", MaxUploadSpeed: domain.Unlimited}})
	require.NoError(t, err)
	wq := webhook.New(10)
	cfg := engine.Config{}.WithDefaults()
	eng := engine.New(qbit, cache, matcher, nil, nil, wq, cfg, zerolog.Nop())
	return eng, cache, qbit, wq
}

func TestNewManagerRegistersStandardCollectors(t *testing.T) {
	eng, cache, qbit, wq := testManagerDeps(t)
	manager := NewManager(eng, cache, qbit, wq)

	require.NotNil(t, manager)
	require.NotNil(t, manager.registry)

	metricFamilies, err := manager.registry.Gather()
	require.NoError(t, err)

	foundGo, foundProcess := false, false
	for _, mf := range metricFamilies {
		if strings.HasPrefix(mf.GetName(), "go_") {
			foundGo = true
		}
		if strings.HasPrefix(mf.GetName(), "process_") {
			foundProcess = true
		}
	}
	assert.True(t, foundGo, "go_* metrics should be registered")
	assert.True(t, foundProcess, "process_* metrics should be registered on linux")
}

func TestManagerRegistryIsolation(t *testing.T) {
	eng1, cache1, qbit1, wq1 := testManagerDeps(t)
	eng2, cache2, qbit2, wq2 := testManagerDeps(t)

	m1 := NewManager(eng1, cache1, qbit1, wq1)
	m2 := NewManager(eng2, cache2, qbit2, wq2)

	assert.NotSame(t, m1.registry, m2.registry)
}

func TestCapCollectorReportsManagedTorrentCount(t *testing.T) {
	eng, cache, qbit, wq := testManagerDeps(t)
	cache.Upsert(domain.TorrentInfo{Hash: "h1", UploadLimit: 2 * 1024 * 1024})
	eng.SetCycleHook(nil) // no-op, just exercising the setter

	manager := NewManager(eng, cache, qbit, wq)

	count := testutil.CollectAndCount(manager.registry, "upcap_managed_torrents")
	assert.Equal(t, 1, count)
}

func TestCycleCollectorObserveIncrementsCounters(t *testing.T) {
	eng, cache, qbit, wq := testManagerDeps(t)
	manager := NewManager(eng, cache, qbit, wq)

	manager.ObserveCycle(domain.CycleStats{
		StartedAt:       time.Now(),
		EndedAt:         time.Now().Add(50 * time.Millisecond),
		TorrentsSeen:    5,
		TorrentsManaged: 3,
		WritesApplied:   2,
		WritesFailed:    1,
		WritesAttempted: 3,
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(manager.cycle.CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(manager.cycle.WritesApplied))
	assert.Equal(t, float64(1), testutil.ToFloat64(manager.cycle.WritesFailed))
	assert.Equal(t, float64(3), testutil.ToFloat64(manager.cycle.TorrentsManaged))
}

func TestCycleCollectorObserveLabelsErrorResult(t *testing.T) {
	eng, cache, qbit, wq := testManagerDeps(t)
	manager := NewManager(eng, cache, qbit, wq)

	manager.ObserveCycle(domain.CycleStats{Error: "fetch failed"})

	assert.Equal(t, float64(1), testutil.ToFloat64(manager.cycle.CyclesTotal.WithLabelValues("error")))
}

func TestEngineCycleHookFeedsManagerObserve(t *testing.T) {
	eng, cache, qbit, wq := testManagerDeps(t)
	manager := NewManager(eng, cache, qbit, wq)
	eng.SetCycleHook(manager.ObserveCycle)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	eng.ForceCycle()
	<-done

	assert.Equal(t, float64(1), testutil.ToFloat64(manager.cycle.CyclesTotal.WithLabelValues("ok")))
}
