package handlers

import (
	"net/http"

	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
)

// StatsHandler serves /stats, /stats/trackers, and /stats/managed.
type StatsHandler struct {
	engine  *engine.Engine
	cache   *torrentcache.Cache
	matcher *trackermatch.Matcher
}

func NewStatsHandler(eng *engine.Engine, cache *torrentcache.Cache, matcher *trackermatch.Matcher) *StatsHandler {
	return &StatsHandler{engine: eng, cache: cache, matcher: matcher}
}

// Get serves /stats: the most recent cycle's outcome plus the live cache
// summary.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, struct {
		Cycle domain.CycleStats   `json:"cycle"`
		Cache torrentcache.Stats  `json:"cache"`
		State string              `json:"state"`
	}{
		Cycle: h.engine.LastStats(),
		Cache: h.cache.Stats(),
		State: string(h.engine.State()),
	})
}

type trackerStat struct {
	domain.TrackerConfig
	ActiveTorrents int `json:"active_torrents"`
}

// GetTrackers serves /stats/trackers: the configured tracker list with a
// live count of currently-active torrents classified to each.
func (h *StatsHandler) GetTrackers(w http.ResponseWriter, r *http.Request) {
	trackers := h.matcher.Trackers()
	counts := make(map[string]int, len(trackers))
	for _, t := range h.cache.ActiveIter() {
		id := h.matcher.Match(t.TrackerURL)
		counts[id]++
	}

	out := make([]trackerStat, len(trackers))
	for i, t := range trackers {
		out[i] = trackerStat{TrackerConfig: t, ActiveTorrents: counts[t.ID]}
	}
	RespondJSON(w, http.StatusOK, out)
}

// GetManaged serves /stats/managed: every currently-managed torrent.
func (h *StatsHandler) GetManaged(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.engine.ManagedSnapshot())
}
