// Package engine implements the allocation engine: the cycle state machine
// that selects which torrents to manage, computes new per-torrent upload
// limits under one of three interchangeable strategies, and applies only
// meaningfully-changed limits back through the remote-client adapter.
package engine

import (
	"context"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackercap/upcap/internal/apperrors"
	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/dryrunstore"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/rollbackstore"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
	"github.com/trackercap/upcap/internal/webhook"
)

const maxTorrentBackfill = 1000

// Engine drives the periodic allocation cycle. It owns the torrent cache,
// the managed-set map, and the soft strategy's smoothing state; everything
// else (adapter, matcher, rollback store) is injected so the engine itself
// stays unit-testable against fakes.
type Engine struct {
	qbit      *qbitclient.Client
	cache     *torrentcache.Cache
	matcher   *trackermatch.Matcher
	rollback  *rollbackstore.Store
	dryrun    *dryrunstore.Store
	webhookQ  *webhook.Queue
	log       zerolog.Logger

	mu         sync.RWMutex
	cfg        Config
	managed    map[string]domain.ManagedEntry
	soft       *SoftState
	state      domain.CycleState
	lastStats  domain.CycleStats
	cycleID    int64
	ready      bool

	cycleMu  sync.Mutex // serializes runCycle invocations
	forceCh  chan struct{}

	onCycle func(domain.CycleStats)
}

// SetCycleHook registers a callback invoked with every completed cycle's
// stats, for metrics reporting. The engine itself has no metrics
// dependency; this keeps that wiring one-directional.
func (e *Engine) SetCycleHook(fn func(domain.CycleStats)) {
	e.mu.Lock()
	e.onCycle = fn
	e.mu.Unlock()
}

// New builds an Engine. cfg is stored as given; callers normalize it with
// WithDefaults first, so an explicit zero such as a 0% rollout is kept.
func New(
	qbit *qbitclient.Client,
	cache *torrentcache.Cache,
	matcher *trackermatch.Matcher,
	rollback *rollbackstore.Store,
	dryrun *dryrunstore.Store,
	webhookQ *webhook.Queue,
	cfg Config,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		qbit:     qbit,
		cache:    cache,
		matcher:  matcher,
		rollback: rollback,
		dryrun:   dryrun,
		webhookQ: webhookQ,
		cfg:      cfg,
		managed:  make(map[string]domain.ManagedEntry),
		soft:     NewSoftState(),
		state:    domain.StateIdle,
		log:      log.With().Str("component", "engine").Logger(),
		forceCh:  make(chan struct{}, 1),
	}
}

// Run drives the cycle loop until ctx is cancelled, following the same
// ticker+select shape the automations service uses for its periodic scan,
// with a buffered forceCh channel standing in for its external-trigger
// path.
func (e *Engine) Run(ctx context.Context) {
	cfg := e.currentConfig()
	ticker := time.NewTicker(time.Duration(cfg.UpdateInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx)
		case <-e.forceCh:
			e.runCycle(ctx)
		}
	}
}

// ForceCycle requests an out-of-band cycle, preempting the idle wait but
// never an in-flight cycle (the buffered channel coalesces repeated
// requests into one extra cycle).
func (e *Engine) ForceCycle() {
	select {
	case e.forceCh <- struct{}{}:
	default:
	}
}

func (e *Engine) currentConfig() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ReloadConfig replaces the engine's tunables, normalizing zero values to
// their defaults.
func (e *Engine) ReloadConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg.WithDefaults()
}

func (e *Engine) setState(s domain.CycleState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State returns the engine's current cycle-machine state.
func (e *Engine) State() domain.CycleState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Ready reports whether at least one cycle has completed since startup.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// LastStats returns the most recently completed cycle's summary.
func (e *Engine) LastStats() domain.CycleStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastStats
}

// eligible reports whether hash passes the rollout gate at pct, per
// spec.md §4.5's deterministic crc32(hash) mod 100 < rollout_percentage
// rule.
func eligible(hash string, pct int) bool {
	return int(crc32.ChecksumIEEE([]byte(hash))%100) < pct
}

// runCycle executes one full IDLE->...->IDLE pass. Cycles never overlap:
// cycleMu enforces that a force-cycle request arriving mid-cycle waits for
// the in-flight one to finish rather than running concurrently.
func (e *Engine) runCycle(ctx context.Context) domain.CycleStats {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cfg := e.currentConfig()
	stats := domain.CycleStats{CycleID: e.nextCycleID(), StartedAt: time.Now()}
	defer func() {
		stats.EndedAt = time.Now()
		e.setState(domain.StateIdle)
		e.mu.Lock()
		e.lastStats = stats
		e.ready = true
		hook := e.onCycle
		e.mu.Unlock()
		if hook != nil {
			hook(stats)
		}
	}()

	// DRAINING: webhook events enqueued before this point are observed by
	// this cycle (spec.md §5 ordering guarantee ii). Delete events clear
	// the managed entry outright; add/complete events bias selection
	// toward picking up or keeping that torrent this cycle.
	bias := e.drainWebhookBias()
	if len(bias.removed) > 0 {
		e.mu.Lock()
		for _, hash := range bias.removed {
			delete(e.managed, hash)
		}
		e.mu.Unlock()
	}

	// Evict cache entries past their TTL before fetching this cycle's
	// active set, per spec.md §3 ("destroyed on cache TTL expiry"). Cache
	// mutation stays confined to the cycle task (spec.md §5).
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if evicted := e.cache.EvictStale(time.Now(), ttl); evicted > 0 {
		e.log.Debug().Int("evicted", evicted).Msg("evicted stale cache entries")
	}

	// FETCHING
	e.setState(domain.StateFetching)
	active, err := e.fetch(ctx, cfg)
	if err != nil {
		stats.Error = err.Error()
		e.log.Warn().Err(err).Msg("cycle fetch failed")
		return stats
	}
	stats.TorrentsSeen = len(active)

	// CLASSIFYING
	e.setState(domain.StateClassifying)
	classified := make(map[string]string, len(active)) // hash -> tracker id
	for _, t := range active {
		classified[t.Hash] = e.matcher.Match(t.TrackerURL)
	}

	// SELECTING
	e.setState(domain.StateSelecting)
	managedHashes := e.selectManaged(active, cfg, bias.prioritized)
	stats.TorrentsManaged = len(managedHashes)

	// COMPUTING
	e.setState(domain.StateComputing)
	snapshots := e.buildSnapshots(active, classified, managedHashes)
	strategy := StrategyFor(cfg.Strategy)
	e.mu.Lock()
	proposed := strategy.Compute(snapshots, e.soft, cfg)
	e.mu.Unlock()

	// DIFFING
	e.setState(domain.StateDiffing)
	writes := e.diff(proposed, cfg)

	// auto-unlimit-on-inactive candidates are computed here (before
	// writing) so they can be merged into the same batched write.
	if cfg.AutoUnlimitOnInactive {
		for hash := range e.inactiveManagedHashes(active) {
			writes[hash] = domain.Unlimited
		}
	}
	stats.WritesAttempted = len(writes)

	if len(writes) == 0 {
		return stats
	}

	// WRITING + RECORDING (or the dry-run equivalent)
	e.setState(domain.StateWriting)
	if cfg.DryRun {
		e.applyDryRun(writes)
		stats.WritesApplied = len(writes)
	} else {
		applied, failed := e.applyWrites(ctx, writes, cfg)
		stats.WritesApplied = len(applied)
		stats.WritesFailed = len(failed)
	}

	// POSTPROCESS: drop managed entries for torrents that were unlimited
	// for inactivity this cycle.
	e.setState(domain.StatePostprocess)
	if cfg.AutoUnlimitOnInactive {
		e.mu.Lock()
		for hash, limit := range writes {
			if limit == domain.Unlimited {
				if _, stillActive := managedHashes[hash]; !stillActive {
					delete(e.managed, hash)
				}
			}
		}
		e.mu.Unlock()
	}

	return stats
}

func (e *Engine) nextCycleID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycleID++
	return e.cycleID
}

// fetch pulls the active set, upserts it into the cache, and backfills
// tracker URLs for a bounded subset of previously-seen hashes.
func (e *Engine) fetch(ctx context.Context, cfg Config) ([]domain.TorrentInfo, error) {
	active, err := e.qbit.GetActiveTorrents(ctx, cfg.ActiveTorrentThreshold)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(active))
	for _, t := range active {
		hashes = append(hashes, t.Hash)
	}
	trackerURLs, err := e.qbit.GetTrackersFor(ctx, hashes)
	if err != nil {
		return nil, err
	}

	for i := range active {
		active[i].TrackerURL = trackerURLs[active[i].Hash]
		e.cache.Upsert(active[i])
	}

	e.backfillStaleTrackers(ctx)
	return active, nil
}

// backfillStaleTrackers fills in tracker URLs for up to maxTorrentBackfill
// cached torrents that have none yet. Entries that already carry a tracker
// URL are not refreshed.
func (e *Engine) backfillStaleTrackers(ctx context.Context) {
	all := e.cache.ActiveIter()
	var stale []string
	for _, t := range all {
		if t.TrackerURL == "" {
			stale = append(stale, t.Hash)
		}
		if len(stale) >= maxTorrentBackfill {
			break
		}
	}
	if len(stale) == 0 {
		return
	}
	urls, err := e.qbit.GetTrackersFor(ctx, stale)
	if err != nil {
		e.log.Warn().Err(err).Msg("tracker backfill failed")
		return
	}
	for hash, url := range urls {
		if t, ok := e.cache.Get(hash); ok {
			t.TrackerURL = url
			e.cache.Upsert(t)
		}
	}
}

// webhookBias is the result of draining the webhook queue at the start of
// a cycle: delete events are applied directly against the managed set;
// add/complete events bias selectManaged toward picking up or keeping that
// hash this cycle, per spec.md §4.6 and §2's "webhook events pre-bias
// tracker selection for the next cycle".
type webhookBias struct {
	prioritized map[string]bool
	removed     []string
}

// drainWebhookBias drains every event queued before this call (spec.md §5
// ordering guarantee ii) and classifies it by effect on selection.
func (e *Engine) drainWebhookBias() webhookBias {
	events := e.webhookQ.Drain()
	bias := webhookBias{prioritized: make(map[string]bool, len(events))}
	for _, ev := range events {
		switch ev.EventType {
		case domain.WebhookDelete:
			bias.removed = append(bias.removed, ev.Hash)
		case domain.WebhookAdd, domain.WebhookComplete:
			bias.prioritized[ev.Hash] = true
		}
	}
	return bias
}

// selectManaged applies the rollout gate and stickiness rule, returning the
// set of hashes managed this cycle (bounded by MaxManagedTorrents).
// prioritized hashes (from this cycle's webhook drain) bypass the rollout
// gate and are treated like sticky entries, so a freshly added or just
// completed torrent is picked up without waiting on its rollout draw.
func (e *Engine) selectManaged(active []domain.TorrentInfo, cfg Config, prioritized map[string]bool) map[string]bool {
	e.mu.RLock()
	sticky := make(map[string]bool, len(e.managed))
	for h := range e.managed {
		sticky[h] = true
	}
	e.mu.RUnlock()

	byHash := make(map[string]domain.TorrentInfo, len(active))
	for _, t := range active {
		byHash[t.Hash] = t
	}

	selected := make(map[string]bool)
	for hash := range sticky {
		if _, stillActive := byHash[hash]; stillActive {
			selected[hash] = true
		}
	}
	for hash := range prioritized {
		if _, stillActive := byHash[hash]; stillActive {
			selected[hash] = true
		}
	}

	type candidate struct {
		hash  string
		score float64
	}
	var candidates []candidate
	for _, t := range active {
		if selected[t.Hash] {
			continue
		}
		if !eligible(t.Hash, cfg.RolloutPercentage) {
			continue
		}
		candidates = append(candidates, candidate{
			hash:  t.Hash,
			score: Score(TorrentAllocInput{NumLeechs: t.NumLeechs, UpSpeed: t.UpSpeed}),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].hash < candidates[j].hash
	})

	for _, c := range candidates {
		if len(selected) >= cfg.MaxManagedTorrents {
			break
		}
		selected[c.hash] = true
	}

	// Stickiness is still bounded by the hard cap: if there were already
	// more sticky/prioritized entries than the cap allows, trim the
	// lowest-scoring ones first, favoring webhook-prioritized hashes.
	if len(selected) > cfg.MaxManagedTorrents {
		trimToCap(selected, byHash, prioritized, cfg.MaxManagedTorrents)
	}

	now := time.Now()
	e.mu.Lock()
	for hash := range selected {
		entry, existed := e.managed[hash]
		if !existed {
			entry = domain.ManagedEntry{Hash: hash, AddedAt: now}
		}
		entry.LastSeen = now
		e.managed[hash] = entry
	}
	e.mu.Unlock()

	return selected
}

// trimToCap drops the lowest-scoring hashes from selected until it fits
// cap. prioritized hashes get a flat score bonus so they're trimmed last.
func trimToCap(selected map[string]bool, byHash map[string]domain.TorrentInfo, prioritized map[string]bool, cap int) {
	type scored struct {
		hash  string
		score float64
	}
	all := make([]scored, 0, len(selected))
	for hash := range selected {
		t := byHash[hash]
		score := Score(TorrentAllocInput{NumLeechs: t.NumLeechs, UpSpeed: t.UpSpeed})
		if prioritized[hash] {
			score += 1
		}
		all = append(all, scored{hash: hash, score: score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].hash < all[j].hash
	})
	for i := cap; i < len(all); i++ {
		delete(selected, all[i].hash)
	}
}

// inactiveManagedHashes returns managed hashes absent from this cycle's
// active set.
func (e *Engine) inactiveManagedHashes(active []domain.TorrentInfo) map[string]bool {
	activeSet := make(map[string]bool, len(active))
	for _, t := range active {
		activeSet[t.Hash] = true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool)
	for hash := range e.managed {
		if !activeSet[hash] {
			out[hash] = true
		}
	}
	return out
}

// buildSnapshots groups the managed torrents by tracker for the strategy's
// compute step.
func (e *Engine) buildSnapshots(active []domain.TorrentInfo, classified map[string]string, managed map[string]bool) []TrackerSnapshot {
	byTracker := make(map[string][]TorrentAllocInput)
	for _, t := range active {
		if !managed[t.Hash] {
			continue
		}
		trackerID := classified[t.Hash]
		byTracker[trackerID] = append(byTracker[trackerID], TorrentAllocInput{
			Hash:      t.Hash,
			UpSpeed:   t.UpSpeed,
			NumLeechs: t.NumLeechs,
		})
	}

	trackers := e.matcher.Trackers()
	out := make([]TrackerSnapshot, 0, len(trackers))
	for _, tc := range trackers {
		torrents := byTracker[tc.ID]
		if len(torrents) == 0 {
			continue
		}
		out = append(out, TrackerSnapshot{Tracker: tc, Torrents: torrents})
	}
	return out
}

// diff compares proposed limits against the cache's current upload_limit,
// emitting a write only when the change clears the configured gate, per
// spec.md §4.5 and open question (a): max(relative, absolute).
func (e *Engine) diff(proposed map[string]int64, cfg Config) map[string]int64 {
	const absoluteThresholdBytes = 1024

	writes := make(map[string]int64)
	for hash, newLimit := range proposed {
		current, ok := e.cache.Get(hash)
		if !ok {
			writes[hash] = newLimit
			continue
		}
		currentLimit := current.UploadLimit

		if newLimit == domain.Unlimited && currentLimit != domain.Unlimited {
			writes[hash] = newLimit
			continue
		}
		if currentLimit == domain.Unlimited {
			// finite proposed replacing an unlimited current is always a
			// meaningful change.
			if newLimit != domain.Unlimited {
				writes[hash] = newLimit
			}
			continue
		}

		absDelta := math.Abs(float64(newLimit - currentLimit))
		var relDelta float64
		if currentLimit != 0 {
			relDelta = absDelta / math.Abs(float64(currentLimit))
		}
		if relDelta >= cfg.DifferentialThreshold || absDelta >= absoluteThresholdBytes {
			writes[hash] = newLimit
		}
	}
	return writes
}

// applyWrites records a rollback entry for every change about to be
// attempted, then issues the batched write. The rollback store's
// durability contract (spec.md §4.4) requires the record survive a crash
// before the corresponding write is observable externally; a crash between
// the two leaves a recorded-but-unapplied change, which is harmless (the
// next cycle reconciles, and restoring to old_limit is a no-op if the
// write never went out).
func (e *Engine) applyWrites(ctx context.Context, writes map[string]int64, cfg Config) (applied []string, failed map[string]error) {
	oldLimits := make(map[string]int64, len(writes))
	for hash := range writes {
		if current, ok := e.cache.Get(hash); ok {
			oldLimits[hash] = current.UploadLimit
		}
	}

	for hash, newLimit := range writes {
		if err := e.rollback.RecordChange(ctx, hash, oldLimits[hash], newLimit, domain.ReasonAllocation, time.Now()); err != nil {
			e.log.Warn().Err(err).Str("hash", hash).Msg("failed to record rollback entry")
		}
	}

	result := e.qbit.SetUploadLimits(ctx, writes, cfg.MaxAPICallsPerCycle)

	for _, hash := range result.Applied {
		if current, ok := e.cache.Get(hash); ok {
			current.UploadLimit = writes[hash]
			e.cache.Upsert(current)
		}
	}

	return result.Applied, result.Failed
}

// applyDryRun simulates the writes against the dry-run store and the
// in-memory cache, so the same change is not re-proposed next cycle.
func (e *Engine) applyDryRun(writes map[string]int64) {
	for hash, newLimit := range writes {
		current, ok := e.cache.Get(hash)
		oldLimit := int64(0)
		if ok {
			oldLimit = current.UploadLimit
		}

		rec := dryrunstore.Record{Hash: hash, OldLimit: oldLimit, NewLimit: newLimit, Reason: domain.ReasonAllocation, Timestamp: time.Now()}
		if err := e.dryrun.Put(hash, rec); err != nil {
			e.log.Warn().Err(err).Str("hash", hash).Msg("failed to persist dry-run record")
			continue
		}
		e.log.Info().Str("hash", hash).Int64("old_limit", oldLimit).Int64("new_limit", newLimit).Msg("dry-run: would change upload limit")

		if ok {
			current.UploadLimit = newLimit
			e.cache.Upsert(current)
		}
	}
}

// Rollback restores every unrestored rollback record to its earliest
// recorded old_limit, batched by target value, per spec.md §4.5.
func (e *Engine) Rollback(ctx context.Context) (applied []string, failed map[string]error, err error) {
	records, err := e.rollback.ListUnrestored(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list unrestored rollback records: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	restoreTo := make(map[string]int64, len(records))
	for _, r := range records {
		if _, ok := restoreTo[r.TorrentHash]; !ok {
			earliest, ok, err := e.rollback.EarliestOldLimit(ctx, r.TorrentHash)
			if err != nil {
				return nil, nil, fmt.Errorf("earliest old limit for %s: %w", r.TorrentHash, err)
			}
			if ok {
				restoreTo[r.TorrentHash] = earliest
			}
		}
	}

	cfg := e.currentConfig()
	result := e.qbit.SetUploadLimits(ctx, restoreTo, cfg.MaxAPICallsPerCycle)

	if err := e.rollback.MarkRestored(ctx, result.Applied); err != nil {
		return result.Applied, result.Failed, fmt.Errorf("mark restored: %w", err)
	}
	return result.Applied, result.Failed, nil
}

// ResetToUnlimited sets the given hashes to unlimited and, if markRestored
// is set, marks their rollback records restored so they can never later be
// rolled back to a stale limit.
func (e *Engine) ResetToUnlimited(ctx context.Context, hashes []string, markRestored bool) (applied []string, failed map[string]error, err error) {
	limits := make(map[string]int64, len(hashes))
	for _, h := range hashes {
		limits[h] = domain.Unlimited
	}
	cfg := e.currentConfig()
	result := e.qbit.SetUploadLimits(ctx, limits, cfg.MaxAPICallsPerCycle)

	for _, hash := range result.Applied {
		current, ok := e.cache.Get(hash)
		oldLimit := int64(0)
		if ok {
			oldLimit = current.UploadLimit
			current.UploadLimit = domain.Unlimited
			e.cache.Upsert(current)
		}
		if err := e.rollback.RecordChange(ctx, hash, oldLimit, domain.Unlimited, domain.ReasonManualReset, time.Now()); err != nil {
			e.log.Warn().Err(err).Str("hash", hash).Msg("failed to record reset")
		}
		e.mu.Lock()
		delete(e.managed, hash)
		e.mu.Unlock()
	}

	if markRestored {
		if err := e.rollback.MarkRestored(ctx, result.Applied); err != nil {
			return result.Applied, result.Failed, fmt.Errorf("mark restored after reset: %w", err)
		}
	}
	return result.Applied, result.Failed, nil
}

// SetRollout adjusts the rollout percentage, validating it is in [0,100].
func (e *Engine) SetRollout(pct int) error {
	if pct < 0 || pct > 100 {
		return apperrors.NewConfig("rollout_percentage must be between 0 and 100")
	}
	e.mu.Lock()
	e.cfg.RolloutPercentage = pct
	e.mu.Unlock()
	return nil
}

// ResetSmoothing clears the soft strategy's persisted EMA and committed
// state, for the /smoothing/reset operation.
func (e *Engine) ResetSmoothing() {
	e.mu.Lock()
	e.soft = NewSoftState()
	e.mu.Unlock()
}

// PreviewResult is the response for /preview/next-cycle: limits computed
// against a cloned cache and a cloned soft-smoothing state, applying
// nothing.
type PreviewResult struct {
	Proposed map[string]int64
	Writes   map[string]int64
	Managed  int
	Seen     int
}

// Preview runs selection and compute against a clone of the cache (it
// issues no remote calls) and applies nothing. Selection keeps every
// managed hash and adds rollout-eligible torrents in cache order up to
// MaxManagedTorrents, without score ranking. Writes lists every proposed
// limit that differs from the cached one; the differential gate is not
// applied, so it can list changes that a real cycle would skip.
func (e *Engine) Preview() PreviewResult {
	cfg := e.currentConfig()
	cacheClone := e.cache.Clone()
	active := cacheClone.ActiveIter()

	classified := make(map[string]string, len(active))
	for _, t := range active {
		classified[t.Hash] = e.matcher.Match(t.TrackerURL)
	}

	managedHashes := make(map[string]bool)
	e.mu.RLock()
	for h := range e.managed {
		managedHashes[h] = true
	}
	e.mu.RUnlock()
	for _, t := range active {
		if managedHashes[t.Hash] {
			continue
		}
		if eligible(t.Hash, cfg.RolloutPercentage) && len(managedHashes) < cfg.MaxManagedTorrents {
			managedHashes[t.Hash] = true
		}
	}

	snapshots := e.buildSnapshots(active, classified, managedHashes)
	strategy := StrategyFor(cfg.Strategy)

	e.mu.RLock()
	softClone := &SoftState{Smoothed: cloneFloatMap(e.soft.Smoothed), Committed: cloneFloatMap(e.soft.Committed)}
	e.mu.RUnlock()
	proposed := strategy.Compute(snapshots, softClone, cfg)

	writes := make(map[string]int64)
	for hash, newLimit := range proposed {
		current, ok := cacheClone.Get(hash)
		if !ok || current.UploadLimit != newLimit {
			writes[hash] = newLimit
		}
	}

	return PreviewResult{Proposed: proposed, Writes: writes, Managed: len(managedHashes), Seen: len(active)}
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ManagedSnapshot lists every currently-managed torrent, for /stats/managed.
func (e *Engine) ManagedSnapshot() []domain.ManagedEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ManagedEntry, 0, len(e.managed))
	for _, m := range e.managed {
		out = append(out, m)
	}
	return out
}
