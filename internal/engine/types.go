package engine

import "github.com/trackercap/upcap/internal/domain"

// floorBytes is the minimum per-torrent share any strategy will assign to a
// finite-cap tracker, per spec.md §4.5.
const floorBytes int64 = 10 * 1024

// TorrentAllocInput is one managed torrent's inputs to a strategy's compute
// step.
type TorrentAllocInput struct {
	Hash      string
	UpSpeed   int64
	NumLeechs int64
}

// TrackerSnapshot groups the managed torrents assigned to one tracker for a
// single cycle's compute step.
type TrackerSnapshot struct {
	Tracker  domain.TrackerConfig
	Torrents []TorrentAllocInput
}

// Score computes the per-torrent score in [0,1] used for selection ranking,
// weighted distribution, and telemetry bucketing, per spec.md §4.5.
func Score(t TorrentAllocInput) float64 {
	leechScore := float64(t.NumLeechs) / 20
	if leechScore > 1 {
		leechScore = 1
	}
	speedScore := float64(t.UpSpeed) / 1048576
	if speedScore > 1 {
		speedScore = 1
	}
	return 0.6*leechScore + 0.4*speedScore
}

// ScoreBucket buckets a score for telemetry, per spec.md §4.5.
func ScoreBucket(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	case score >= 0.2:
		return "low"
	default:
		return "ignored"
	}
}

// Config holds every tunable from spec.md §6's global configuration block.
// It is safe to read concurrently once loaded; reload replaces the value
// behind the engine's mutex.
type Config struct {
	UpdateInterval          int64 // seconds
	ActiveTorrentThreshold  int64 // bytes/sec
	MaxAPICallsPerCycle     int
	DifferentialThreshold   float64
	RolloutPercentage       int
	Strategy                domain.AllocationStrategy
	MaxManagedTorrents      int
	CacheTTLSeconds         int64
	DryRun                  bool
	DryRunStorePath         string
	AutoUnlimitOnInactive   bool
	BorrowThresholdRatio    float64
	MaxBorrowFraction       float64
	SmoothingAlpha          float64
	MinEffectiveDelta       float64
}

// WithDefaults returns a copy of c with every zero-valued tunable replaced
// by its spec-mandated default.
func (c Config) WithDefaults() Config {
	if c.UpdateInterval == 0 {
		c.UpdateInterval = 300
	}
	if c.ActiveTorrentThreshold == 0 {
		c.ActiveTorrentThreshold = 10 * 1024
	}
	if c.MaxAPICallsPerCycle == 0 {
		c.MaxAPICallsPerCycle = 500
	}
	if c.DifferentialThreshold == 0 {
		c.DifferentialThreshold = 0.2
	}
	if c.RolloutPercentage == 0 {
		c.RolloutPercentage = 100
	}
	if c.Strategy == "" {
		c.Strategy = domain.StrategyEqual
	}
	if c.MaxManagedTorrents == 0 {
		c.MaxManagedTorrents = 1000
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 1800
	}
	if c.BorrowThresholdRatio == 0 {
		c.BorrowThresholdRatio = 0.9
	}
	if c.MaxBorrowFraction == 0 {
		c.MaxBorrowFraction = 0.5
	}
	if c.SmoothingAlpha == 0 {
		c.SmoothingAlpha = 0.4
	}
	if c.MinEffectiveDelta == 0 {
		c.MinEffectiveDelta = 0.1
	}
	return c
}
