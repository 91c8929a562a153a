package engine

import (
	"math"
	"sort"

	"github.com/trackercap/upcap/internal/domain"
)

// SoftState is the soft strategy's persisted per-tracker state: the EMA
// value keeps evolving every cycle regardless of whether a new effective
// cap is committed, so that steady-state drift eventually crosses the
// commit gate (spec.md §8 property 7); Committed is the effective cap
// actually used for the last committed cycle, which is what the gate and
// the distribution step compare against and fall back to.
type SoftState struct {
	Smoothed  map[string]float64
	Committed map[string]float64
}

// NewSoftState returns an empty, ready-to-use SoftState.
func NewSoftState() *SoftState {
	return &SoftState{Smoothed: make(map[string]float64), Committed: make(map[string]float64)}
}

// Strategy is the single point of polymorphism among equal/weighted/soft:
// everything else in the cycle pipeline (select, diff, write, record) is
// shared. Implementations receive the already-selected managed torrents
// grouped by tracker and return hash -> proposed limit.
type Strategy interface {
	Compute(trackers []TrackerSnapshot, soft *SoftState, cfg Config) map[string]int64
}

// equalStrategy splits each finite-cap tracker's cap evenly across its
// managed torrents.
type equalStrategy struct{}

func (equalStrategy) Compute(trackers []TrackerSnapshot, _ *SoftState, _ Config) map[string]int64 {
	out := make(map[string]int64)
	for _, ts := range trackers {
		if ts.Tracker.IsUnlimited() {
			for _, t := range ts.Torrents {
				out[t.Hash] = domain.Unlimited
			}
			continue
		}
		n := int64(len(ts.Torrents))
		if n == 0 {
			continue
		}
		share := ts.Tracker.MaxUploadSpeed / n
		if share < floorBytes {
			share = floorBytes
		}
		for _, t := range ts.Torrents {
			out[t.Hash] = share
		}
	}
	return out
}

// weightedStrategy distributes each finite-cap tracker's cap proportional
// to per-torrent score, bounded per torrent to [floorBytes, 0.6*cap], with
// excess from capped torrents redistributed to the rest (at most 2 passes).
type weightedStrategy struct{}

func (weightedStrategy) Compute(trackers []TrackerSnapshot, _ *SoftState, _ Config) map[string]int64 {
	out := make(map[string]int64)
	for _, ts := range trackers {
		distributeWeighted(ts.Tracker.MaxUploadSpeed, ts.Torrents, out)
	}
	return out
}

// distributeWeighted implements the weighted bound-and-redistribute rule
// for a single tracker's cap, writing results into out.
func distributeWeighted(cap int64, torrents []TorrentAllocInput, out map[string]int64) {
	if cap == domain.Unlimited {
		for _, t := range torrents {
			out[t.Hash] = domain.Unlimited
		}
		return
	}
	n := len(torrents)
	if n == 0 {
		return
	}

	upper := 0.6 * float64(cap)
	floorF := float64(floorBytes)

	scores := make(map[string]float64, n)
	sumScore := 0.0
	for _, t := range torrents {
		s := Score(t)
		scores[t.Hash] = s
		sumScore += s
	}

	raw := make(map[string]float64, n)
	if sumScore <= 0 {
		share := float64(cap) / float64(n)
		for _, t := range torrents {
			raw[t.Hash] = share
		}
	} else {
		for _, t := range torrents {
			raw[t.Hash] = float64(cap) * scores[t.Hash] / sumScore
		}
	}

	capped := make(map[string]bool, n)
	for pass := 0; pass < 2; pass++ {
		var excess float64
		var redistributable []string
		var redistributableSum float64
		for _, t := range torrents {
			if capped[t.Hash] {
				continue
			}
			v := raw[t.Hash]
			if v > upper {
				excess += v - upper
				raw[t.Hash] = upper
				capped[t.Hash] = true
				continue
			}
			redistributable = append(redistributable, t.Hash)
			redistributableSum += v
		}
		if excess <= 0 || len(redistributable) == 0 {
			break
		}
		for _, hash := range redistributable {
			var share float64
			if redistributableSum > 0 {
				share = raw[hash] / redistributableSum * excess
			} else {
				share = excess / float64(len(redistributable))
			}
			raw[hash] += share
		}
	}

	for _, t := range torrents {
		v := raw[t.Hash]
		if v < floorF {
			v = floorF
		}
		out[t.Hash] = int64(math.Floor(v))
	}
}

// softStrategy borrows unused capacity from trackers below their cap into
// trackers at or above borrowThresholdRatio of it, smooths the resulting
// effective cap with an EMA, gates commits behind a minimum relative
// change, then distributes each tracker's (possibly borrowed, possibly
// smoothed) effective cap using the weighted rule.
type finiteTracker struct {
	snap TrackerSnapshot
	used int64
}

type softStrategy struct{}

func (softStrategy) Compute(trackers []TrackerSnapshot, soft *SoftState, cfg Config) map[string]int64 {
	out := make(map[string]int64)
	if soft == nil {
		soft = NewSoftState()
	}

	var finite []finiteTracker
	for _, ts := range trackers {
		if ts.Tracker.IsUnlimited() {
			for _, t := range ts.Torrents {
				out[t.Hash] = domain.Unlimited
			}
			continue
		}
		var used int64
		for _, t := range ts.Torrents {
			used += t.UpSpeed
		}
		finite = append(finite, finiteTracker{snap: ts, used: used})
	}

	// Pool = total unused capacity across every finite-cap tracker.
	var pool float64
	for _, ft := range finite {
		if room := float64(ft.snap.Tracker.MaxUploadSpeed) - float64(ft.used); room > 0 {
			pool += room
		}
	}

	// A tracker qualifies to borrow once its usage crosses
	// borrowThresholdRatio of its own base cap; its borrow weight (priority
	// times how far past that threshold it sits) determines nothing beyond
	// qualification here, since the distribution order below is priority
	// desc per spec.md §4.5 and open question (c).
	var borrowerIDs []string
	for _, ft := range finite {
		threshold := float64(ft.snap.Tracker.MaxUploadSpeed) * cfg.BorrowThresholdRatio
		if float64(ft.used) >= threshold {
			borrowerIDs = append(borrowerIDs, ft.snap.Tracker.ID)
		}
	}
	sort.Slice(borrowerIDs, func(i, j int) bool {
		pi, pj := priorityOf(finite, borrowerIDs[i]), priorityOf(finite, borrowerIDs[j])
		if pi != pj {
			return pi > pj
		}
		return borrowerIDs[i] < borrowerIDs[j] // open question (c): lexicographic tie-break
	})

	borrowed := make(map[string]float64)
	remainingPool := pool
	for _, id := range borrowerIDs {
		base := float64(trackerByID(finite, id).Tracker.MaxUploadSpeed)
		maxShare := cfg.MaxBorrowFraction * base
		amt := math.Min(maxShare, remainingPool)
		if amt < 0 {
			amt = 0
		}
		borrowed[id] = amt
		remainingPool -= amt
	}

	for _, ft := range finite {
		rawEffective := float64(ft.snap.Tracker.MaxUploadSpeed) + borrowed[ft.snap.Tracker.ID]

		prevSmoothed, hasPrev := soft.Smoothed[ft.snap.Tracker.ID]
		if !hasPrev {
			prevSmoothed = rawEffective
		}
		smoothed := cfg.SmoothingAlpha*rawEffective + (1-cfg.SmoothingAlpha)*prevSmoothed
		soft.Smoothed[ft.snap.Tracker.ID] = smoothed

		committed, hasCommitted := soft.Committed[ft.snap.Tracker.ID]
		if !hasCommitted {
			committed = smoothed
			soft.Committed[ft.snap.Tracker.ID] = committed
		} else {
			relDelta := math.Abs(smoothed-committed) / committed
			if relDelta >= cfg.MinEffectiveDelta {
				committed = smoothed
				soft.Committed[ft.snap.Tracker.ID] = committed
			}
		}

		distributeWeighted(int64(math.Floor(committed)), ft.snap.Torrents, out)
	}

	return out
}

func trackerByID(finite []finiteTracker, id string) TrackerSnapshot {
	for _, ft := range finite {
		if ft.snap.Tracker.ID == id {
			return ft.snap
		}
	}
	return TrackerSnapshot{}
}

func priorityOf(finite []finiteTracker, id string) int {
	for _, ft := range finite {
		if ft.snap.Tracker.ID == id {
			return ft.snap.Tracker.Priority
		}
	}
	return 0
}

// StrategyFor returns the Strategy implementation for a configured
// allocation strategy name.
func StrategyFor(name domain.AllocationStrategy) Strategy {
	switch name {
	case domain.StrategyWeighted:
		return weightedStrategy{}
	case domain.StrategySoft:
		return softStrategy{}
	default:
		return equalStrategy{}
	}
}
