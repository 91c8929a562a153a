// Package trackermatch classifies torrent announce URLs against an ordered
// list of regex patterns, first match wins, with a trailing catch-all
// required at load time.
package trackermatch

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"

	"github.com/trackercap/upcap/internal/apperrors"
	"github.com/trackercap/upcap/internal/domain"
)

const matchCacheTTL = 10 * time.Minute

type compiledTracker struct {
	cfg     domain.TrackerConfig
	pattern string // possibly-wrapped pattern, for /match/test diagnostics
	re      *regexp.Regexp
}

// Matcher maps tracker URLs to configured tracker ids.
type Matcher struct {
	mu       sync.RWMutex
	trackers []compiledTracker
	cache    *ttlcache.Cache[string, string]
}

// New compiles patterns and returns a ready Matcher. It fails with a
// ConfigError if the list is empty or does not end with a catch-all.
func New(trackers []domain.TrackerConfig) (*Matcher, error) {
	m := &Matcher{
		cache: ttlcache.New(ttlcache.Options[string, string]{}.SetDefaultTTL(matchCacheTTL)),
	}
	if err := m.Reload(trackers); err != nil {
		return nil, err
	}
	return m, nil
}

// normalizePattern applies the forgiving shorthand: a pattern with neither
// anchor nor existing .* wrapping is wrapped as .*<pattern>.*
func normalizePattern(pattern string) string {
	if strings.Contains(pattern, "^") || strings.Contains(pattern, "$") {
		return pattern
	}
	if strings.HasPrefix(pattern, ".*") && strings.HasSuffix(pattern, ".*") {
		return pattern
	}
	return ".*" + pattern + ".*"
}

// isCatchAll reports whether a (pre-normalization) pattern matches any URL
// unconditionally.
func isCatchAll(pattern string) bool {
	switch pattern {
	case ".*", "^.*$", ".+", "^.+$":
		return true
	}
	return false
}

// Reload recompiles the pattern list, invalidating the match cache. Fails
// with an apperrors ConfigError if the trackers list is empty or its last
// entry is not a catch-all.
func (m *Matcher) Reload(trackers []domain.TrackerConfig) error {
	if len(trackers) == 0 {
		return apperrors.NewConfig("tracker list is empty")
	}
	last := trackers[len(trackers)-1]
	if !isCatchAll(last.Pattern) {
		return apperrors.NewConfig("tracker pattern list must end with a catch-all (.*) entry, last entry is " + last.Pattern)
	}

	compiled := make([]compiledTracker, 0, len(trackers))
	for _, t := range trackers {
		normalized := normalizePattern(t.Pattern)
		re, err := regexp.Compile(normalized)
		if err != nil {
			return apperrors.NewConfig("invalid pattern for tracker " + t.ID + ": " + err.Error())
		}
		compiled = append(compiled, compiledTracker{cfg: t, pattern: normalized, re: re})
	}

	m.mu.Lock()
	m.trackers = compiled
	m.mu.Unlock()

	// Cache keyed to the old pattern set is no longer valid.
	m.cache = ttlcache.New(ttlcache.Options[string, string]{}.SetDefaultTTL(matchCacheTTL))
	return nil
}

// Match returns the tracker id matching url, first-match-wins, or "" if no
// pattern matches (should not happen given a required catch-all).
func (m *Matcher) Match(url string) string {
	if id, ok := m.cache.Get(url); ok {
		return id
	}

	id := m.matchUncached(url)
	m.cache.Set(url, id, ttlcache.DefaultTTL)
	return id
}

func (m *Matcher) matchUncached(url string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trackers {
		if t.re.MatchString(url) {
			return t.cfg.ID
		}
	}
	return ""
}

// BulkMatch matches many URLs at once, reusing the same cache/lock path as
// Match so results are guaranteed consistent with single-URL lookups.
func (m *Matcher) BulkMatch(urls []string) map[string]string {
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		out[u] = m.Match(u)
	}
	return out
}

// TestResult is the detailed response for the /match/test operation.
type TestResult struct {
	TrackerID      string
	MatchedPattern string
	Trace          []TraceEntry
}

// TraceEntry records one pattern evaluated during a detailed /match/test.
type TraceEntry struct {
	TrackerID string
	Pattern   string
	Matched   bool
}

// Test matches url and optionally returns a full evaluation trace across
// every configured pattern, useful for operators debugging a misconfigured
// tracker list.
func (m *Matcher) Test(url string, detailed bool) TestResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := TestResult{}
	for _, t := range m.trackers {
		matched := t.re.MatchString(url)
		if detailed {
			result.Trace = append(result.Trace, TraceEntry{TrackerID: t.cfg.ID, Pattern: t.pattern, Matched: matched})
		}
		if matched && result.TrackerID == "" {
			result.TrackerID = t.cfg.ID
			result.MatchedPattern = t.pattern
			if !detailed {
				break
			}
		}
	}
	return result
}

// Trackers returns the configured tracker list in declared order.
func (m *Matcher) Trackers() []domain.TrackerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TrackerConfig, len(m.trackers))
	for i, t := range m.trackers {
		out[i] = t.cfg
	}
	return out
}

// TrackerByID looks up a tracker's configuration by id.
func (m *Matcher) TrackerByID(id string) (domain.TrackerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trackers {
		if t.cfg.ID == id {
			return t.cfg, true
		}
	}
	return domain.TrackerConfig{}, false
}
