package config

import "sync"

// Holder is a concurrency-safe pointer to the currently active Config,
// swapped atomically by the reload pipeline (the fsnotify watcher or the
// `/config/reload` HTTP operation) while the `/config` HTTP handlers read
// it.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder wraps an already-loaded Config.
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

// Get returns the currently active Config.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set replaces the active Config, for use as a Watcher's onReload callback.
func (h *Holder) Set(cfg *Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}
