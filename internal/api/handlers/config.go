package handlers

import (
	"net/http"

	"github.com/trackercap/upcap/internal/config"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/trackermatch"
)

// ConfigHandler serves /config and /config/reload.
type ConfigHandler struct {
	holder  *config.Holder
	engine  *engine.Engine
	matcher *trackermatch.Matcher
}

func NewConfigHandler(holder *config.Holder, eng *engine.Engine, matcher *trackermatch.Matcher) *ConfigHandler {
	return &ConfigHandler{holder: holder, engine: eng, matcher: matcher}
}

// maskedQbittorrent is QbittorrentConfig with credentials redacted.
type maskedQbittorrent struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Get serves /config with qBittorrent credentials and the cross-seed API
// key masked, per spec.md §4.7.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.holder.Get()

	masked := maskedQbittorrent{Host: cfg.Qbittorrent.Host, Port: cfg.Qbittorrent.Port}
	if cfg.Qbittorrent.Username != "" {
		masked.Username = "***"
	}
	if cfg.Qbittorrent.Password != "" {
		masked.Password = "***"
	}

	crossSeed := cfg.CrossSeed
	if crossSeed.APIKey != "" {
		crossSeed.APIKey = "***"
	}

	RespondJSON(w, http.StatusOK, struct {
		Global      config.GlobalConfig      `json:"global"`
		Qbittorrent maskedQbittorrent        `json:"qbittorrent"`
		Trackers    []config.TrackerConfig   `json:"trackers"`
		CrossSeed   config.CrossSeedConfig   `json:"cross_seed"`
		Rollback    config.RollbackConfig    `json:"rollback"`
		Logging     config.LoggingConfig     `json:"logging"`
	}{
		Global:      cfg.Global,
		Qbittorrent: masked,
		Trackers:    cfg.Trackers,
		CrossSeed:   crossSeed,
		Rollback:    cfg.Rollback,
		Logging:     cfg.Logging,
	})
}

// Reload re-reads the config file from disk, validates it, and — on
// success — swaps it into the holder and pushes the new tunables into the
// engine and matcher. A failed reload leaves the previous config in effect
// and responds 400 with the parse/validation error.
func (h *ConfigHandler) Reload(w http.ResponseWriter, r *http.Request) {
	path := h.holder.Get().Path()

	cfg, err := config.New(path)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.matcher.Reload(cfg.ToTrackerConfigs()); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.engine.ReloadConfig(cfg.ToEngineConfig())
	h.holder.Set(cfg)

	RespondJSON(w, http.StatusOK, struct {
		Reloaded bool `json:"reloaded"`
	}{Reloaded: true})
}
