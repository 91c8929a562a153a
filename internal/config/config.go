// Package config loads and validates the service's YAML configuration,
// following the teacher's QUI__-prefixed environment override convention
// but in the YAML format this service's wire-level documentation mandates.
// Values are read through viper so callers get layered file/env precedence
// and a single Unmarshal into typed structs, the same shape the teacher's
// own config layer exposes as New(path) plus Get-style accessors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/trackercap/upcap/internal/apperrors"
	"github.com/trackercap/upcap/internal/crossseed"
	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/qbitclient"
)

// GlobalConfig holds the engine tunables under the top-level `global` key.
type GlobalConfig struct {
	UpdateInterval           int64   `mapstructure:"update_interval"`
	ActiveTorrentThresholdKB int64   `mapstructure:"active_torrent_threshold_kb"`
	MaxAPICallsPerCycle      int     `mapstructure:"max_api_calls_per_cycle"`
	DifferentialThreshold    float64 `mapstructure:"differential_threshold"`
	RolloutPercentage        int     `mapstructure:"rollout_percentage"`
	Host                     string  `mapstructure:"host"`
	Port                     int     `mapstructure:"port"`
	AllocationStrategy       string  `mapstructure:"allocation_strategy"`
	MaxManagedTorrents       int     `mapstructure:"max_managed_torrents"`
	CacheTTLSeconds          int64   `mapstructure:"cache_ttl_seconds"`
	DryRun                   bool    `mapstructure:"dry_run"`
	DryRunStorePath          string  `mapstructure:"dry_run_store_path"`
	AutoUnlimitOnInactive    bool    `mapstructure:"auto_unlimit_on_inactive"`
	BorrowThresholdRatio     float64 `mapstructure:"borrow_threshold_ratio"`
	MaxBorrowFraction        float64 `mapstructure:"max_borrow_fraction"`
	SmoothingAlpha           float64 `mapstructure:"smoothing_alpha"`
	MinEffectiveDelta        float64 `mapstructure:"min_effective_delta"`
}

// QbittorrentConfig holds the remote-client connection details. Host and
// Port are kept as strings so ${VAR} substitution can target either one,
// per spec.md §6; they're parsed into a single base URL by ToClientConfig.
type QbittorrentConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// TrackerConfig mirrors domain.TrackerConfig for YAML unmarshaling.
type TrackerConfig struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Pattern        string `mapstructure:"pattern"`
	MaxUploadSpeed int64  `mapstructure:"max_upload_speed"`
	Priority       int    `mapstructure:"priority"`
}

// CrossSeedConfig mirrors crossseed.Config for YAML unmarshaling.
type CrossSeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
}

// RollbackConfig configures the rollback store.
type RollbackConfig struct {
	DatabasePath    string `mapstructure:"database_path"`
	TrackAllChanges bool   `mapstructure:"track_all_changes"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the fully-parsed contents of config.yaml.
type Config struct {
	Global      GlobalConfig      `mapstructure:"global"`
	Qbittorrent QbittorrentConfig `mapstructure:"qbittorrent"`
	Trackers    []TrackerConfig   `mapstructure:"trackers"`
	CrossSeed   CrossSeedConfig   `mapstructure:"cross_seed"`
	Rollback    RollbackConfig    `mapstructure:"rollback"`
	Logging     LoggingConfig     `mapstructure:"logging"`

	path string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.update_interval", 300)
	v.SetDefault("global.active_torrent_threshold_kb", 10)
	v.SetDefault("global.max_api_calls_per_cycle", 500)
	v.SetDefault("global.differential_threshold", 0.2)
	v.SetDefault("global.rollout_percentage", 100)
	v.SetDefault("global.host", "0.0.0.0")
	v.SetDefault("global.port", 8089)
	v.SetDefault("global.allocation_strategy", string(domain.StrategyEqual))
	v.SetDefault("global.max_managed_torrents", 1000)
	v.SetDefault("global.cache_ttl_seconds", 1800)
	v.SetDefault("global.dry_run", false)
	v.SetDefault("global.auto_unlimit_on_inactive", false)
	v.SetDefault("global.borrow_threshold_ratio", 0.9)
	v.SetDefault("global.max_borrow_fraction", 0.5)
	v.SetDefault("global.smoothing_alpha", 0.4)
	v.SetDefault("global.min_effective_delta", 0.1)

	v.SetDefault("rollback.database_path", "rollback.db")
	v.SetDefault("rollback.track_all_changes", true)
	v.SetDefault("logging.level", "info")
}

// New reads and validates the config file at path, layering UPCAP_-prefixed
// environment overrides over the file's values (e.g.
// UPCAP_GLOBAL__ROLLOUT_PERCENTAGE for global.rollout_percentage), mirroring
// the teacher's QUI__ nested-key convention.
func New(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("upcap")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfig(fmt.Sprintf("read config file %s: %v", path, err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfig(fmt.Sprintf("parse config file %s: %v", path, err))
	}
	cfg.path = path
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR}/$VAR references in the qBittorrent
// connection fields and the cross-seed API key, per spec.md §6.
func (c *Config) expandEnv() {
	c.Qbittorrent.Host = os.ExpandEnv(c.Qbittorrent.Host)
	c.Qbittorrent.Port = os.ExpandEnv(c.Qbittorrent.Port)
	c.Qbittorrent.Username = os.ExpandEnv(c.Qbittorrent.Username)
	c.Qbittorrent.Password = os.ExpandEnv(c.Qbittorrent.Password)
	c.CrossSeed.APIKey = os.ExpandEnv(c.CrossSeed.APIKey)
}

// Path returns the file path this config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Validate rejects configurations the engine cannot safely run with.
func (c *Config) Validate() error {
	if c.Global.RolloutPercentage < 0 || c.Global.RolloutPercentage > 100 {
		return apperrors.NewConfig(fmt.Sprintf("global.rollout_percentage must be 0-100, got %d", c.Global.RolloutPercentage))
	}
	switch domain.AllocationStrategy(c.Global.AllocationStrategy) {
	case domain.StrategyEqual, domain.StrategyWeighted, domain.StrategySoft:
	default:
		return apperrors.NewConfig(fmt.Sprintf("global.allocation_strategy must be equal, weighted, or soft, got %q", c.Global.AllocationStrategy))
	}
	if len(c.Trackers) == 0 {
		return apperrors.NewConfig("trackers list must not be empty")
	}
	if c.Qbittorrent.Host == "" {
		return apperrors.NewConfig("qbittorrent.host is required")
	}
	if c.Global.DryRun && c.Global.DryRunStorePath == "" {
		return apperrors.NewConfig("global.dry_run_store_path is required when global.dry_run is true")
	}
	return nil
}

// ToEngineConfig converts the global section into an engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	g := c.Global
	return engine.Config{
		UpdateInterval:         g.UpdateInterval,
		ActiveTorrentThreshold: g.ActiveTorrentThresholdKB * 1024,
		MaxAPICallsPerCycle:    g.MaxAPICallsPerCycle,
		DifferentialThreshold:  g.DifferentialThreshold,
		RolloutPercentage:      g.RolloutPercentage,
		Strategy:               domain.AllocationStrategy(g.AllocationStrategy),
		MaxManagedTorrents:     g.MaxManagedTorrents,
		CacheTTLSeconds:        g.CacheTTLSeconds,
		DryRun:                 g.DryRun,
		DryRunStorePath:        g.DryRunStorePath,
		AutoUnlimitOnInactive:  g.AutoUnlimitOnInactive,
		BorrowThresholdRatio:   g.BorrowThresholdRatio,
		MaxBorrowFraction:      g.MaxBorrowFraction,
		SmoothingAlpha:         g.SmoothingAlpha,
		MinEffectiveDelta:      g.MinEffectiveDelta,
	}
}

// ToTrackerConfigs converts the trackers list into domain.TrackerConfig,
// preserving declared order (matching is first-match-wins over this order).
func (c *Config) ToTrackerConfigs() []domain.TrackerConfig {
	out := make([]domain.TrackerConfig, len(c.Trackers))
	for i, t := range c.Trackers {
		out[i] = domain.TrackerConfig{
			ID:             t.ID,
			Name:           t.Name,
			Pattern:        t.Pattern,
			MaxUploadSpeed: t.MaxUploadSpeed,
			Priority:       t.Priority,
		}
	}
	return out
}

// ToClientConfig builds the qbitclient.Config base URL from the separate
// host/port fields, after ${VAR} substitution has already run.
func (c *Config) ToClientConfig() (qbitclient.Config, error) {
	host := c.Qbittorrent.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if c.Qbittorrent.Port != "" {
		if _, err := strconv.Atoi(c.Qbittorrent.Port); err != nil {
			return qbitclient.Config{}, apperrors.NewConfig(fmt.Sprintf("qbittorrent.port is not numeric: %q", c.Qbittorrent.Port))
		}
		host = fmt.Sprintf("%s:%s", strings.TrimSuffix(host, "/"), c.Qbittorrent.Port)
	}
	return qbitclient.Config{
		Host:     host,
		Username: c.Qbittorrent.Username,
		Password: c.Qbittorrent.Password,
	}, nil
}

// ToCrossSeedConfig converts the cross_seed section.
func (c *Config) ToCrossSeedConfig() crossseed.Config {
	return crossseed.Config{
		Enabled: c.CrossSeed.Enabled,
		URL:     c.CrossSeed.URL,
		APIKey:  c.CrossSeed.APIKey,
	}
}

// ListenAddr returns the host:port pair this service's own HTTP surface
// should bind to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Global.Host, c.Global.Port)
}
