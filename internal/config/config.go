// Package config implements SPEC_FULL.md §A.3's configuration layer: a
// YAML file merged over coded defaults with imdario/mergo, with
// spf13/pflag providing command-line overrides — the same three-library
// combination the teacher's cmd/common/config.go uses. Every numeric
// knob spec.md §6 references as a "collaborator boundary" input lives
// here: hydration concurrency, dehydration thresholds, cache ceiling,
// upload/download concurrency, the large-file/chunking cutoffs
// cloudapi.Provider implementations consult, and the conflict policy's
// default strategy plus glob rules.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/imdario/mergo"
	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v3"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

// ConflictRule pairs a glob pattern with the resolution strategy to
// auto-apply, the YAML shape conflict.Rule is built from.
type ConflictRule struct {
	Pattern  string `yaml:"pattern"`
	Strategy string `yaml:"strategy"`
}

// Config is the full set of tunables referenced throughout SPEC_FULL.md.
type Config struct {
	CacheDir string `yaml:"cache_dir"`
	LogLevel string `yaml:"log"`

	HydrationConcurrency       int `yaml:"hydration_concurrency"`
	DehydrationThresholdPct    int `yaml:"dehydration_threshold_percent"`
	DehydrationMaxAgeDays      int `yaml:"dehydration_max_age_days"`
	DehydrationIntervalMinutes int `yaml:"dehydration_interval_minutes"`
	CacheMaxSizeGB             int `yaml:"cache_max_size_gb"`

	UploadConcurrency        int   `yaml:"upload_concurrency"`
	DownloadConcurrency      int   `yaml:"download_concurrency"`
	LargeFileThresholdBytes  int64 `yaml:"large_file_threshold_bytes"`
	ChunkSizeBytes           int64 `yaml:"chunk_size_bytes"`

	ConflictDefaultStrategy string         `yaml:"conflict_default_strategy"`
	ConflictRules           []ConflictRule `yaml:"conflict_rules"`

	LocalWatchDebounceSeconds     int `yaml:"local_watch_debounce_seconds"`
	LocalWatchSafetyPeriodMinutes int `yaml:"local_watch_safety_period_minutes"`
}

// DefaultConfigPath mirrors the teacher's XDG-based default location.
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		log.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "lnxdrive/config.yml")
}

func defaults() Config {
	cacheDir, _ := os.UserCacheDir()
	return Config{
		CacheDir: filepath.Join(cacheDir, "lnxdrive"),
		LogLevel: "info",

		HydrationConcurrency:       4,
		DehydrationThresholdPct:    90,
		DehydrationMaxAgeDays:      30,
		DehydrationIntervalMinutes: 15,
		CacheMaxSizeGB:             10,

		UploadConcurrency:       2,
		DownloadConcurrency:     4,
		LargeFileThresholdBytes: 4 * 1024 * 1024,
		ChunkSizeBytes:          10 * 1024 * 1024,

		ConflictDefaultStrategy: "manual",

		LocalWatchDebounceSeconds:     2,
		LocalWatchSafetyPeriodMinutes: 5,
	}
}

// Load reads path, merges it over coded defaults, and validates the
// result. A missing or unparseable file is not fatal — defaults are
// returned with a logged warning, matching the teacher's LoadConfig.
func Load(path string) *Config {
	def := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("configuration file not found, using defaults")
		return &def
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not parse configuration file, using defaults")
		return &def
	}

	if err := mergo.Merge(cfg, def); err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not merge configuration with defaults, using defaults only")
		return &def
	}

	validate(cfg)
	return cfg
}

func validate(c *Config) {
	d := defaults()
	if c.HydrationConcurrency <= 0 {
		log.Warn().Int("value", c.HydrationConcurrency).Msg("hydration_concurrency must be positive, using default")
		c.HydrationConcurrency = d.HydrationConcurrency
	}
	if c.DehydrationThresholdPct <= 0 || c.DehydrationThresholdPct > 100 {
		log.Warn().Int("value", c.DehydrationThresholdPct).Msg("dehydration_threshold_percent must be in (0,100], using default")
		c.DehydrationThresholdPct = d.DehydrationThresholdPct
	}
	if c.DehydrationMaxAgeDays <= 0 {
		c.DehydrationMaxAgeDays = d.DehydrationMaxAgeDays
	}
	if c.DehydrationIntervalMinutes <= 0 {
		c.DehydrationIntervalMinutes = d.DehydrationIntervalMinutes
	}
	if c.CacheMaxSizeGB <= 0 {
		c.CacheMaxSizeGB = d.CacheMaxSizeGB
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = d.UploadConcurrency
	}
	if c.DownloadConcurrency <= 0 {
		c.DownloadConcurrency = d.DownloadConcurrency
	}
	if c.LargeFileThresholdBytes <= 0 {
		c.LargeFileThresholdBytes = d.LargeFileThresholdBytes
	}
	if c.ChunkSizeBytes <= 0 {
		c.ChunkSizeBytes = d.ChunkSizeBytes
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if _, valid := parseStrategy(c.ConflictDefaultStrategy); !valid {
		log.Warn().Str("value", c.ConflictDefaultStrategy).Msg("invalid conflict_default_strategy, using default")
		c.ConflictDefaultStrategy = d.ConflictDefaultStrategy
	}
}

func parseStrategy(s string) (domain.Resolution, bool) {
	switch s {
	case "manual", "keep_local", "keep_remote", "keep_both":
		return domain.ParseResolution(s), true
	default:
		return domain.ResolutionManual, false
	}
}

// ConflictDefaultResolution parses ConflictDefaultStrategy into the
// domain.Resolution ConflictEngine's policy expects.
func (c *Config) ConflictDefaultResolution() domain.Resolution {
	res, _ := parseStrategy(c.ConflictDefaultStrategy)
	return res
}

// WriteConfig persists c to path as YAML, creating parent directories as
// needed.
func (c Config) WriteConfig(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
