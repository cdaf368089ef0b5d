package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	assert.Equal(t, 4, cfg.HydrationConcurrency)
	assert.Equal(t, 90, cfg.DehydrationThresholdPct)
	assert.Equal(t, "manual", cfg.ConflictDefaultStrategy)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yamlContent := "hydration_concurrency: 8\nconflict_default_strategy: keep_remote\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg := Load(path)
	assert.Equal(t, 8, cfg.HydrationConcurrency)
	assert.Equal(t, "keep_remote", cfg.ConflictDefaultStrategy)
	// untouched fields still carry defaults
	assert.Equal(t, 90, cfg.DehydrationThresholdPct)
	assert.Equal(t, 10, cfg.CacheMaxSizeGB)
}

func TestLoadRejectsInvalidValuesAndFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yamlContent := "hydration_concurrency: -1\ndehydration_threshold_percent: 150\nconflict_default_strategy: bogus\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg := Load(path)
	assert.Equal(t, 4, cfg.HydrationConcurrency)
	assert.Equal(t, 90, cfg.DehydrationThresholdPct)
	assert.Equal(t, "manual", cfg.ConflictDefaultStrategy)
}

func TestConflictDefaultResolution(t *testing.T) {
	cfg := defaults()
	cfg.ConflictDefaultStrategy = "keep_both"
	assert.Equal(t, domain.ResolutionKeepBoth, cfg.ConflictDefaultResolution())
}

func TestConflictPolicyBuildsRulesFromConfig(t *testing.T) {
	cfg := defaults()
	cfg.ConflictRules = []ConflictRule{
		{Pattern: "*.tmp", Strategy: "keep_local"},
		{Pattern: "*.bad", Strategy: "not-a-strategy"},
	}
	policy := cfg.ConflictPolicy()

	assert.Equal(t, domain.ResolutionKeepLocal, policy.Resolve("draft.tmp"))
	assert.Equal(t, domain.ResolutionManual, policy.Resolve("other.bad"))
	assert.Equal(t, domain.ResolutionManual, policy.Resolve("unrelated.txt"))
}

func TestWriteConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yml")
	cfg := defaults()
	cfg.HydrationConcurrency = 6

	require.NoError(t, cfg.WriteConfig(path))

	loaded := Load(path)
	assert.Equal(t, 6, loaded.HydrationConcurrency)
}
