package config

import (
	flag "github.com/spf13/pflag"

	"github.com/lnxdrive/lnxdrive/internal/conflict"
)

// Flags holds the command-line overlay spf13/pflag parses, mirroring the
// teacher's setupFlags in cmd/onemount/main.go: a config-file path plus a
// handful of knobs worth overriding per-invocation without editing YAML.
type Flags struct {
	ConfigPath string
	LogLevel   string
	CacheDir   string
	Mountpoint string
}

// ParseFlags registers and parses the daemon's command-line flags.
// Overrides from a non-empty Flags field are applied over the loaded
// Config by Apply.
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("lnxdrived", flag.ContinueOnError)
	configPath := fs.StringP("config-file", "f", DefaultConfigPath(), "YAML configuration file path.")
	logLevel := fs.StringP("log", "l", "", "Log level: trace, debug, info, warn, error.")
	cacheDir := fs.StringP("cache-dir", "c", "", "Override the configured cache directory.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	mountpoint := ""
	if rest := fs.Args(); len(rest) > 0 {
		mountpoint = rest[0]
	}

	return &Flags{
		ConfigPath: *configPath,
		LogLevel:   *logLevel,
		CacheDir:   *cacheDir,
		Mountpoint: mountpoint,
	}, nil
}

// Apply overlays non-empty flag values onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.CacheDir != "" {
		cfg.CacheDir = f.CacheDir
	}
}

// ConflictPolicy builds the conflict.Policy ConflictEngine consults from
// this Config's default strategy and glob rules.
func (c *Config) ConflictPolicy() *conflict.Policy {
	rules := make([]conflict.Rule, 0, len(c.ConflictRules))
	for _, r := range c.ConflictRules {
		res, ok := parseStrategy(r.Strategy)
		if !ok {
			continue
		}
		rules = append(rules, conflict.Rule{Pattern: r.Pattern, Resolution: res})
	}
	return conflict.NewPolicy(rules, c.ConflictDefaultResolution())
}
