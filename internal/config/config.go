// Package config loads persistproc's small configuration surface using
// viper, the way apps/backend/internal/common/config.Config binds
// defaults and environment variables in the teacher, scaled down to the
// handful of settings spec §6 actually names.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds persistproc's runtime configuration.
type Config struct {
	Port         int     `mapstructure:"port"`
	DataDir      string  `mapstructure:"dataDir"`
	PollInterval float64 `mapstructure:"pollInterval"` // seconds, may be fractional for tests

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig mirrors the ambient logging stack's config shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PollIntervalDuration returns PollInterval as a time.Duration.
func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval * float64(time.Second))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8947)
	v.SetDefault("dataDir", defaultDataDir())
	v.SetDefault("pollInterval", 1.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
}

// defaultDataDir mirrors spec §6's "falls back to platform-specific user
// data path" for PERSISTPROC_DATA_DIR.
func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(base, "persistproc")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "persistproc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "persistproc")
	}
	return filepath.Join(home, ".local", "share", "persistproc")
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "text"
}

// Load reads PERSISTPROC_* environment variables over the defaults
// above. No config file is involved: spec §6 names only environment
// variables.
func Load() *Config {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PERSISTPROC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("port", "PERSISTPROC_PORT")
	_ = v.BindEnv("dataDir", "PERSISTPROC_DATA_DIR")
	_ = v.BindEnv("pollInterval", "PERSISTPROC_TEST_POLL_INTERVAL")

	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
