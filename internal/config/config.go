// Package config loads harness configuration from a YAML file, a .env
// file, and SCREENTEST_* environment variables. Command-line flags take
// precedence over everything here; this package only supplies the layer
// underneath them.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the merged harness configuration.
type Config struct {
	// Device is the device-under-test URI, e.g. "null:" or
	// "file:screen.png".
	Device string `yaml:"device"`

	// SaveScreenshot and SaveThumbnail are capture modes:
	// never, on_failure or always.
	SaveScreenshot string `yaml:"save_screenshot"`
	SaveThumbnail  string `yaml:"save_thumbnail"`

	// SaveTrace is the raw trace-output destination argument ("" disables
	// tracing output; see the trace package for the accepted forms).
	SaveTrace string `yaml:"save_trace"`
}

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		Device:         "null:",
		SaveScreenshot: "on_failure",
		SaveThumbnail:  "on_failure",
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty and no default file exists), then environment
// variables. A .env file in the working directory is folded into the
// environment first.
func Load(path string) (*Config, error) {
	cfg := New()

	// Missing .env is fine; a present-but-broken one is not silently
	// ignored.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = "screentest.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file; defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	for _, v := range []struct {
		key string
		dst *string
	}{
		{"SCREENTEST_DEVICE", &cfg.Device},
		{"SCREENTEST_SAVE_SCREENSHOT", &cfg.SaveScreenshot},
		{"SCREENTEST_SAVE_THUMBNAIL", &cfg.SaveThumbnail},
		{"SCREENTEST_SAVE_TRACE", &cfg.SaveTrace},
	} {
		if val, ok := os.LookupEnv(v.key); ok {
			*v.dst = val
		}
	}
}
