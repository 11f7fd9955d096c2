// Package config aggregates kernelctl's runtime configuration: thread
// table sizing, scenario trace persistence, and optional release-check
// credentials. Defaults come from Default(), and caller-supplied overrides
// are merged over them with mergo, the same "merge over defaults" shape
// the teacher uses for its process-inspector config.
package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/imdario/mergo"

	"github.com/arctir/kernelcore/internal/release"
	"github.com/arctir/kernelcore/kernel/thread"
)

// Config is the full set of knobs kernelctl accepts, split along the
// lines of the subsystem each half configures.
type Config struct {
	Manager thread.ManagerConfig
	Release release.ManagerConfig

	// TraceDir is where `scenario run` persists per-run trace output.
	TraceDir string
}

// Default returns Config's baseline values: a 16-slot thread table and a
// trace directory under the XDG data home, matching the teacher's
// xdg-anchored cache location for its git provenance cache.
func Default() Config {
	return Config{
		Manager:  thread.ManagerConfig{Threads: 16},
		Release:  release.ManagerConfig{},
		TraceDir: filepath.Join(xdg.DataHome, "kernelctl", "scenarios"),
	}
}

// Load merges overrides on top of Default(), with any non-zero field in
// overrides winning. A zero-value overrides leaves every default intact.
func Load(overrides Config) (Config, error) {
	cfg := Default()
	if err := mergo.Merge(&cfg, overrides, mergo.WithOverride); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
