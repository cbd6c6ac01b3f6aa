// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// WindowMode selects how the presentation surface relates
// to the display.
type WindowMode string

const (
	Windowed            WindowMode = "Windowed"
	FullscreenDesktop   WindowMode = "FullscreenDesktop"
	FullscreenExclusive WindowMode = "FullscreenExclusive"
)

// Config holds the runtime parameters of the engine.
// Zero-valued fields take their defaults on Load or New.
type Config struct {
	Driver string     `toml:"driver"`
	Width  int        `toml:"width"`
	Height int        `toml:"height"`
	Mode   WindowMode `toml:"window_mode"`

	// RenderScale multiplies the logical render extent of
	// the HDR, depth, G-buffer and ID targets.
	RenderScale float64 `toml:"render_scale"`

	ShadowMapResolution int `toml:"shadow_map_resolution"`

	TextureMaxLoadsPerPump    int   `toml:"texture_max_loads_per_pump"`
	TextureMaxBytesPerPump    int64 `toml:"texture_max_bytes_per_pump"`
	TextureCPUSourceBudget    int64 `toml:"texture_cpu_source_budget"`
	TextureKeepSourceBytes    bool  `toml:"texture_keep_source_bytes"`
	TextureMaxUploadDimension int   `toml:"texture_max_upload_dimension"`
	TextureGPUBudgetBytes     int64 `toml:"texture_gpu_budget_bytes"`
}

// DefaultConfig returns the built-in parameter set.
func DefaultConfig() Config {
	return Config{
		Driver:                    "rec",
		Width:                     1280,
		Height:                    720,
		Mode:                      Windowed,
		RenderScale:               1,
		ShadowMapResolution:       2048,
		TextureMaxLoadsPerPump:    3,
		TextureMaxBytesPerPump:    128 << 20,
		TextureCPUSourceBudget:    64 << 20,
		TextureMaxUploadDimension: 4096,
	}
}

// LoadConfig reads a TOML configuration file and fills the
// unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: config: %w", err)
	}
	cfg := Config{}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: config %s: %w", path, err)
	}
	cfg.sanitize()
	return cfg, nil
}

// Save writes the configuration as TOML.
func (c Config) Save(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("engine: config: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *Config) sanitize() {
	def := DefaultConfig()
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	switch c.Mode {
	case Windowed, FullscreenDesktop, FullscreenExclusive:
	default:
		c.Mode = def.Mode
	}
	c.RenderScale = clampScale(c.RenderScale)
	if c.ShadowMapResolution < 256 {
		c.ShadowMapResolution = def.ShadowMapResolution
	}
	if c.TextureMaxLoadsPerPump <= 0 {
		c.TextureMaxLoadsPerPump = def.TextureMaxLoadsPerPump
	}
	if c.TextureMaxBytesPerPump <= 0 {
		c.TextureMaxBytesPerPump = def.TextureMaxBytesPerPump
	}
	if c.TextureCPUSourceBudget <= 0 {
		c.TextureCPUSourceBudget = def.TextureCPUSourceBudget
	}
	if c.TextureMaxUploadDimension <= 0 {
		c.TextureMaxUploadDimension = def.TextureMaxUploadDimension
	}
}

// clampScale bounds the render scale to [0.1, 4.0]; zero
// selects the default.
func clampScale(s float64) float64 {
	switch {
	case s == 0:
		return 1
	case s < 0.1:
		return 0.1
	case s > 4:
		return 4
	}
	return s
}
