// Package config handles terrain tool configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config holds all settings shared by the bake tool and the viewer.
type Config struct {
	Graphics  GraphicsConfig             `yaml:"graphics"`
	Terrain   terrain.PreprocessorConfig `yaml:"terrain"`
	Bake      BakeConfig                 `yaml:"bake"`
	Streaming StreamingConfig            `yaml:"streaming"`
	Storage   StorageConfig              `yaml:"storage"`
	Logging   LoggingConfig              `yaml:"logging"`
}

// GraphicsConfig holds display and rendering settings.
type GraphicsConfig struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	Fullscreen   bool    `yaml:"fullscreen"`
	VSync        bool    `yaml:"vsync"`
	FPSLimit     int     `yaml:"fps_limit"`
	Samples      int     `yaml:"samples"`
	FogFar       float32 `yaml:"fog_far"`
	ColorByLevel bool    `yaml:"color_by_level"` // tint chunks by LOD level
	Wireframe    bool    `yaml:"wireframe"`
	ShowBounds   bool    `yaml:"show_bounds"` // chunk bounding boxes
	SunAzimuth   float32 `yaml:"sun_azimuth"`
	SunElevation float32 `yaml:"sun_elevation"`
	Screenshots  string  `yaml:"screenshots"` // output directory
}

// BakeConfig selects the heightmap source for terrainbake.
type BakeConfig struct {
	Heightmap   string  `yaml:"heightmap"`    // image path; empty selects noise
	HeightScale float32 `yaml:"height_scale"` // world height of a white pixel
	Samples     int     `yaml:"samples"`      // per fragment side, 2^n+1
	Seed        int64   `yaml:"seed"`
	Amplitude   float32 `yaml:"amplitude"`
	Frequency   float64 `yaml:"frequency"`
	TilesX      int     `yaml:"tiles_x"` // noise only
	TilesY      int     `yaml:"tiles_y"`
	Workers     int     `yaml:"workers"`
}

// StreamingConfig holds the LOD manager thresholds and loader sizing.
type StreamingConfig struct {
	LOD             lod.Config    `yaml:"lod"`
	UpdateInterval  time.Duration `yaml:"update_interval"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	GPUQueueSize    int           `yaml:"gpu_queue_size"`
	UploadsPerFrame int           `yaml:"uploads_per_frame"`
}

// StorageConfig locates the fragment store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: GraphicsConfig{
			Width:        1280,
			Height:       720,
			Fullscreen:   false,
			VSync:        true,
			FPSLimit:     0,
			Samples:      4,
			FogFar:       1800,
			SunAzimuth:   135,
			SunElevation: 50,
			Screenshots:  "screenshots",
		},
		Terrain: terrain.DefaultPreprocessorConfig(),
		Bake: BakeConfig{
			HeightScale: 512,
			Samples:     129,
			Seed:        1,
			Amplitude:   180,
			Frequency:   0.004,
			TilesX:      8,
			TilesY:      8,
			Workers:     4,
		},
		Streaming: StreamingConfig{
			LOD:             lod.DefaultConfig(),
			UpdateInterval:  50 * time.Millisecond,
			Workers:         4,
			QueueSize:       256,
			GPUQueueSize:    512,
			UploadsPerFrame: 16,
		},
		Storage: StorageConfig{
			Path: "terrain.db",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Graphics.Width <= 0 || c.Graphics.Height <= 0 {
		return fmt.Errorf("%w: window %dx%d", ErrInvalid, c.Graphics.Width, c.Graphics.Height)
	}
	if err := c.Terrain.Validate(); err != nil {
		return fmt.Errorf("%w: terrain: %w", ErrInvalid, err)
	}
	if err := c.Streaming.LOD.Validate(); err != nil {
		return fmt.Errorf("%w: streaming: %w", ErrInvalid, err)
	}
	if _, err := terrain.ResolutionOf(c.Bake.Samples); err != nil {
		return fmt.Errorf("%w: bake samples: %w", ErrInvalid, err)
	}
	if c.Bake.Heightmap == "" && (c.Bake.TilesX <= 0 || c.Bake.TilesY <= 0) {
		return fmt.Errorf("%w: noise bake needs positive tiles, got %dx%d", ErrInvalid, c.Bake.TilesX, c.Bake.TilesY)
	}
	if c.Bake.Workers <= 0 || c.Streaming.Workers <= 0 {
		return fmt.Errorf("%w: worker counts must be positive", ErrInvalid)
	}
	if c.Streaming.QueueSize <= 0 || c.Streaming.GPUQueueSize <= 0 || c.Streaming.UploadsPerFrame <= 0 {
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalid)
	}
	if c.Streaming.UpdateInterval <= 0 {
		return fmt.Errorf("%w: update_interval must be positive", ErrInvalid)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage path is empty", ErrInvalid)
	}
	return nil
}
