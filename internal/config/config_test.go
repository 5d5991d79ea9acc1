package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Graphics.Width != 1280 || cfg.Graphics.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Graphics.Width, cfg.Graphics.Height)
	}
	if cfg.Graphics.Fullscreen {
		t.Error("expected fullscreen to be false by default")
	}
	if !cfg.Graphics.VSync {
		t.Error("expected vsync to be true by default")
	}
	if cfg.Streaming.LOD.RAMLoadFactor != 0.5 || cfg.Streaming.LOD.VRAMLoadFactor != 0.8 {
		t.Errorf("unexpected load factors %+v", cfg.Streaming.LOD)
	}
	if cfg.Storage.Path != "terrain.db" {
		t.Errorf("expected store terrain.db, got %s", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero width", func(c *Config) { c.Graphics.Width = 0 }},
		{"ram above vram", func(c *Config) { c.Streaming.LOD.RAMLoadFactor = 0.9 }},
		{"vram factor one", func(c *Config) { c.Streaming.LOD.VRAMLoadFactor = 1 }},
		{"unload factor one", func(c *Config) { c.Streaming.LOD.UnloadFactor = 1 }},
		{"negative max error", func(c *Config) { c.Terrain.MaxError = -1 }},
		{"too many lods", func(c *Config) { c.Terrain.NumOfLODs = 40 }},
		{"samples not 2^n+1", func(c *Config) { c.Bake.Samples = 100 }},
		{"noise without tiles", func(c *Config) { c.Bake.TilesX = 0 }},
		{"no workers", func(c *Config) { c.Streaming.Workers = 0 }},
		{"no uploads", func(c *Config) { c.Streaming.UploadsPerFrame = 0 }},
		{"no interval", func(c *Config) { c.Streaming.UpdateInterval = 0 }},
		{"no store", func(c *Config) { c.Storage.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}

	cfg := Default()
	cfg.Bake.Heightmap = "hm.tiff"
	cfg.Bake.TilesX = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("image bake ignores tiles, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "terrain.yaml")

	yamlContent := `
graphics:
  width: 1920
  height: 1080
  fullscreen: true
  vsync: false
  color_by_level: true

terrain:
  num_of_lods: 5
  max_error: 12
  generate_skirts: false

bake:
  heightmap: "island.tiff"
  samples: 257

streaming:
  lod:
    max_tolerable_error: 1.5
    ram_load_factor: 0.4
  update_interval: 100ms
  workers: 8

storage:
  path: "/data/island.db"

logging:
  level: "debug"
  log_file: "terrain.log"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Graphics.Width != 1920 || cfg.Graphics.Height != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d", cfg.Graphics.Width, cfg.Graphics.Height)
	}
	if !cfg.Graphics.Fullscreen || cfg.Graphics.VSync || !cfg.Graphics.ColorByLevel {
		t.Errorf("unexpected graphics %+v", cfg.Graphics)
	}
	if cfg.Terrain.NumOfLODs != 5 || cfg.Terrain.MaxError != 12 || cfg.Terrain.GenerateSkirts {
		t.Errorf("unexpected terrain %+v", cfg.Terrain)
	}
	// Unset keys keep their defaults.
	if cfg.Terrain.LODErrorFactor != 0.5 {
		t.Errorf("expected default lod_error_factor 0.5, got %v", cfg.Terrain.LODErrorFactor)
	}
	if cfg.Bake.Heightmap != "island.tiff" || cfg.Bake.Samples != 257 {
		t.Errorf("unexpected bake %+v", cfg.Bake)
	}
	if cfg.Streaming.LOD.MaxTolerableError != 1.5 || cfg.Streaming.LOD.RAMLoadFactor != 0.4 {
		t.Errorf("unexpected lod %+v", cfg.Streaming.LOD)
	}
	if cfg.Streaming.LOD.VRAMLoadFactor != 0.8 {
		t.Errorf("expected default vram factor, got %v", cfg.Streaming.LOD.VRAMLoadFactor)
	}
	if cfg.Streaming.UpdateInterval != 100*time.Millisecond || cfg.Streaming.Workers != 8 {
		t.Errorf("unexpected streaming %+v", cfg.Streaming)
	}
	if cfg.Storage.Path != "/data/island.db" {
		t.Errorf("expected store /data/island.db, got %s", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.LogFile != "terrain.log" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "graphics:\n  width: not a number\n  invalid syntax here\n"},
		{"unknown key", "graphics:\n  widht: 800\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if err := loadFromFile(Default(), path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadFromFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := loadFromFile(cfg, path); err != nil {
		t.Errorf("empty file: %v", err)
	}
	if cfg.Graphics.Width != 1280 {
		t.Errorf("empty file changed width to %d", cfg.Graphics.Width)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if err := loadFromFile(Default(), "/nonexistent/path/terrain.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "terrain.yaml")
	if err := os.WriteFile(configPath, []byte("graphics:\n  width: 800\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Error("expected to find terrain.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*testing.T, *Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
				if !cfg.Graphics.ColorByLevel {
					t.Error("expected level tinting with debug flag")
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "store flag",
			setup: func() { *flagStore = "/tmp/x.db" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Storage.Path != "/tmp/x.db" {
					t.Errorf("expected store /tmp/x.db, got %s", cfg.Storage.Path)
				}
			},
			teardown: func() { *flagStore = "" },
		},
		{
			name: "window flags",
			setup: func() {
				*flagFullscreen = true
				*flagWidth = 2560
				*flagHeight = 1440
			},
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Graphics.Fullscreen || cfg.Graphics.Width != 2560 || cfg.Graphics.Height != 1440 {
					t.Errorf("unexpected graphics %+v", cfg.Graphics)
				}
			},
			teardown: func() {
				*flagFullscreen = false
				*flagWidth = 0
				*flagHeight = 0
			},
		},
		{
			name: "bake flags",
			setup: func() {
				*flagSeed = 42
				*flagTiles = "3x5"
				*flagWorkers = 2
			},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Bake.Seed != 42 || cfg.Bake.TilesX != 3 || cfg.Bake.TilesY != 5 {
					t.Errorf("unexpected bake %+v", cfg.Bake)
				}
				if cfg.Bake.Workers != 2 || cfg.Streaming.Workers != 2 {
					t.Error("workers flag not applied to both pools")
				}
			},
			teardown: func() {
				*flagSeed = 0
				*flagTiles = ""
				*flagWorkers = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			if err := applyFlags(cfg); err != nil {
				t.Fatal(err)
			}
			tt.verify(t, cfg)
		})
	}
}

func TestParseTiles(t *testing.T) {
	tests := []struct {
		in     string
		x, y   int
		wantOK bool
	}{
		{"8x8", 8, 8, true},
		{"2x16", 2, 16, true},
		{"8", 0, 0, false},
		{"0x4", 0, 0, false},
		{"axb", 0, 0, false},
	}
	for _, tt := range tests {
		x, y, err := parseTiles(tt.in)
		if (err == nil) != tt.wantOK || x != tt.x || y != tt.y {
			t.Errorf("parseTiles(%q) = %d, %d, %v", tt.in, x, y, err)
		}
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "terrain.yaml")
	yamlContent := `
graphics:
  width: 1600
  height: 900
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	*flagWidth = 1920
	defer func() {
		*flagConfig = ""
		*flagWidth = 0
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Graphics.Width != 1920 {
		t.Errorf("expected width 1920 from flag, got %d", cfg.Graphics.Width)
	}
	if cfg.Graphics.Height != 900 {
		t.Errorf("expected height 900 from file, got %d", cfg.Graphics.Height)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "terrain.yaml")
	if err := os.WriteFile(configPath, []byte("streaming:\n  lod:\n    unload_factor: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	*flagConfig = configPath
	defer func() { *flagConfig = "" }()

	if _, err := Load(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() = %v, want ErrInvalid", err)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "terrain.yaml")
	cfg := Default()
	cfg.Bake.Seed = 99
	cfg.Streaming.LOD.UnloadFactor = 0.6
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	got := Default()
	if err := loadFromFile(got, path); err != nil {
		t.Fatal(err)
	}
	if got.Bake.Seed != 99 || got.Streaming.LOD.UnloadFactor != 0.6 {
		t.Errorf("saved config reloaded as %+v", got)
	}
}
