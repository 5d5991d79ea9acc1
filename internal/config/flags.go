package config

import (
	"flag"
	"fmt"
)

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagStore      = flag.String("store", "", "Path to the fragment store")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
	flagHeightmap  = flag.String("heightmap", "", "Heightmap image to bake (PNG, BMP or TIFF)")
	flagSeed       = flag.Int64("seed", 0, "Noise seed when baking without a heightmap")
	flagTiles      = flag.String("tiles", "", "Noise fragments to bake, as WxH")
	flagWorkers    = flag.Int("workers", 0, "Worker goroutines for baking and streaming")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) error {
	if *flagDebug {
		cfg.Logging.Level = "debug"
		cfg.Graphics.ColorByLevel = true
	}
	if *flagStore != "" {
		cfg.Storage.Path = *flagStore
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
	if *flagHeightmap != "" {
		cfg.Bake.Heightmap = *flagHeightmap
	}
	if *flagSeed != 0 {
		cfg.Bake.Seed = *flagSeed
	}
	if *flagTiles != "" {
		x, y, err := parseTiles(*flagTiles)
		if err != nil {
			return err
		}
		cfg.Bake.TilesX, cfg.Bake.TilesY = x, y
	}
	if *flagWorkers > 0 {
		cfg.Bake.Workers = *flagWorkers
		cfg.Streaming.Workers = *flagWorkers
	}
	return nil
}

// parseTiles parses "8x4" into its two counts.
func parseTiles(s string) (int, int, error) {
	var x, y int
	if n, err := fmt.Sscanf(s, "%dx%d", &x, &y); err != nil || n != 2 || x <= 0 || y <= 0 {
		return 0, 0, fmt.Errorf("%w: tiles %q, want WxH", ErrInvalid, s)
	}
	return x, y, nil
}
