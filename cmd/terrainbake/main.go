// terrainbake preprocesses a heightmap into a fragment store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/storage/fragstore"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := bake(ctx, cfg); err != nil {
		logger.Error("bake failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// job is one fragment to build.
type job struct {
	id terrain.FragmentID
}

func bake(ctx context.Context, cfg *config.Config) error {
	src, ids, name, err := source(cfg)
	if err != nil {
		return err
	}

	store, err := fragstore.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	logger.Info("baking",
		zap.String("source", name),
		zap.Int("fragments", len(ids)),
		zap.Int("samples", cfg.Bake.Samples),
		zap.Int("lods", cfg.Terrain.NumOfLODs),
		zap.String("store", cfg.Storage.Path),
	)

	// Preprocessors are not goroutine safe; each running job borrows one.
	free := make(chan *terrain.Preprocessor, cfg.Bake.Workers)
	for i := 0; i < cfg.Bake.Workers; i++ {
		p, err := terrain.NewPreprocessor(cfg.Terrain)
		if err != nil {
			return err
		}
		free <- p
	}

	pool := lod.NewPool(cfg.Bake.Workers, len(ids), logger.Named("bake"))
	defer pool.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    error
		maxH    float32
		done    int
		started = time.Now()
	)
	for _, j := range ids {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			p := <-free
			defer func() { free <- p }()

			hi, err := bakeOne(ctx, store, src, p, j, cfg.Bake.Samples)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("fragment %v: %w", j.id, err))
				return
			}
			maxH = max(maxH, hi)
			done++
			logger.Debug("fragment baked", zap.Stringer("id", j.id), zap.Int("done", done))
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("queue fragment %v: %w", j.id, err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return multierr.Append(errs, err)
	}
	if errs != nil {
		return errs
	}

	meta := map[string]string{
		fragstore.MetaFragmentWidth: strconv.FormatFloat(float64(cfg.Terrain.FragmentWidth), 'f', -1, 32),
		fragstore.MetaSamples:       strconv.Itoa(cfg.Bake.Samples),
		fragstore.MetaMaxHeight:     strconv.FormatFloat(float64(maxH), 'f', 2, 32),
		fragstore.MetaSource:        name,
		fragstore.MetaBakedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if err := store.SetMeta(ctx, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	info, err := store.Info(ctx)
	if err != nil {
		return err
	}
	logger.Info("bake finished",
		zap.Int("fragments", info.Fragments),
		zap.String("chunks", humanize.Comma(int64(info.Chunks))),
		zap.String("size", humanize.Bytes(uint64(info.TotalBytes()))),
		zap.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
	)
	return nil
}

func bakeOne(ctx context.Context, store *fragstore.Store, src terrain.Source, p *terrain.Preprocessor, j job, samples int) (float32, error) {
	hm, err := src.Fragment(j.id, samples)
	if err != nil {
		return 0, err
	}
	f, err := p.Build(j.id, hm)
	if err != nil {
		return 0, err
	}
	if err := store.PutFragment(ctx, f); err != nil {
		return 0, err
	}
	_, hi := hm.Range()
	return hi, nil
}

// source picks the heightmap source and the fragments it covers. Noise
// terrain is centred on the origin.
func source(cfg *config.Config) (terrain.Source, []job, string, error) {
	b := cfg.Bake
	if b.Heightmap != "" {
		hm, err := terrain.LoadHeightmapImage(b.Heightmap, b.HeightScale)
		if err != nil {
			return nil, nil, "", err
		}
		nx, ny := hm.Tiles(b.Samples)
		return terrain.HeightmapSource{Heightmap: hm}, grid(0, 0, nx, ny), b.Heightmap, nil
	}

	src := terrain.NewNoiseSource(terrain.NoiseConfig{
		Seed:      b.Seed,
		Amplitude: b.Amplitude,
		Frequency: b.Frequency,
	})
	name := fmt.Sprintf("perlin seed=%d", b.Seed)
	return src, grid(-b.TilesX/2, -b.TilesY/2, b.TilesX, b.TilesY), name, nil
}

func grid(x0, y0, nx, ny int) []job {
	out := make([]job, 0, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			out = append(out, job{id: terrain.FragmentID{X: int32(x0 + x), Y: int32(y0 + y)}})
		}
	}
	return out
}
