package terrain

import (
	"github.com/aquilax/go-perlin"
	"github.com/chewxy/math32"
)

// Source produces the heightmap of one fragment. Neighbouring fragments must
// agree on their shared border samples.
type Source interface {
	Fragment(id FragmentID, size int) (*Heightmap, error)
}

// NoiseSource generates unbounded terrain from layered perlin noise.
type NoiseSource struct {
	hills  *perlin.Perlin // small, high frequency detail
	ridges *perlin.Perlin // mountain ranges
	zones  *perlin.Perlin // very low frequency flat/mountain mask
	amp    float32
	freq   float64
}

// NoiseConfig configures a NoiseSource.
type NoiseConfig struct {
	Seed      int64
	Amplitude float32 // peak height in world units
	Frequency float64 // features per sample
}

// NewNoiseSource creates a generator with a seed.
func NewNoiseSource(cfg NoiseConfig) *NoiseSource {
	if cfg.Frequency == 0 {
		cfg.Frequency = 0.01
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 100
	}
	return &NoiseSource{
		hills:  perlin.NewPerlin(1.5, 2.0, 4, cfg.Seed),
		ridges: perlin.NewPerlin(2.5, 3.0, 4, cfg.Seed+1),
		zones:  perlin.NewPerlin(2, 3.0, 3, cfg.Seed+2),
		amp:    cfg.Amplitude,
		freq:   cfg.Frequency,
	}
}

// Height returns the height at a global sample coordinate.
func (g *NoiseSource) Height(x, y float64) float32 {
	hills := float32(g.hills.Noise2D(x*g.freq, y*g.freq))
	ridge := 1 - math32.Abs(float32(g.ridges.Noise2D(x*g.freq*0.25, y*g.freq*0.25)))

	// Zone is very low frequency
	zone := clampf(float32(g.zones.Noise2D(x*g.freq*0.05, y*g.freq*0.05))*2+0.5, 0, 1)

	return (hills*0.25 + ridge*ridge*zone) * g.amp
}

// Fragment implements Source.
func (g *NoiseSource) Fragment(id FragmentID, size int) (*Heightmap, error) {
	hm, err := NewHeightmap(size)
	if err != nil {
		return nil, err
	}
	step := size - 1
	offX := float64(int(id.X) * step)
	offY := float64(int(id.Y) * step)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			hm.Set(x, y, g.Height(offX+float64(x), offY+float64(y)))
		}
	}
	return hm, nil
}

// HeightmapSource slices one large heightmap into fragments sharing borders.
type HeightmapSource struct {
	Heightmap *Heightmap
}

// Fragment implements Source.
func (s HeightmapSource) Fragment(id FragmentID, size int) (*Heightmap, error) {
	if _, err := ResolutionOf(size); err != nil {
		return nil, err
	}
	step := size - 1
	return s.Heightmap.Sub(int(id.X)*step, int(id.Y)*step, size), nil
}
