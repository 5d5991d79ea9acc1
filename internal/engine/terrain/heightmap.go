package terrain

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Heightmap is a square grid of height samples in world units.
// Heights are stored row-major: sample (x, y) lives at y*Size+x, with y
// pointing north.
type Heightmap struct {
	Size    int
	Heights []float32
}

// NewHeightmap allocates a flat heightmap with size×size samples.
func NewHeightmap(size int) (*Heightmap, error) {
	if size < 2 {
		return nil, fmt.Errorf("%w: %d", ErrHeightmapSize, size)
	}
	return &Heightmap{
		Size:    size,
		Heights: make([]float32, size*size),
	}, nil
}

// Resolution returns n for a heightmap of 2^n+1 samples per side.
func (h *Heightmap) Resolution() (int, error) {
	if len(h.Heights) != h.Size*h.Size {
		return 0, fmt.Errorf("%w: %d samples for size %d", ErrHeightmapSize, len(h.Heights), h.Size)
	}
	return ResolutionOf(h.Size)
}

// ResolutionOf returns n for a side of 2^n+1 samples.
func ResolutionOf(size int) (int, error) {
	cells := size - 1
	if cells < 2 || cells&(cells-1) != 0 {
		return 0, fmt.Errorf("%w: got %d", ErrHeightmapSize, size)
	}
	n := 0
	for cells > 1 {
		cells >>= 1
		n++
	}
	return n, nil
}

// At returns the sample at (x, y), clamped to the grid.
func (h *Heightmap) At(x, y int) float32 {
	x = clampi(x, 0, h.Size-1)
	y = clampi(y, 0, h.Size-1)
	return h.Heights[y*h.Size+x]
}

// Set stores a sample.
func (h *Heightmap) Set(x, y int, v float32) {
	h.Heights[y*h.Size+x] = v
}

// HeightAt returns the bilinearly interpolated height at fractional sample
// coordinates.
func (h *Heightmap) HeightAt(fx, fy float32) float32 {
	cellX := int(math32.Floor(fx))
	cellY := int(math32.Floor(fy))
	cellX = clampi(cellX, 0, h.Size-2)
	cellY = clampi(cellY, 0, h.Size-2)

	fracX := clampf(fx-float32(cellX), 0, 1)
	fracY := clampf(fy-float32(cellY), 0, 1)

	// South edge: lerp between SW and SE
	south := h.At(cellX, cellY)*(1-fracX) + h.At(cellX+1, cellY)*fracX
	// North edge: lerp between NW and NE
	north := h.At(cellX, cellY+1)*(1-fracX) + h.At(cellX+1, cellY+1)*fracX
	return south*(1-fracY) + north*fracY
}

// Normal returns the surface normal at a sample using central differences.
// spacing is the horizontal distance between samples in world units; grid y
// maps to world +Z.
func (h *Heightmap) Normal(x, y int, spacing float32) mgl32.Vec3 {
	dx := (h.At(x+1, y) - h.At(x-1, y)) / (2 * spacing)
	dz := (h.At(x, y+1) - h.At(x, y-1)) / (2 * spacing)
	return mgl32.Vec3{-dx, 1, -dz}.Normalize()
}

// Range returns the lowest and highest sample.
func (h *Heightmap) Range() (lo, hi float32) {
	lo, hi = math32.MaxFloat32, -math32.MaxFloat32
	for _, v := range h.Heights {
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	return lo, hi
}

// Sub copies a size×size window whose south-west sample is (x0, y0).
// Samples outside the source are clamped to its border.
func (h *Heightmap) Sub(x0, y0, size int) *Heightmap {
	out := &Heightmap{Size: size, Heights: make([]float32, size*size)}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out.Heights[y*size+x] = h.At(x0+x, y0+y)
		}
	}
	return out
}

// Tiles returns how many fragments of the given size cover the heightmap when
// neighbouring fragments share their border samples.
func (h *Heightmap) Tiles(fragmentSize int) (nx, ny int) {
	step := fragmentSize - 1
	n := (h.Size - 1 + step - 1) / step
	return n, n
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
