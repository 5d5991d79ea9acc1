package terrain

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/pkg/geom"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// PreprocessorConfig controls how fragments are built.
type PreprocessorConfig struct {
	NumOfLODs       int     `yaml:"num_of_lods"`
	MaxError        float32 `yaml:"max_error"`         // coarsest level height error
	LODErrorFactor  float32 `yaml:"lod_error_factor"`  // error multiplier per level
	VertexLODFactor float32 `yaml:"vertex_lod_factor"` // minimum bucket growth
	GenerateSkirts  bool    `yaml:"generate_skirts"`
	SkirtDepth      float32 `yaml:"skirt_depth"`
	FragmentWidth   float32 `yaml:"fragment_width"`
}

// DefaultPreprocessorConfig returns the settings used by the bake tool.
func DefaultPreprocessorConfig() PreprocessorConfig {
	return PreprocessorConfig{
		NumOfLODs:       6,
		MaxError:        16,
		LODErrorFactor:  0.5,
		VertexLODFactor: 0.5,
		GenerateSkirts:  true,
		SkirtDepth:      4,
		FragmentWidth:   256,
	}
}

// Validate checks the configuration.
func (c PreprocessorConfig) Validate() error {
	switch {
	case c.NumOfLODs < 1 || c.NumOfLODs > quadtree.MaxResolution:
		return fmt.Errorf("%w: num_of_lods %d not in [1,%d]", ErrInvalidConfig, c.NumOfLODs, quadtree.MaxResolution)
	case c.MaxError <= 0:
		return fmt.Errorf("%w: max_error must be positive", ErrInvalidConfig)
	case c.LODErrorFactor <= 0 || c.LODErrorFactor >= 1:
		return fmt.Errorf("%w: lod_error_factor %v not in (0,1)", ErrInvalidConfig, c.LODErrorFactor)
	case c.VertexLODFactor < 0:
		return fmt.Errorf("%w: vertex_lod_factor must not be negative", ErrInvalidConfig)
	case c.FragmentWidth <= 0:
		return fmt.Errorf("%w: fragment_width must be positive", ErrInvalidConfig)
	case c.GenerateSkirts && c.SkirtDepth <= 0:
		return fmt.Errorf("%w: skirt_depth must be positive", ErrInvalidConfig)
	}
	return nil
}

// Preprocessor turns heightmaps into fragments. It reuses its optimizer
// between calls and must not be shared between goroutines.
type Preprocessor struct {
	cfg PreprocessorConfig
	opt *Optimizer
}

// NewPreprocessor validates cfg and returns a preprocessor.
func NewPreprocessor(cfg PreprocessorConfig) (*Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Config returns the preprocessor settings.
func (p *Preprocessor) Config() PreprocessorConfig { return p.cfg }

// Build creates a fully loaded fragment from a heightmap of 2^n+1 samples.
func (p *Preprocessor) Build(id FragmentID, hm *Heightmap) (*Fragment, error) {
	if p.opt == nil {
		opt, err := NewOptimizer(hm)
		if err != nil {
			return nil, err
		}
		p.opt = opt
	} else if err := p.opt.Rebuild(hm); err != nil {
		return nil, err
	}
	opt := p.opt

	levelErrors := p.levels(opt)
	depths := len(levelErrors)
	tree, err := quadtree.New[ChunkData](depths)
	if err != nil {
		return nil, err
	}

	// Chunk meshes in grid vertex keys. Keys >= size² are skirt duplicates.
	meshes := make([][]int, tree.Len())
	for depth, e := range levelErrors {
		opt.GenerateLOD(e)
		opt.EnableLevel(depth)
		first, end := tree.LevelRange(depth)
		for i := first; i < end; i++ {
			mesh := opt.TriangulateNode(i, nil)
			if p.cfg.GenerateSkirts {
				mesh = p.skirts(mesh, opt, i)
			}
			meshes[i] = mesh
			tree.At(i).Value.MaxError = opt.ChunkError(i)
		}
	}

	order, remap, bucketSizes, levelBucket := p.rebucket(tree, meshes, hm.Size)
	vertices := p.vertices(hm, order)

	origin := Origin(id, p.cfg.FragmentWidth)
	spacing := p.cfg.FragmentWidth / float32(hm.Size-1)
	for i := 0; i < tree.Len(); i++ {
		idx := quadtree.Index(i)
		data := &tree.At(idx).Value
		data.Bucket = levelBucket[tree.Depth(idx)]
		data.Bounds = p.chunkBounds(hm, opt, idx, origin, spacing)

		local := make([]int, len(meshes[i]))
		for k, key := range meshes[i] {
			local[k] = remap[key]
		}
		chunk, err := NewChunk(local)
		if err != nil {
			return nil, fmt.Errorf("fragment %v chunk %d: %w (lower max_error or add LOD levels)", id, i, err)
		}
		data.Put(chunk)
	}

	meta := FragmentMeta{
		Resolution:  depths,
		Size:        hm.Size,
		Width:       p.cfg.FragmentWidth,
		LevelErrors: levelErrors,
		BucketSizes: bucketSizes,
		Skirts:      p.cfg.GenerateSkirts,
		SkirtDepth:  p.cfg.SkirtDepth,
		Bounds:      tree.Root().Value.Bounds,
	}
	f := &Fragment{
		ID:           id,
		Meta:         meta,
		tree:         tree,
		buckets:      make([][]Vertex, len(bucketSizes)),
		bucketStatus: make([]Status, len(bucketSizes)),
	}
	offset := 0
	for l, n := range bucketSizes {
		f.buckets[l] = vertices[offset : offset+n : offset+n]
		f.bucketStatus[l] = RAM
		offset += n
	}
	f.status.Store(int32(RAM))
	f.vramLevel.Store(-1)
	return f, nil
}

// levels picks the error of every chunk depth. Level k has error
// MaxError·LODErrorFactor^k and the root always keeps MaxError. A level whose
// error enables no node at the next depth collapses and is dropped; the
// following level tries that depth again.
func (p *Preprocessor) levels(opt *Optimizer) []float32 {
	errs := []float32{p.cfg.MaxError}
	e := p.cfg.MaxError
	for k := 1; k < p.cfg.NumOfLODs; k++ {
		e *= p.cfg.LODErrorFactor
		depth := len(errs)
		if depth >= opt.Resolution() {
			break
		}
		opt.GenerateLOD(e)
		if opt.EnabledAtDepth(depth) {
			errs = append(errs, e)
		}
	}
	return errs
}

// skirts appends a lowered wall under every border edge of chunk i.
func (p *Preprocessor) skirts(mesh []int, opt *Optimizer, i quadtree.Index) []int {
	size := opt.Heightmap().Size
	x0, y0, s := opt.Bounds(i)
	x1, y1 := x0+s, y0+s
	skirt := func(key int) int { return key + size*size }

	onBorder := func(u, v int) bool {
		ux, uy := u%size, u/size
		vx, vy := v%size, v/size
		return (ux == x0 && vx == x0) || (ux == x1 && vx == x1) ||
			(uy == y0 && vy == y0) || (uy == y1 && vy == y1)
	}

	tris := len(mesh)
	for t := 0; t < tris; t += 3 {
		for e := 0; e < 3; e++ {
			u, v := mesh[t+e], mesh[t+(e+1)%3]
			if !onBorder(u, v) {
				continue
			}
			mesh = append(mesh, u, skirt(v), v, u, skirt(u), skirt(v))
		}
	}
	return mesh
}

// rebucket renumbers vertex keys so coarse levels come first and groups the
// per-depth increments into cumulative buckets.
func (p *Preprocessor) rebucket(tree *quadtree.Tree[ChunkData], meshes [][]int, size int) (order []int, remap map[int]int, bucketSizes []int, levelBucket []int) {
	remap = make(map[int]int)
	levelBucket = make([]int, tree.Resolution())

	for depth := 0; depth < tree.Resolution(); depth++ {
		start := len(order)
		first, end := tree.LevelRange(depth)
		for i := first; i < end; i++ {
			for _, key := range meshes[i] {
				if _, ok := remap[key]; !ok {
					remap[key] = len(order)
					order = append(order, key)
				}
			}
		}
		inc := len(order) - start

		switch {
		case depth == 0:
			bucketSizes = append(bucketSizes, inc)
		case inc == 0 || float32(inc) < p.cfg.VertexLODFactor*float32(bucketSizes[len(bucketSizes)-1]):
			// Too small to be worth a swap: grow the current bucket instead.
			bucketSizes[len(bucketSizes)-1] += inc
		default:
			bucketSizes = append(bucketSizes, inc)
		}
		levelBucket[depth] = len(bucketSizes) - 1
	}
	return order, remap, bucketSizes, levelBucket
}

// vertices encodes the vertex keys in bucket order.
func (p *Preprocessor) vertices(hm *Heightmap, order []int) []Vertex {
	size := hm.Size
	spacing := p.cfg.FragmentWidth / float32(size-1)
	out := make([]Vertex, len(order))
	for k, key := range order {
		g := key % (size * size)
		x, y := g%size, g/size
		h := hm.At(x, y)
		if key >= size*size {
			h -= p.cfg.SkirtDepth
		}
		fx := float32(x) / float32(size-1)
		fz := float32(y) / float32(size-1)
		out[k] = EncodeVertex(fx, fz, h, hm.Normal(x, y, spacing))
	}
	return out
}

// chunkBounds returns the world box of every sample in a chunk square.
func (p *Preprocessor) chunkBounds(hm *Heightmap, opt *Optimizer, i quadtree.Index, origin mgl32.Vec3, spacing float32) geom.AABB {
	x0, y0, s := opt.Bounds(i)
	var lo, hi float32 = math32.MaxFloat32, -math32.MaxFloat32
	for y := y0; y <= y0+s; y++ {
		for x := x0; x <= x0+s; x++ {
			h := hm.At(x, y)
			lo = math32.Min(lo, h)
			hi = math32.Max(hi, h)
		}
	}
	if p.cfg.GenerateSkirts {
		lo -= p.cfg.SkirtDepth
	}
	return geom.AABB{
		Min: origin.Add(mgl32.Vec3{float32(x0) * spacing, lo, float32(y0) * spacing}),
		Max: origin.Add(mgl32.Vec3{float32(x0+s) * spacing, hi, float32(y0+s) * spacing}),
	}
}
