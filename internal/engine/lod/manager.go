package lod

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/pkg/geom"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// InsideChunkError is the screen-space error of a chunk containing the camera.
const InsideChunkError float32 = 1e30

// insideDistance is the camera distance below which a chunk counts as
// containing the camera.
const insideDistance = 1e-3

// Manager errors.
var (
	ErrInvalidConfig  = errors.New("lod: invalid config")
	ErrStrategyPanic  = errors.New("lod: strategy panicked")
	ErrMissingLoaders = errors.New("lod: all three load strategies are required")
)

// Config holds the LOD thresholds.
type Config struct {
	MaxTolerableError  float32 `yaml:"max_tolerable_error"` // pixels
	RAMLoadFactor      float32 `yaml:"ram_load_factor"`
	VRAMLoadFactor     float32 `yaml:"vram_load_factor"`
	UnloadFactor       float32 `yaml:"unload_factor"`
	MaxVisibleDistance float32 `yaml:"max_visible_distance"`
	ViewportWidth      int     `yaml:"viewport_width"`
	HorizontalFOV      float32 `yaml:"horizontal_fov"` // degrees
}

// DefaultConfig returns thresholds suited to a 1280 pixel wide view.
func DefaultConfig() Config {
	return Config{
		MaxTolerableError:  2,
		RAMLoadFactor:      0.5,
		VRAMLoadFactor:     0.8,
		UnloadFactor:       0.7,
		MaxVisibleDistance: 2048,
		ViewportWidth:      1280,
		HorizontalFOV:      90,
	}
}

// Validate checks the factor ordering 0 < RAM < VRAM < 1 and 0 < unload < 1.
func (c Config) Validate() error {
	switch {
	case c.MaxTolerableError <= 0:
		return fmt.Errorf("%w: max_tolerable_error must be positive", ErrInvalidConfig)
	case c.RAMLoadFactor <= 0 || c.RAMLoadFactor >= c.VRAMLoadFactor || c.VRAMLoadFactor >= 1:
		return fmt.Errorf("%w: need 0 < ram_load_factor (%v) < vram_load_factor (%v) < 1",
			ErrInvalidConfig, c.RAMLoadFactor, c.VRAMLoadFactor)
	case c.UnloadFactor <= 0 || c.UnloadFactor >= 1:
		return fmt.Errorf("%w: unload_factor %v not in (0,1)", ErrInvalidConfig, c.UnloadFactor)
	case c.MaxVisibleDistance <= 0:
		return fmt.Errorf("%w: max_visible_distance must be positive", ErrInvalidConfig)
	case c.ViewportWidth <= 0 || c.HorizontalFOV <= 0 || c.HorizontalFOV >= 180:
		return fmt.Errorf("%w: bad viewport %dpx / %v°", ErrInvalidConfig, c.ViewportWidth, c.HorizontalFOV)
	}
	return nil
}

// Stats is a snapshot of the manager counters.
type Stats struct {
	Fragments      int
	Unloaded       int
	RAM            int
	VRAM           int
	Loading        int
	LoadsStarted   int64
	LoadsFailed    int64
	LoadsCancelled int64
	Unloads        int64
}

// Manager reconciles the detail the camera needs with what is loaded.
type Manager struct {
	cfg       Config
	terrain   *ChunkedTerrain
	fragments FragmentLoadStrategy
	ram       LoadStrategy
	vram      LoadStrategy
	log       *zap.Logger

	update sync.Mutex
	scale  atomic.Uint32 // float32 bits of the perspective factor

	started   atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	unloads   atomic.Int64
}

// NewManager validates cfg and wires the strategies.
func NewManager(cfg Config, t *ChunkedTerrain, fragments FragmentLoadStrategy, ram, vram LoadStrategy, log *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fragments == nil || ram == nil || vram == nil {
		return nil, ErrMissingLoaders
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		terrain:   t,
		fragments: fragments,
		ram:       ram,
		vram:      vram,
		log:       log,
	}
	m.SetViewport(cfg.ViewportWidth, cfg.HorizontalFOV)
	return m, nil
}

// Terrain returns the managed terrain.
func (m *Manager) Terrain() *ChunkedTerrain { return m.terrain }

// SetViewport updates the perspective factor after a resize or FOV change.
func (m *Manager) SetViewport(width int, hfovDegrees float32) {
	half := float64(hfovDegrees) * math.Pi / 360
	k := float32(float64(width) / (2 * math.Tan(half)))
	m.scale.Store(math.Float32bits(k))
}

// PerspectiveScale returns viewportWidth / (2·tan(hfov/2)).
func (m *Manager) PerspectiveScale() float32 {
	return math.Float32frombits(m.scale.Load())
}

// ScreenError projects an object-space error at the camera distance of a box.
func (m *Manager) ScreenError(maxError float32, bounds geom.AABB, pos mgl32.Vec3) float32 {
	dist := bounds.Distance(pos)
	if dist < insideDistance {
		return InsideChunkError
	}
	return maxError * m.PerspectiveScale() / dist
}

// Update runs one reconciliation pass: evict far fragments, discover new ones
// and walk every loaded fragment. It never fails; strategy errors are logged
// and retried on the next pass.
func (m *Manager) Update(cam Camera) {
	m.update.Lock()
	defer m.update.Unlock()

	pos := cam.Position()
	m.evict(pos)
	m.discover(pos)
	m.terrain.Ascend(func(f *terrain.Fragment) bool {
		if f.Status() == terrain.RAM {
			m.updateFragment(f, pos)
		}
		return true
	})
}

// Run calls Update every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, cam Camera, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.Update(cam)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UnloadAll drops every fragment.
func (m *Manager) UnloadAll() {
	m.update.Lock()
	defer m.update.Unlock()
	for _, f := range m.terrain.Fragments() {
		m.unloadFragment(f)
	}
}

// visible reports whether a fragment square is within range on the ground
// plane.
func (m *Manager) visible(id terrain.FragmentID, pos mgl32.Vec3) bool {
	return terrain.SquareBounds(id, m.terrain.Width()).DistanceXZ(pos) <= m.cfg.MaxVisibleDistance
}

func (m *Manager) evict(pos mgl32.Vec3) {
	for _, f := range m.terrain.Fragments() {
		if !m.visible(f.ID, pos) {
			m.unloadFragment(f)
		}
	}
}

func (m *Manager) discover(pos mgl32.Vec3) {
	center := FragmentAt(pos, m.terrain.Width())
	Spiral(center, func(id terrain.FragmentID) bool {
		if !m.visible(id, pos) {
			return false
		}
		if _, ok := m.terrain.Reserve(id); ok {
			m.requestFragment(id)
		}
		return true
	})
}

func (m *Manager) requestFragment(id terrain.FragmentID) {
	m.started.Add(1)
	err := m.call(func() error { return m.fragments.StartAsyncLoad(id) })
	if err != nil {
		m.failed.Add(1)
		m.terrain.Remove(id)
		m.log.Warn("fragment load failed to start", zap.Stringer("fragment", id), zap.Error(err))
	}
}

func (m *Manager) unloadFragment(f *terrain.Fragment) {
	if f.Tree() != nil && !m.unloadSubtree(f, 0) {
		m.log.Warn("fragment evicted with chunk unload errors", zap.Stringer("fragment", f.ID))
	}
	if f.Status() == terrain.RAM {
		if err := m.call(func() error { return m.fragments.Unload(f.ID) }); err != nil {
			m.log.Warn("fragment unload failed", zap.Stringer("fragment", f.ID), zap.Error(err))
		}
	}
	m.terrain.Remove(f.ID)
	m.unloads.Add(1)
	m.log.Debug("fragment evicted", zap.Stringer("fragment", f.ID))
}

func (m *Manager) updateFragment(f *terrain.Fragment, pos mgl32.Vec3) {
	root := &f.Tree().Root().Value
	switch root.Status() {
	case terrain.Unloaded:
		m.startLoad(f, 0, terrain.Unloaded)
	case terrain.RAM:
		m.startLoad(f, 0, terrain.RAM)
	case terrain.VRAM:
		m.recursiveUpdate(f, 0, pos)
	}
}

// recursiveUpdate decides the state of the children of node i from i's
// screen-space error, then descends once all four children are stable.
func (m *Manager) recursiveUpdate(f *terrain.Fragment, i quadtree.Index, pos mgl32.Vec3) {
	tree := f.Tree()
	node := tree.At(i)
	if node.Leaf() {
		return
	}

	e := m.ScreenError(node.Value.MaxError, node.Value.Bounds, pos)
	ramLoad := m.cfg.MaxTolerableError * m.cfg.RAMLoadFactor
	vramLoad := m.cfg.MaxTolerableError * m.cfg.VRAMLoadFactor
	ramUnload := ramLoad * m.cfg.UnloadFactor
	vramUnload := vramLoad * m.cfg.UnloadFactor

	descend := true
	for _, c := range node.Children {
		d := &tree.At(c).Value
		switch d.Status() {
		case terrain.Unloaded:
			if e > ramLoad {
				m.startLoad(f, c, terrain.Unloaded)
			}
		case terrain.RAM:
			switch {
			case e > vramLoad:
				m.startLoad(f, c, terrain.RAM)
			case e < ramUnload:
				m.unloadSubtree(f, c)
			}
		case terrain.VRAM:
			switch {
			case e < ramUnload:
				m.unloadSubtree(f, c)
			case e < vramUnload:
				m.unloadChunk(f, c, terrain.RAM)
			}
		case terrain.LoadingRAM:
			if e < ramUnload && d.Cancel() {
				m.cancelled.Add(1)
			}
		case terrain.LoadingVRAM:
			if e < vramUnload && d.Cancel() {
				m.cancelled.Add(1)
			}
		}
		if !d.Status().AtLeast(terrain.RAM) {
			descend = false
		}
	}

	if !descend {
		return
	}
	for _, c := range node.Children {
		m.recursiveUpdate(f, c, pos)
	}
}

// startLoad claims chunk i and hands it to the strategy for the next level.
func (m *Manager) startLoad(f *terrain.Fragment, i quadtree.Index, from terrain.Status) {
	d := &f.Tree().At(i).Value
	ticket, ok := d.Claim(from, from.Upgrade())
	if !ok {
		return
	}
	id := terrain.ChunkID{Fragment: f.ID, Node: i}
	strategy := m.ram
	if from == terrain.RAM {
		strategy = m.vram
	}

	m.started.Add(1)
	if err := m.call(func() error { return strategy.StartAsyncLoad(id) }); err != nil {
		m.failed.Add(1)
		d.Abort(ticket)
		m.log.Warn("chunk load failed to start",
			zap.Stringer("chunk", id),
			zap.Stringer("from", from),
			zap.Error(err))
	}
}

// unloadSubtree unloads node i and everything below it. It reports whether
// the whole subtree reached Unloaded.
func (m *Manager) unloadSubtree(f *terrain.Fragment, i quadtree.Index) bool {
	node := f.Tree().At(i)
	ok := true
	if !node.Leaf() {
		for _, c := range node.Children {
			if !m.unloadSubtree(f, c) {
				ok = false
			}
		}
	}
	if !ok {
		return false
	}
	return m.unloadChunk(f, i, terrain.Unloaded)
}

// unloadChunk moves chunk i down to target, cancelling any load in flight.
func (m *Manager) unloadChunk(f *terrain.Fragment, i quadtree.Index, target terrain.Status) bool {
	d := &f.Tree().At(i).Value
	id := terrain.ChunkID{Fragment: f.ID, Node: i}

	if d.Cancel() {
		m.cancelled.Add(1)
	}
	if d.Status() == terrain.VRAM {
		if err := m.call(func() error { return m.vram.Unload(id) }); err != nil {
			m.log.Warn("vram unload failed", zap.Stringer("chunk", id), zap.Error(err))
			return false
		}
		d.SetStatus(terrain.RAM)
		m.unloads.Add(1)
	}
	if target == terrain.Unloaded && d.Status() == terrain.RAM {
		if err := m.call(func() error { return m.ram.Unload(id) }); err != nil {
			m.log.Warn("ram unload failed", zap.Stringer("chunk", id), zap.Error(err))
			return false
		}
		d.Put(nil)
		m.unloads.Add(1)
	}
	return true
}

// call runs a strategy callback, turning panics into errors.
func (m *Manager) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStrategyPanic, r)
		}
	}()
	return fn()
}

// ready reports whether a chunk and its vertex bucket are on the GPU.
func ready(f *terrain.Fragment, d *terrain.ChunkData) bool {
	return d.Status() == terrain.VRAM && f.VRAMLevel() >= d.Bucket
}

// ChunksToRender returns, per fragment in id order, the finest crack-free cut
// of chunks that are ready to draw. Residency alone decides the cut: chunks
// kept in VRAM by the unload hysteresis are drawn until the next Update
// releases them. The camera is unused.
func (m *Manager) ChunksToRender(_ Camera) RenderList {
	var out RenderList
	m.terrain.Ascend(func(f *terrain.Fragment) bool {
		if f.Status() != terrain.RAM || !ready(f, &f.Tree().Root().Value) {
			return true
		}
		out = m.collect(f, 0, out)
		return true
	})
	return out
}

func (m *Manager) collect(f *terrain.Fragment, i quadtree.Index, out RenderList) RenderList {
	tree := f.Tree()
	node := tree.At(i)
	if !node.Leaf() {
		all := true
		for _, c := range node.Children {
			if !ready(f, &tree.At(c).Value) {
				all = false
				break
			}
		}
		if all {
			for _, c := range node.Children {
				out = m.collect(f, c, out)
			}
			return out
		}
	}
	return append(out, terrain.ChunkID{Fragment: f.ID, Node: i})
}

// Stats counts chunks per status and returns the load counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		LoadsStarted:   m.started.Load(),
		LoadsFailed:    m.failed.Load(),
		LoadsCancelled: m.cancelled.Load(),
		Unloads:        m.unloads.Load(),
	}
	m.terrain.Ascend(func(f *terrain.Fragment) bool {
		s.Fragments++
		f.Walk(func(_ quadtree.Index, n *quadtree.Node[terrain.ChunkData]) bool {
			switch st := n.Value.Status(); {
			case st.IsLoading():
				s.Loading++
			case st == terrain.VRAM:
				s.VRAM++
			case st == terrain.RAM:
				s.RAM++
			default:
				s.Unloaded++
			}
			return true
		})
		return true
	})
	return s
}

// MinDistance returns the camera distance of the nearest loaded chunk root,
// used by the viewer for its status line.
func (m *Manager) MinDistance(pos mgl32.Vec3) float32 {
	var best float32 = math32.MaxFloat32
	m.terrain.Ascend(func(f *terrain.Fragment) bool {
		if f.Status() == terrain.RAM {
			best = math32.Min(best, f.Meta.Bounds.Distance(pos))
		}
		return true
	})
	return best
}
