package terrain

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/pkg/geom"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// FragmentMeta describes a preprocessed fragment.
type FragmentMeta struct {
	Resolution  int       `json:"resolution"` // chunk tree levels
	Size        int       `json:"size"`       // heightmap samples per side
	Width       float32   `json:"width"`      // world units per side
	LevelErrors []float32 `json:"levelErrors"`
	BucketSizes []int     `json:"bucketSizes"`
	Skirts      bool      `json:"skirts"`
	SkirtDepth  float32   `json:"skirtDepth"`
	Bounds      geom.AABB `json:"bounds"`
}

// ChunkRecord is the persisted metadata of one chunk.
type ChunkRecord struct {
	Node     quadtree.Index `json:"node"`
	MaxError float32        `json:"maxError"`
	Bucket   int            `json:"bucket"`
	Bounds   geom.AABB      `json:"bounds"`
}

// Origin returns the world position of the south-west corner of a fragment.
func Origin(id FragmentID, width float32) mgl32.Vec3 {
	return mgl32.Vec3{float32(id.X) * width, 0, float32(id.Y) * width}
}

// SquareBounds returns the ground square of a fragment as a flat box.
func SquareBounds(id FragmentID, width float32) geom.AABB {
	o := Origin(id, width)
	return geom.AABB{Min: o, Max: o.Add(mgl32.Vec3{width, 0, width})}
}

// ChunkData is the load state of one chunk. Status reads are lock-free; every
// transition goes through mu together with the load ticket.
type ChunkData struct {
	MaxError float32
	Bucket   int
	Bounds   geom.AABB

	status atomic.Int32
	mu     sync.Mutex
	ticket uint64
	chunk  atomic.Pointer[Chunk]
}

// Status returns the current status.
func (d *ChunkData) Status() Status {
	return Status(d.status.Load())
}

// Chunk returns the loaded index list, nil when not in memory.
func (d *ChunkData) Chunk() *Chunk {
	return d.chunk.Load()
}

// SetStatus forces a status.
func (d *ChunkData) SetStatus(s Status) {
	d.mu.Lock()
	d.status.Store(int32(s))
	d.mu.Unlock()
}

// Put stores a chunk and marks it RAM, or clears it to Unloaded for nil.
// Any load in flight is invalidated.
func (d *ChunkData) Put(c *Chunk) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ticket++
	d.chunk.Store(c)
	if c == nil {
		d.status.Store(int32(Unloaded))
		return
	}
	d.status.Store(int32(RAM))
}

// Claim moves the chunk from a stable status into the matching loading status
// and returns the ticket identifying this load.
func (d *ChunkData) Claim(from Status, loading Status) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Status() != from || !loading.IsLoading() || loading.Prior() != from {
		return 0, false
	}
	d.ticket++
	d.status.Store(int32(loading))
	return d.ticket, true
}

// Ticket returns the ticket of the load in flight.
func (d *ChunkData) Ticket() (uint64, Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticket, d.Status()
}

// Finish completes a load. publish runs under the chunk lock and only when the
// ticket is still current; otherwise ErrCancelled is returned and the caller
// must discard what it prepared.
func (d *ChunkData) Finish(ticket uint64, publish func(*ChunkData)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.Status()
	if ticket != d.ticket || !st.IsLoading() {
		return ErrCancelled
	}
	if publish != nil {
		publish(d)
	}
	d.status.Store(int32(st.Target()))
	return nil
}

// Abort drops a failed load back to its prior status.
func (d *ChunkData) Abort(ticket uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.Status()
	if ticket != d.ticket || !st.IsLoading() {
		return false
	}
	d.ticket++
	d.status.Store(int32(st.Prior()))
	return true
}

// Cancel reverts any load in flight to its prior status.
func (d *ChunkData) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.Status()
	if !st.IsLoading() {
		return false
	}
	d.ticket++
	d.status.Store(int32(st.Prior()))
	return true
}

// StoreChunk sets the chunk pointer. Meant for publish callbacks.
func (d *ChunkData) StoreChunk(c *Chunk) {
	d.chunk.Store(c)
}

// Fragment is one streamable terrain tile: a tree of chunk states plus the
// cumulative vertex buckets they index.
type Fragment struct {
	ID   FragmentID
	Meta FragmentMeta

	tree   *quadtree.Tree[ChunkData]
	status atomic.Int32

	bucketMu     sync.Mutex
	buckets      [][]Vertex
	bucketStatus []Status
	bucketGen    uint64 // bumped by ReleaseBuckets

	vramLevel atomic.Int32
}

// NewPlaceholder returns a fragment entry whose metadata is still loading.
func NewPlaceholder(id FragmentID, width float32) *Fragment {
	f := &Fragment{ID: id}
	f.Meta.Width = width
	f.Meta.Bounds = SquareBounds(id, width)
	f.status.Store(int32(LoadingRAM))
	f.vramLevel.Store(-1)
	return f
}

// NewFragment builds an unloaded fragment from persisted metadata.
func NewFragment(id FragmentID, meta FragmentMeta, records []ChunkRecord) (*Fragment, error) {
	tree, err := quadtree.New[ChunkData](meta.Resolution)
	if err != nil {
		return nil, fmt.Errorf("fragment %v: %w", id, err)
	}
	if len(records) != tree.Len() {
		return nil, fmt.Errorf("fragment %v: %d chunk records for %d nodes", id, len(records), tree.Len())
	}
	for _, r := range records {
		n, err := tree.Node(r.Node)
		if err != nil {
			return nil, fmt.Errorf("fragment %v: %w", id, err)
		}
		if r.Bucket < 0 || r.Bucket >= len(meta.BucketSizes) {
			return nil, fmt.Errorf("fragment %v chunk %d: bucket %d out of range", id, r.Node, r.Bucket)
		}
		n.Value.MaxError = r.MaxError
		n.Value.Bucket = r.Bucket
		n.Value.Bounds = r.Bounds
	}

	f := &Fragment{
		ID:           id,
		Meta:         meta,
		tree:         tree,
		buckets:      make([][]Vertex, len(meta.BucketSizes)),
		bucketStatus: make([]Status, len(meta.BucketSizes)),
	}
	f.status.Store(int32(RAM))
	f.vramLevel.Store(-1)
	return f, nil
}

// Status returns the fragment status.
func (f *Fragment) Status() Status {
	return Status(f.status.Load())
}

// SetStatus stores the fragment status.
func (f *Fragment) SetStatus(s Status) {
	f.status.Store(int32(s))
}

// Tree returns the chunk tree, nil for placeholders.
func (f *Fragment) Tree() *quadtree.Tree[ChunkData] {
	return f.tree
}

// Data returns the chunk state of a node.
func (f *Fragment) Data(i quadtree.Index) (*ChunkData, error) {
	if f.tree == nil {
		return nil, fmt.Errorf("fragment %v has no chunks", f.ID)
	}
	n, err := f.tree.Node(i)
	if err != nil {
		return nil, err
	}
	return &n.Value, nil
}

// Origin returns the world position of the fragment's south-west corner.
func (f *Fragment) Origin() mgl32.Vec3 {
	return Origin(f.ID, f.Meta.Width)
}

// Records returns the persisted form of every chunk.
func (f *Fragment) Records() []ChunkRecord {
	out := make([]ChunkRecord, 0, f.tree.Len())
	for i := 0; i < f.tree.Len(); i++ {
		d := &f.tree.At(quadtree.Index(i)).Value
		out = append(out, ChunkRecord{
			Node:     quadtree.Index(i),
			MaxError: d.MaxError,
			Bucket:   d.Bucket,
			Bounds:   d.Bounds,
		})
	}
	return out
}

// Buckets returns the number of vertex buckets.
func (f *Fragment) Buckets() int {
	return len(f.Meta.BucketSizes)
}

// EnsureBuckets loads every bucket up to level that is not in RAM yet. load
// runs without the bucket lock, so readers never wait on it. When two callers
// race for the same bucket the first result is kept. A ReleaseBuckets during
// the load discards the result and returns ErrCancelled.
func (f *Fragment) EnsureBuckets(level int, load func(level int) ([]Vertex, error)) error {
	f.bucketMu.Lock()
	if level < 0 || level >= len(f.buckets) {
		n := len(f.buckets)
		f.bucketMu.Unlock()
		return fmt.Errorf("fragment %v: bucket %d of %d", f.ID, level, n)
	}
	var missing []int
	for l := 0; l <= level; l++ {
		if f.bucketStatus[l] != RAM {
			missing = append(missing, l)
		}
	}
	gen := f.bucketGen
	f.bucketMu.Unlock()

	loaded := make([][]Vertex, len(missing))
	for k, l := range missing {
		verts, err := load(l)
		if err != nil {
			return fmt.Errorf("fragment %v bucket %d: %w", f.ID, l, err)
		}
		if len(verts) != f.Meta.BucketSizes[l] {
			return fmt.Errorf("fragment %v bucket %d: %d vertices, want %d", f.ID, l, len(verts), f.Meta.BucketSizes[l])
		}
		loaded[k] = verts
	}

	f.bucketMu.Lock()
	defer f.bucketMu.Unlock()
	if f.bucketGen != gen {
		return fmt.Errorf("fragment %v buckets released: %w", f.ID, ErrCancelled)
	}
	for k, l := range missing {
		if f.bucketStatus[l] == RAM {
			continue
		}
		f.buckets[l] = loaded[k]
		f.bucketStatus[l] = RAM
	}
	return nil
}

// BucketStatus returns the RAM status of a bucket.
func (f *Fragment) BucketStatus(level int) Status {
	f.bucketMu.Lock()
	defer f.bucketMu.Unlock()
	if level < 0 || level >= len(f.bucketStatus) {
		return Absent
	}
	return f.bucketStatus[level]
}

// Bucket returns the vertices of one bucket, nil when not loaded.
func (f *Fragment) Bucket(level int) []Vertex {
	f.bucketMu.Lock()
	defer f.bucketMu.Unlock()
	if level < 0 || level >= len(f.buckets) {
		return nil
	}
	return f.buckets[level]
}

// Vertices concatenates buckets 0..level. It fails when one is not in RAM.
func (f *Fragment) Vertices(level int) ([]Vertex, error) {
	f.bucketMu.Lock()
	defer f.bucketMu.Unlock()
	if level < 0 || level >= len(f.buckets) {
		return nil, fmt.Errorf("fragment %v: bucket %d of %d", f.ID, level, len(f.buckets))
	}
	total := 0
	for l := 0; l <= level; l++ {
		if f.bucketStatus[l] != RAM {
			return nil, fmt.Errorf("fragment %v: bucket %d is %v", f.ID, l, f.bucketStatus[l])
		}
		total += len(f.buckets[l])
	}
	out := make([]Vertex, 0, total)
	for l := 0; l <= level; l++ {
		out = append(out, f.buckets[l]...)
	}
	return out, nil
}

// ReleaseBuckets drops all vertex data from RAM.
func (f *Fragment) ReleaseBuckets() {
	f.bucketMu.Lock()
	defer f.bucketMu.Unlock()
	f.bucketGen++
	for l := range f.buckets {
		f.buckets[l] = nil
		f.bucketStatus[l] = Unloaded
	}
}

// VRAMLevel returns the highest bucket level resident on the GPU, -1 for none.
func (f *Fragment) VRAMLevel() int {
	return int(f.vramLevel.Load())
}

// SetVRAMLevel is called by the GPU resource owner after uploads and releases.
func (f *Fragment) SetVRAMLevel(level int) {
	f.vramLevel.Store(int32(level))
}

// Walk visits chunk states in depth-first pre-order; fn may prune.
func (f *Fragment) Walk(fn func(quadtree.Index, *quadtree.Node[ChunkData]) bool) {
	if f.tree == nil {
		return
	}
	f.tree.Walk(0, fn)
}
