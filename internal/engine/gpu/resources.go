package gpu

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

type bufferKey struct {
	frag  terrain.FragmentID
	level int
}

// vertexBuffer holds buckets 0..level of one fragment.
type vertexBuffer struct {
	frag   *terrain.Fragment
	level  int
	handle Handle
	count  int
	refs   atomic.Int32
}

type chunkBuffer struct {
	vb    *vertexBuffer
	ib    Handle
	count int
}

// Resources tracks what each fragment has on the device. Chunks bind to the
// finest vertex buffer of their fragment at upload time and keep it alive
// through a reference count; a buffer is freed with its last chunk.
//
// Resources belongs to the render thread; other goroutines reach it through a
// Queue.
type Resources struct {
	dev Device
	log *zap.Logger

	buffers  map[bufferKey]*vertexBuffer
	resident map[terrain.FragmentID]*vertexBuffer
	chunks   map[terrain.ChunkID]*chunkBuffer
}

// NewResources creates an empty table on dev.
func NewResources(dev Device, log *zap.Logger) *Resources {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resources{
		dev:      dev,
		log:      log,
		buffers:  make(map[bufferKey]*vertexBuffer),
		resident: make(map[terrain.FragmentID]*vertexBuffer),
		chunks:   make(map[terrain.ChunkID]*chunkBuffer),
	}
}

// Load uploads the indices of chunk id, first uploading a finer vertex buffer
// when the fragment's resident one does not cover bucket.
func (r *Resources) Load(f *terrain.Fragment, id terrain.ChunkID, c *terrain.Chunk, bucket int) error {
	if c == nil {
		return fmt.Errorf("%w: %v has no index data", ErrNotResident, id)
	}
	if _, ok := r.chunks[id]; ok {
		r.Unload(id)
	}

	vb := r.resident[f.ID]
	if vb == nil || vb.level < bucket {
		var err error
		if vb, err = r.uploadLevel(f, bucket); err != nil {
			return err
		}
	}

	ib, err := r.dev.UploadIndices(c.Indices)
	if err != nil {
		r.collect(vb)
		return fmt.Errorf("chunk %v: %w", id, err)
	}
	vb.refs.Add(1)
	r.chunks[id] = &chunkBuffer{vb: vb, ib: ib, count: len(c.Indices)}
	return nil
}

func (r *Resources) uploadLevel(f *terrain.Fragment, level int) (*vertexBuffer, error) {
	verts, err := f.Vertices(level)
	if err != nil {
		return nil, err
	}
	h, err := r.dev.UploadVertices(verts)
	if err != nil {
		return nil, fmt.Errorf("fragment %v level %d: %w", f.ID, level, err)
	}
	vb := &vertexBuffer{frag: f, level: level, handle: h, count: len(verts)}
	r.buffers[bufferKey{f.ID, level}] = vb
	r.resident[f.ID] = vb
	f.SetVRAMLevel(level)
	r.log.Debug("vertex buffer uploaded",
		zap.Stringer("fragment", f.ID),
		zap.Int("level", level),
		zap.Int("vertices", len(verts)))
	return vb, nil
}

// Unload frees the index buffer of a chunk and drops its vertex buffer
// reference. It reports whether the chunk was resident.
func (r *Resources) Unload(id terrain.ChunkID) bool {
	cb, ok := r.chunks[id]
	if !ok {
		return false
	}
	delete(r.chunks, id)
	r.dev.Release(cb.ib)
	cb.vb.refs.Add(-1)
	r.collect(cb.vb)
	return true
}

// collect frees a vertex buffer nothing references any more and lowers the
// fragment's resident level to the finest buffer left.
func (r *Resources) collect(vb *vertexBuffer) {
	if vb.refs.Load() > 0 {
		return
	}
	id := vb.frag.ID
	delete(r.buffers, bufferKey{id, vb.level})
	r.dev.Release(vb.handle)

	if r.resident[id] != vb {
		return
	}
	var best *vertexBuffer
	for k, b := range r.buffers {
		if k.frag == id && (best == nil || b.level > best.level) {
			best = b
		}
	}
	if best == nil {
		delete(r.resident, id)
		vb.frag.SetVRAMLevel(-1)
		return
	}
	r.resident[id] = best
	vb.frag.SetVRAMLevel(best.level)
}

// Draw issues the draw call of a resident chunk.
func (r *Resources) Draw(id terrain.ChunkID) bool {
	cb, ok := r.chunks[id]
	if !ok {
		return false
	}
	r.dev.DrawIndexed(cb.vb.handle, cb.ib, cb.count)
	return true
}

// Resident reports whether a chunk has device buffers.
func (r *Resources) Resident(id terrain.ChunkID) bool {
	_, ok := r.chunks[id]
	return ok
}

// Level returns the resident vertex level of a fragment, -1 for none.
func (r *Resources) Level(id terrain.FragmentID) int {
	if vb := r.resident[id]; vb != nil {
		return vb.level
	}
	return -1
}

// Counts returns the number of resident chunks and vertex buffers.
func (r *Resources) Counts() (chunks, buffers int) {
	return len(r.chunks), len(r.buffers)
}

// Clear frees everything.
func (r *Resources) Clear() {
	for id := range r.chunks {
		r.Unload(id)
	}
}
