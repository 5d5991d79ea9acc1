// Package terrain provides heightmaps, restricted quad-tree simplification and
// the offline builder producing streamable terrain fragments.
package terrain

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// Terrain errors.
var (
	ErrHeightmapSize = errors.New("terrain: heightmap size must be 2^n+1")
	ErrIndexOverflow = errors.New("terrain: chunk exceeds 16-bit index range")
	ErrCancelled     = errors.New("terrain: load cancelled")
	ErrInvalidConfig = errors.New("terrain: invalid preprocessor config")
)

// MaxVertexIndex is the largest vertex a chunk can reference with 16-bit
// indices.
const MaxVertexIndex = 0xFFFF

// FragmentID is the grid coordinate of a square terrain tile.
type FragmentID struct {
	X int32
	Y int32
}

// Less orders fragment ids by X, then Y.
func (id FragmentID) Less(o FragmentID) bool {
	if id.X != o.X {
		return id.X < o.X
	}
	return id.Y < o.Y
}

func (id FragmentID) String() string {
	return fmt.Sprintf("(%d,%d)", id.X, id.Y)
}

// ChunkID addresses one LOD chunk inside a fragment.
type ChunkID struct {
	Fragment FragmentID
	Node     quadtree.Index
}

func (id ChunkID) String() string {
	return fmt.Sprintf("%v#%d", id.Fragment, id.Node)
}

// Status is the load state of a fragment, a chunk or a vertex bucket.
type Status int32

// Load states. The two loading states remember where the load started so a
// cancelled load can fall back.
const (
	Unloaded Status = iota
	RAM
	VRAM
	LoadingRAM
	LoadingVRAM
	Absent
)

// IsLoading reports whether a load is in flight.
func (s Status) IsLoading() bool {
	return s == LoadingRAM || s == LoadingVRAM
}

// Prior returns the stable state a load started from.
func (s Status) Prior() Status {
	switch s {
	case LoadingRAM:
		return Unloaded
	case LoadingVRAM:
		return RAM
	}
	return s
}

// Target returns the stable state a load finishes in.
func (s Status) Target() Status {
	switch s {
	case LoadingRAM:
		return RAM
	case LoadingVRAM:
		return VRAM
	}
	return s
}

// Upgrade returns the loading status of a load starting from s.
func (s Status) Upgrade() Status {
	switch s {
	case Unloaded:
		return LoadingRAM
	case RAM:
		return LoadingVRAM
	}
	return s
}

// AtLeast reports whether a stable status is s or more loaded.
func (s Status) AtLeast(o Status) bool {
	if s.IsLoading() || s == Absent {
		return false
	}
	return s >= o
}

func (s Status) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case RAM:
		return "ram"
	case VRAM:
		return "vram"
	case LoadingRAM:
		return "loading-ram"
	case LoadingVRAM:
		return "loading-vram"
	case Absent:
		return "absent"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Chunk is an immutable triangle list indexing into a fragment's vertex
// buckets.
type Chunk struct {
	Indices []uint16
}

// NewChunk narrows an index list to 16 bits. The cap is on the referenced
// vertex range, not the list length: a chunk may hold any number of triangles
// as long as every vertex it uses fits in a uint16.
func NewChunk(indices []int) (*Chunk, error) {
	out := make([]uint16, len(indices))
	for i, v := range indices {
		if v < 0 || v > MaxVertexIndex {
			return nil, fmt.Errorf("%w: vertex %d", ErrIndexOverflow, v)
		}
		out[i] = uint16(v)
	}
	return &Chunk{Indices: out}, nil
}

// Triangles returns the number of triangles.
func (c *Chunk) Triangles() int {
	return len(c.Indices) / 3
}
