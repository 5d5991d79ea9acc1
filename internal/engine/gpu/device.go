// Package gpu owns the graphics-side copies of terrain chunks: vertex and
// index buffers, the render-thread request queue and the VRAM load strategy.
package gpu

import (
	"errors"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// GPU errors.
var (
	ErrQueueFull   = errors.New("gpu: request queue full")
	ErrQueueClosed = errors.New("gpu: request queue closed")
	ErrEmptyUpload = errors.New("gpu: empty upload")
	ErrNotResident = errors.New("gpu: chunk not resident")
)

// Handle identifies a device buffer. Zero is never a valid handle.
type Handle uint32

// Device is the subset of a graphics API the terrain needs. Every method must
// be called on the render thread.
type Device interface {
	// UploadVertices creates a vertex array holding verts.
	UploadVertices(verts []terrain.Vertex) (Handle, error)
	// UploadIndices creates an index buffer holding a triangle list.
	UploadIndices(indices []uint16) (Handle, error)
	// Release frees a buffer created by either upload.
	Release(h Handle)
	// DrawIndexed draws count indices from ib using the vertex array vb.
	DrawIndexed(vb, ib Handle, count int)
}
