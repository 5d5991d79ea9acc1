// Package debug provides debug visualization utilities.
package debug

import (
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/pkg/geom"
)

// BoxLineVertices is the number of line vertices per box (12 edges × 2).
const BoxLineVertices = 24

// DefaultBoxPadding keeps box edges from z-fighting with flat terrain.
const DefaultBoxPadding = 0.25

// AppendBoxLines appends the edges of b grown by pad as [x, y, z] line
// vertex pairs.
func AppendBoxLines(dst []float32, b geom.AABB, pad float32) []float32 {
	minX, minY, minZ := b.Min[0]-pad, b.Min[1]-pad, b.Min[2]-pad
	maxX, maxY, maxZ := b.Max[0]+pad, b.Max[1]+pad, b.Max[2]+pad
	return append(dst,
		// Bottom face
		minX, minY, minZ, maxX, minY, minZ,
		maxX, minY, minZ, maxX, minY, maxZ,
		maxX, minY, maxZ, minX, minY, maxZ,
		minX, minY, maxZ, minX, minY, minZ,
		// Top face
		minX, maxY, minZ, maxX, maxY, minZ,
		maxX, maxY, minZ, maxX, maxY, maxZ,
		maxX, maxY, maxZ, minX, maxY, maxZ,
		minX, maxY, maxZ, minX, maxY, minZ,
		// Vertical edges
		minX, minY, minZ, minX, maxY, minZ,
		maxX, minY, minZ, maxX, maxY, minZ,
		maxX, minY, maxZ, maxX, maxY, maxZ,
		minX, minY, maxZ, minX, maxY, maxZ,
	)
}

// ChunkBoundsLines returns the wireframe of every chunk in list. Chunks whose
// fragment was evicted since the list was built are skipped.
func ChunkBoundsLines(t *lod.ChunkedTerrain, list lod.RenderList, pad float32) []float32 {
	out := make([]float32, 0, len(list)*BoxLineVertices*3)
	for _, id := range list {
		d, err := t.Data(id)
		if err != nil || d.Bounds.IsEmpty() {
			continue
		}
		out = AppendBoxLines(out, d.Bounds, pad)
	}
	return out
}
