package terrain

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// VertexSize is the packed size of a Vertex in bytes.
const VertexSize = 12

// Vertex is the compressed terrain vertex: x/z quantised over the fragment,
// a float height and the horizontal part of the normal. The vertical normal
// component is implied since terrain normals point up.
type Vertex struct {
	X, Z   uint16
	Y      float32
	NX, NZ int16
}

// EncodeVertex packs a fragment-local position. fx and fz are in [0,1].
func EncodeVertex(fx, fz, y float32, normal mgl32.Vec3) Vertex {
	return Vertex{
		X:  quantize(fx),
		Z:  quantize(fz),
		Y:  y,
		NX: snorm16(normal[0]),
		NZ: snorm16(normal[2]),
	}
}

// Position returns the world position for a fragment with the given origin
// and width.
func (v Vertex) Position(origin mgl32.Vec3, width float32) mgl32.Vec3 {
	return mgl32.Vec3{
		origin[0] + float32(v.X)/0xFFFF*width,
		origin[1] + v.Y,
		origin[2] + float32(v.Z)/0xFFFF*width,
	}
}

// Normal reconstructs the unit normal.
func (v Vertex) Normal() mgl32.Vec3 {
	nx := float32(v.NX) / 32767
	nz := float32(v.NZ) / 32767
	ny := math32.Sqrt(math32.Max(0, 1-nx*nx-nz*nz))
	return mgl32.Vec3{nx, ny, nz}
}

func quantize(f float32) uint16 {
	return uint16(math32.Floor(clampf(f, 0, 1)*0xFFFF + 0.5))
}

// snorm16 rounds half away from zero so that f and -f encode symmetrically.
func snorm16(f float32) int16 {
	v := clampf(f, -1, 1) * 32767
	if v < 0 {
		return -int16(math32.Floor(-v + 0.5))
	}
	return int16(math32.Floor(v + 0.5))
}
