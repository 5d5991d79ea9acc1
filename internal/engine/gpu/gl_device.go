package gpu

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// Vertex attribute locations used by the terrain shader.
const (
	attribXZ     = 0
	attribHeight = 1
	attribNormal = 2
)

// GLDevice implements Device with OpenGL 4.1 core. gl.Init must have run on
// the calling thread.
type GLDevice struct {
	// element buffers, keyed by their handle
	ebos map[Handle]uint32
	// vertex arrays own one vertex buffer each
	vbos map[Handle]uint32
	// element buffer currently attached to each vertex array
	bound map[Handle]Handle
}

// NewGLDevice creates a device on the current GL context.
func NewGLDevice() *GLDevice {
	return &GLDevice{
		ebos:  make(map[Handle]uint32),
		vbos:  make(map[Handle]uint32),
		bound: make(map[Handle]Handle),
	}
}

// UploadVertices implements Device.
func (d *GLDevice) UploadVertices(verts []terrain.Vertex) (Handle, error) {
	if len(verts) == 0 {
		return 0, ErrEmptyUpload
	}

	var vao, vbo uint32
	gl.GenVertexArrays(1, &vao)
	gl.BindVertexArray(vao)

	gl.GenBuffers(1, &vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(verts)*terrain.VertexSize, unsafe.Pointer(&verts[0]), gl.STATIC_DRAW)

	// X, Z quantised to the fragment square
	gl.VertexAttribPointerWithOffset(attribXZ, 2, gl.UNSIGNED_SHORT, true, terrain.VertexSize, 0)
	gl.EnableVertexAttribArray(attribXZ)

	gl.VertexAttribPointerWithOffset(attribHeight, 1, gl.FLOAT, false, terrain.VertexSize, 4)
	gl.EnableVertexAttribArray(attribHeight)

	// NX, NZ as snorm16, NY rebuilt in the shader
	gl.VertexAttribPointerWithOffset(attribNormal, 2, gl.SHORT, true, terrain.VertexSize, 8)
	gl.EnableVertexAttribArray(attribNormal)

	gl.BindVertexArray(0)
	if e := gl.GetError(); e != gl.NO_ERROR {
		gl.DeleteBuffers(1, &vbo)
		gl.DeleteVertexArrays(1, &vao)
		return 0, fmt.Errorf("upload %d vertices: gl error 0x%x", len(verts), e)
	}

	h := Handle(vao)
	d.vbos[h] = vbo
	return h, nil
}

// UploadIndices implements Device.
func (d *GLDevice) UploadIndices(indices []uint16) (Handle, error) {
	if len(indices) == 0 {
		return 0, ErrEmptyUpload
	}

	var ebo uint32
	gl.GenBuffers(1, &ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*2, unsafe.Pointer(&indices[0]), gl.STATIC_DRAW)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, 0)
	if e := gl.GetError(); e != gl.NO_ERROR {
		gl.DeleteBuffers(1, &ebo)
		return 0, fmt.Errorf("upload %d indices: gl error 0x%x", len(indices), e)
	}

	// Element buffer handles live above the vertex array range.
	h := Handle(ebo) | 1<<31
	d.ebos[h] = ebo
	return h, nil
}

// Release implements Device.
func (d *GLDevice) Release(h Handle) {
	if ebo, ok := d.ebos[h]; ok {
		gl.DeleteBuffers(1, &ebo)
		delete(d.ebos, h)
		for vb, ib := range d.bound {
			if ib == h {
				delete(d.bound, vb)
			}
		}
		return
	}
	if vbo, ok := d.vbos[h]; ok {
		vao := uint32(h)
		gl.DeleteBuffers(1, &vbo)
		gl.DeleteVertexArrays(1, &vao)
		delete(d.vbos, h)
		delete(d.bound, h)
	}
}

// DrawIndexed implements Device.
func (d *GLDevice) DrawIndexed(vb, ib Handle, count int) {
	ebo, ok := d.ebos[ib]
	if !ok {
		return
	}
	gl.BindVertexArray(uint32(vb))
	if d.bound[vb] != ib {
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ebo)
		d.bound[vb] = ib
	}
	gl.DrawElements(gl.TRIANGLES, int32(count), gl.UNSIGNED_SHORT, nil)
	gl.BindVertexArray(0)
}
