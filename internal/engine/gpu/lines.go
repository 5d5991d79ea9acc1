package gpu

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/internal/engine/gpu/shaders"
	"github.com/Faultbox/midgard-terrain/internal/engine/shader"
)

// LineRenderer draws world space line lists, used for chunk bounds overlays.
type LineRenderer struct {
	program     uint32
	locViewProj int32
	locColor    int32

	vao, vbo uint32
	capacity int // floats the buffer can hold
}

// NewLineRenderer compiles the line program. Call on the render thread.
func NewLineRenderer() (*LineRenderer, error) {
	program, err := shader.CompileProgram(shaders.LinesVertexShader, shaders.LinesFragmentShader)
	if err != nil {
		return nil, fmt.Errorf("lines shader: %w", err)
	}
	r := &LineRenderer{
		program:     program,
		locViewProj: shader.GetUniform(program, "uViewProj"),
		locColor:    shader.GetUniform(program, "uColor"),
	}

	gl.GenVertexArrays(1, &r.vao)
	gl.BindVertexArray(r.vao)
	gl.GenBuffers(1, &r.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.vbo)
	gl.VertexAttribPointer(0, 3, gl.FLOAT, false, 3*4, nil)
	gl.EnableVertexAttribArray(0)
	gl.BindVertexArray(0)
	return r, nil
}

// Draw renders vertices as [x, y, z] pairs of line endpoints.
func (r *LineRenderer) Draw(vertices []float32, viewProj mgl32.Mat4, color mgl32.Vec3) {
	if len(vertices) < 6 {
		return
	}

	gl.BindBuffer(gl.ARRAY_BUFFER, r.vbo)
	if len(vertices) > r.capacity {
		r.capacity = len(vertices) * 2
		gl.BufferData(gl.ARRAY_BUFFER, r.capacity*4, nil, gl.STREAM_DRAW)
	}
	gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(vertices)*4, unsafe.Pointer(&vertices[0]))

	gl.UseProgram(r.program)
	gl.UniformMatrix4fv(r.locViewProj, 1, false, &viewProj[0])
	gl.Uniform3f(r.locColor, color[0], color[1], color[2])
	gl.BindVertexArray(r.vao)
	gl.DrawArrays(gl.LINES, 0, int32(len(vertices)/3))
	gl.BindVertexArray(0)
	gl.UseProgram(0)
}

// Close frees the GL objects.
func (r *LineRenderer) Close() {
	if r.vbo != 0 {
		gl.DeleteBuffers(1, &r.vbo)
		r.vbo = 0
	}
	if r.vao != 0 {
		gl.DeleteVertexArrays(1, &r.vao)
		r.vao = 0
	}
	if r.program != 0 {
		gl.DeleteProgram(r.program)
		r.program = 0
	}
}
