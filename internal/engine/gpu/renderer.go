package gpu

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/internal/engine/gpu/shaders"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/shader"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// FrameParams are the per-frame inputs of the terrain pass.
type FrameParams struct {
	ViewProj  mgl32.Mat4
	CameraPos mgl32.Vec3
	LightDir  mgl32.Vec3
	FogColor  mgl32.Vec3
	FogFar    float32
	// ColorByLevel tints chunks by tree depth.
	ColorByLevel bool
}

// ChunkRenderer draws a render list from the resource table.
type ChunkRenderer struct {
	program uint32

	locViewProj  int32
	locOrigin    int32
	locWidth     int32
	locLightDir  int32
	locCameraPos int32
	locFogColor  int32
	locFogFar    int32
	locTint      int32

	terrain *lod.ChunkedTerrain
	res     *Resources

	// Drawn and Triangles count the last frame.
	Drawn     int
	Triangles int
}

// NewChunkRenderer compiles the terrain program. Call on the render thread.
func NewChunkRenderer(t *lod.ChunkedTerrain, res *Resources) (*ChunkRenderer, error) {
	program, err := shader.CompileProgram(shaders.TerrainVertexShader, shaders.TerrainFragmentShader)
	if err != nil {
		return nil, fmt.Errorf("terrain shader: %w", err)
	}
	return &ChunkRenderer{
		program:      program,
		locViewProj:  shader.GetUniform(program, "uViewProj"),
		locOrigin:    shader.GetUniform(program, "uOrigin"),
		locWidth:     shader.GetUniform(program, "uWidth"),
		locLightDir:  shader.GetUniform(program, "uLightDir"),
		locCameraPos: shader.GetUniform(program, "uCameraPos"),
		locFogColor:  shader.GetUniform(program, "uFogColor"),
		locFogFar:    shader.GetUniform(program, "uFogFar"),
		locTint:      shader.GetUniform(program, "uTint"),
		terrain:      t,
		res:          res,
	}, nil
}

// Render draws every resident chunk of list.
func (r *ChunkRenderer) Render(list lod.RenderList, p FrameParams) {
	r.Drawn, r.Triangles = 0, 0
	if len(list) == 0 {
		return
	}

	gl.UseProgram(r.program)
	gl.UniformMatrix4fv(r.locViewProj, 1, false, &p.ViewProj[0])
	light := p.LightDir.Normalize()
	gl.Uniform3f(r.locLightDir, light[0], light[1], light[2])
	gl.Uniform3f(r.locCameraPos, p.CameraPos[0], p.CameraPos[1], p.CameraPos[2])
	gl.Uniform3f(r.locFogColor, p.FogColor[0], p.FogColor[1], p.FogColor[2])
	gl.Uniform1f(r.locFogFar, p.FogFar)
	gl.Uniform3f(r.locTint, 1, 1, 1)

	var current *terrain.Fragment
	for _, id := range list {
		if current == nil || current.ID != id.Fragment {
			f, err := r.terrain.Fragment(id.Fragment)
			if err != nil {
				continue
			}
			current = f
			o := f.Origin()
			gl.Uniform3f(r.locOrigin, o[0], o[1], o[2])
			gl.Uniform1f(r.locWidth, f.Meta.Width)
		}
		if p.ColorByLevel {
			tint := levelTint(current.Tree().Depth(id.Node))
			gl.Uniform3f(r.locTint, tint[0], tint[1], tint[2])
		}
		if r.res.Draw(id) {
			r.Drawn++
			if d, err := current.Data(id.Node); err == nil {
				if c := d.Chunk(); c != nil {
					r.Triangles += c.Triangles()
				}
			}
		}
	}
	gl.UseProgram(0)
}

// Close deletes the program.
func (r *ChunkRenderer) Close() {
	if r.program != 0 {
		gl.DeleteProgram(r.program)
		r.program = 0
	}
}

var levelTints = []mgl32.Vec3{
	{1.0, 0.6, 0.6},
	{1.0, 0.9, 0.5},
	{0.6, 1.0, 0.6},
	{0.5, 0.9, 1.0},
	{0.7, 0.6, 1.0},
	{1.0, 0.6, 1.0},
}

func levelTint(depth int) mgl32.Vec3 {
	return levelTints[depth%len(levelTints)]
}
