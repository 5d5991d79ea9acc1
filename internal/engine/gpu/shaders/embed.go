// Package shaders provides embedded GLSL shader sources.
package shaders

import _ "embed"

// TerrainVertexShader expands compressed terrain vertices into world space.
//
//go:embed terrain.vert
var TerrainVertexShader string

// TerrainFragmentShader shades terrain by slope with distance fog.
//
//go:embed terrain.frag
var TerrainFragmentShader string

// LinesVertexShader transforms world space line vertices.
//
//go:embed lines.vert
var LinesVertexShader string

// LinesFragmentShader draws lines in a flat color.
//
//go:embed lines.frag
var LinesFragmentShader string
