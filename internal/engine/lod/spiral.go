package lod

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// FragmentAt returns the id of the fragment containing a world position.
func FragmentAt(pos mgl32.Vec3, width float32) terrain.FragmentID {
	return terrain.FragmentID{
		X: int32(math32.Floor(pos[0] / width)),
		Y: int32(math32.Floor(pos[2] / width)),
	}
}

// Ring returns the fragments at Chebyshev distance r from center, walking the
// square counter-clockwise from its south-west corner.
func Ring(center terrain.FragmentID, r int) []terrain.FragmentID {
	if r == 0 {
		return []terrain.FragmentID{center}
	}
	x0, x1 := int(center.X)-r, int(center.X)+r
	y0, y1 := int(center.Y)-r, int(center.Y)+r
	out := make([]terrain.FragmentID, 0, 8*r)
	id := func(x, y int) terrain.FragmentID {
		return terrain.FragmentID{X: int32(x), Y: int32(y)}
	}

	for x := x0; x <= x1; x++ {
		out = append(out, id(x, y0))
	}
	for y := y0 + 1; y <= y1-1; y++ {
		out = append(out, id(x1, y))
	}
	for x := x1; x >= x0; x-- {
		out = append(out, id(x, y1))
	}
	for y := y1 - 1; y >= y0+1; y-- {
		out = append(out, id(x0, y))
	}
	return out
}

// Spiral visits rings around center until a whole ring has no fragment
// accepted by visit. It returns the number of rings walked.
func Spiral(center terrain.FragmentID, visit func(terrain.FragmentID) bool) int {
	for r := 0; ; r++ {
		found := 0
		for _, id := range Ring(center, r) {
			if visit(id) {
				found++
			}
		}
		if found == 0 {
			return r + 1
		}
	}
}
