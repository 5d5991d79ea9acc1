// Package geom provides bounding volumes on top of mgl32.
package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Empty returns an inverted box that any Extend call will replace.
func Empty() AABB {
	return AABB{
		Min: mgl32.Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
		Max: mgl32.Vec3{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
	}
}

// IsEmpty reports whether the box contains no point.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Extend grows the box to contain p.
func (b *AABB) Extend(p mgl32.Vec3) {
	for k := 0; k < 3; k++ {
		if p[k] < b.Min[k] {
			b.Min[k] = p[k]
		}
		if p[k] > b.Max[k] {
			b.Max[k] = p[k]
		}
	}
}

// Union returns the smallest box containing both.
func (b AABB) Union(o AABB) AABB {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	b.Extend(o.Min)
	b.Extend(o.Max)
	return b
}

// Center returns the box centre.
func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Contains reports whether p lies inside or on the box.
func (b AABB) Contains(p mgl32.Vec3) bool {
	for k := 0; k < 3; k++ {
		if p[k] < b.Min[k] || p[k] > b.Max[k] {
			return false
		}
	}
	return true
}

// Distance returns the shortest distance from p to the box, 0 inside it.
func (b AABB) Distance(p mgl32.Vec3) float32 {
	var sq float32
	for k := 0; k < 3; k++ {
		var d float32
		switch {
		case p[k] < b.Min[k]:
			d = b.Min[k] - p[k]
		case p[k] > b.Max[k]:
			d = p[k] - b.Max[k]
		}
		sq += d * d
	}
	return math32.Sqrt(sq)
}

// DistanceXZ is Distance projected onto the ground plane.
func (b AABB) DistanceXZ(p mgl32.Vec3) float32 {
	var dx, dz float32
	switch {
	case p[0] < b.Min[0]:
		dx = b.Min[0] - p[0]
	case p[0] > b.Max[0]:
		dx = p[0] - b.Max[0]
	}
	switch {
	case p[2] < b.Min[2]:
		dz = b.Min[2] - p[2]
	case p[2] > b.Max[2]:
		dz = p[2] - b.Max[2]
	}
	return math32.Sqrt(dx*dx + dz*dz)
}
