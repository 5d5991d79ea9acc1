// Package lighting provides lighting utilities for 3D rendering.
package lighting

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// SunDirection converts an azimuth around the Y axis (degrees, 0 towards +Z)
// and an elevation above the horizon (degrees, clamped to 0..90) into a unit
// vector pointing towards the sun.
func SunDirection(azimuth, elevation float32) mgl32.Vec3 {
	elevation = mgl32.Clamp(elevation, 0, 90)
	az := mgl32.DegToRad(azimuth)
	el := mgl32.DegToRad(elevation)

	ce := math32.Cos(el)
	return mgl32.Vec3{
		ce * math32.Sin(az),
		math32.Sin(el),
		ce * math32.Cos(az),
	}
}
