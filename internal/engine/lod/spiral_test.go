package lod

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

func TestFragmentAt(t *testing.T) {
	tests := []struct {
		pos  mgl32.Vec3
		want terrain.FragmentID
	}{
		{mgl32.Vec3{0, 0, 0}, terrain.FragmentID{X: 0, Y: 0}},
		{mgl32.Vec3{99.9, 50, 0.1}, terrain.FragmentID{X: 0, Y: 0}},
		{mgl32.Vec3{100, 0, 250}, terrain.FragmentID{X: 1, Y: 2}},
		{mgl32.Vec3{-0.5, 0, -100}, terrain.FragmentID{X: -1, Y: -1}},
		{mgl32.Vec3{-100.5, 0, 0}, terrain.FragmentID{X: -2, Y: 0}},
	}
	for _, tt := range tests {
		if got := FragmentAt(tt.pos, 100); got != tt.want {
			t.Errorf("FragmentAt(%v) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestRing(t *testing.T) {
	center := terrain.FragmentID{X: 5, Y: -3}
	for r := 0; r <= 4; r++ {
		ring := Ring(center, r)
		want := 8 * r
		if r == 0 {
			want = 1
		}
		if len(ring) != want {
			t.Errorf("Ring(%d) has %d ids, want %d", r, len(ring), want)
		}

		seen := map[terrain.FragmentID]bool{}
		for _, id := range ring {
			if seen[id] {
				t.Errorf("Ring(%d) repeats %v", r, id)
			}
			seen[id] = true
			dx, dy := abs32(id.X-center.X), abs32(id.Y-center.Y)
			if max(dx, dy) != int32(r) {
				t.Errorf("Ring(%d) contains %v at distance %d", r, id, max(dx, dy))
			}
		}
	}

	first := Ring(center, 2)[0]
	if first != (terrain.FragmentID{X: 3, Y: -5}) {
		t.Errorf("Ring starts at %v, want the south-west corner", first)
	}
}

func TestSpiralStopsAfterEmptyRing(t *testing.T) {
	visited := 0
	rings := Spiral(terrain.FragmentID{}, func(id terrain.FragmentID) bool {
		visited++
		return abs32(id.X) <= 2 && abs32(id.Y) <= 2
	})
	if rings != 4 {
		t.Errorf("Spiral walked %d rings, want 4", rings)
	}
	if visited != 1+8+16+24 {
		t.Errorf("visited %d ids, want %d", visited, 1+8+16+24)
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
