package geom

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestAABBDistance(t *testing.T) {
	box := AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{10, 2, 10}}

	tests := []struct {
		name string
		p    mgl32.Vec3
		want float32
	}{
		{"inside", mgl32.Vec3{5, 1, 5}, 0},
		{"on face", mgl32.Vec3{10, 1, 5}, 0},
		{"above", mgl32.Vec3{5, 5, 5}, 3},
		{"corner", mgl32.Vec3{13, 6, 10}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := box.Distance(tt.p)
			if got < tt.want-1e-4 || got > tt.want+1e-4 {
				t.Errorf("Distance(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestAABBDistanceXZIgnoresHeight(t *testing.T) {
	box := AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{10, 2, 10}}
	if d := box.DistanceXZ(mgl32.Vec3{5, 100, 5}); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
	if d := box.DistanceXZ(mgl32.Vec3{-3, 0, 14}); d < 4.999 || d > 5.001 {
		t.Errorf("expected 5, got %v", d)
	}
}

func TestAABBExtendUnion(t *testing.T) {
	b := Empty()
	if !b.IsEmpty() {
		t.Fatal("Empty() should be empty")
	}
	b.Extend(mgl32.Vec3{1, 2, 3})
	b.Extend(mgl32.Vec3{-1, 5, 0})
	if b.Min != (mgl32.Vec3{-1, 2, 0}) || b.Max != (mgl32.Vec3{1, 5, 3}) {
		t.Errorf("unexpected box %+v", b)
	}
	u := b.Union(Empty())
	if u != b {
		t.Errorf("union with empty changed box: %+v", u)
	}
	if !b.Contains(b.Center()) {
		t.Error("box should contain its centre")
	}
}
