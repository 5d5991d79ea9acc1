package debug

import (
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/pkg/geom"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

func TestAppendBoxLines(t *testing.T) {
	b := geom.AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{2, 3, 4}}
	v := AppendBoxLines(nil, b, 0.5)
	if len(v) != BoxLineVertices*3 {
		t.Fatalf("got %d floats, want %d", len(v), BoxLineVertices*3)
	}
	for i := 0; i < len(v); i += 3 {
		p := mgl32.Vec3{v[i], v[i+1], v[i+2]}
		for k, want := range [][2]float32{{-0.5, 2.5}, {-0.5, 3.5}, {-0.5, 4.5}} {
			if p[k] != want[0] && p[k] != want[1] {
				t.Fatalf("vertex %d = %v is not a padded corner", i/3, p)
			}
		}
	}
	// Every edge changes exactly one axis.
	for i := 0; i < len(v); i += 6 {
		changed := 0
		for k := 0; k < 3; k++ {
			if v[i+k] != v[i+3+k] {
				changed++
			}
		}
		if changed != 1 {
			t.Errorf("edge %d changes %d axes", i/6, changed)
		}
	}
}

func TestChunkBoundsLines(t *testing.T) {
	ct := lod.NewChunkedTerrain(64)
	id := terrain.FragmentID{X: 1}
	meta := terrain.FragmentMeta{Resolution: 2, Size: 5, Width: 64, BucketSizes: []int{4, 9}}
	records := make([]terrain.ChunkRecord, 5)
	for i := range records {
		records[i].Node = quadtree.Index(i)
		records[i].Bounds = geom.AABB{Min: mgl32.Vec3{64, 0, 0}, Max: mgl32.Vec3{128, 10, 64}}
	}
	f, err := terrain.NewFragment(id, meta, records)
	if err != nil {
		t.Fatal(err)
	}
	ct.Insert(f)

	list := lod.RenderList{
		{Fragment: id, Node: 1},
		{Fragment: id, Node: 2},
		{Fragment: terrain.FragmentID{X: 7}, Node: 0},
	}
	if got := len(ChunkBoundsLines(ct, list, 0)); got != 2*BoxLineVertices*3 {
		t.Errorf("got %d floats, want two boxes", got)
	}
}

func TestScreenshotFlipsRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	s := NewScreenshots(dir, "terrain")
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }

	// Bottom row red, top row blue, as GL returns them.
	pixels := []byte{
		255, 0, 0, 255, 255, 0, 0, 255,
		0, 0, 255, 255, 0, 0, 255, 255,
	}
	path, err := s.SavePixels(pixels, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, "terrain_2024-05-01_12-30-00.000.png") {
		t.Errorf("path = %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if r, _, b, _ := img.At(0, 0).RGBA(); b == 0 || r != 0 {
		t.Errorf("top-left pixel should be blue")
	}
	if r, _, b, _ := img.At(0, 1).RGBA(); r == 0 || b != 0 {
		t.Errorf("bottom-left pixel should be red")
	}

	if _, err := s.SavePixels(pixels[:4], 2, 2); err == nil {
		t.Error("expected size mismatch error")
	}
}
