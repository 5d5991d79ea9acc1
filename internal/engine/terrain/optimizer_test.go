package terrain

import (
	"math/rand"
	"testing"

	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// randomHeightmap returns a deterministic bumpy heightmap of 2^n+1 samples.
func randomHeightmap(t *testing.T, n int, seed int64, amp float32) *Heightmap {
	t.Helper()
	hm, err := NewHeightmap(1<<n + 1)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range hm.Heights {
		hm.Heights[i] = rng.Float32() * amp
	}
	return hm
}

func newOptimizer(t *testing.T, hm *Heightmap) *Optimizer {
	t.Helper()
	opt, err := NewOptimizer(hm)
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}
	return opt
}

// signedAreas returns twice the signed area of every triangle in grid units.
func signedAreas(size int, tris []int) []int {
	out := make([]int, 0, len(tris)/3)
	for k := 0; k+2 < len(tris); k += 3 {
		ax, ay := tris[k]%size, tris[k]/size
		bx, by := tris[k+1]%size, tris[k+1]/size
		cx, cy := tris[k+2]%size, tris[k+2]/size
		out = append(out, (bx-ax)*(cy-ay)-(by-ay)*(cx-ax))
	}
	return out
}

func totalArea2(t *testing.T, size int, tris []int) int {
	t.Helper()
	sum := 0
	for _, a := range signedAreas(size, tris) {
		if a <= 0 {
			t.Fatalf("degenerate or flipped triangle (2A=%d)", a)
		}
		sum += a
	}
	return sum
}

func TestOptimizerRejectsBadSizes(t *testing.T) {
	for _, size := range []int{2, 4, 10, 16} {
		hm := &Heightmap{Size: size, Heights: make([]float32, size*size)}
		if _, err := NewOptimizer(hm); err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
}

func TestFlatHeightmapCollapses(t *testing.T) {
	hm, _ := NewHeightmap(17)
	opt := newOptimizer(t, hm)
	if opt.MaxError() != 0 {
		t.Fatalf("flat map should have zero error, got %v", opt.MaxError())
	}
	opt.GenerateLOD(0.5)
	if tris := opt.Triangulation(); len(tris) != 0 {
		t.Errorf("expected empty triangulation, got %d indices", len(tris))
	}
	opt.EnableLevel(0)
	if tris := opt.Triangulation(); len(tris) != 12 {
		t.Errorf("root-only mesh should have 4 triangles, got %d indices", len(tris))
	}
}

func TestRestrictionInvariant(t *testing.T) {
	hm := randomHeightmap(t, 5, 1, 40)
	opt := newOptimizer(t, hm)
	tree := opt.Tree()

	for _, e := range []float32{0, 1, 5, 12, 25, 100} {
		opt.GenerateLOD(e)
		for i := 0; i < tree.Len(); i++ {
			idx := quadtree.Index(i)
			node := tree.At(idx)
			n := &node.Value
			if n.enabled && idx != 0 {
				parent := &tree.At(node.Parent).Value
				if !parent.enabled {
					t.Fatalf("error %v: node %d enabled under disabled parent", e, i)
				}
				for _, side := range tree.Quadrant(idx).Sides() {
					if !parent.vertexEnabled[side] {
						t.Fatalf("error %v: node %d enabled but parent midpoint %v is not", e, i, side)
					}
				}
			}
			for d := quadtree.North; d <= quadtree.West; d++ {
				if !n.vertexEnabled[d] {
					continue
				}
				if !n.enabled {
					t.Fatalf("error %v: vertex %v of disabled node %d", e, d, i)
				}
				if nb := node.Neighbours[d]; nb != quadtree.None && !tree.At(nb).Value.vertexEnabled[d.Opposite()] {
					t.Fatalf("error %v: vertex %v of node %d not mirrored on %d", e, d, i, nb)
				}
			}
		}
	}
}

func TestEveryLargeErrorEnabled(t *testing.T) {
	hm := randomHeightmap(t, 4, 2, 30)
	opt := newOptimizer(t, hm)
	const e = 6
	opt.GenerateLOD(e)
	tree := opt.Tree()
	for i := 0; i < tree.Len(); i++ {
		n := &tree.At(quadtree.Index(i)).Value
		if n.centerError > e && !n.enabled {
			t.Errorf("node %d centre error %v not enabled", i, n.centerError)
		}
		for d, ve := range n.vertexErrors {
			if ve > e && !n.vertexEnabled[d] {
				t.Errorf("node %d vertex %d error %v not enabled", i, d, ve)
			}
		}
		if got := opt.ChunkError(quadtree.Index(i)); n.enabled && got > e {
			t.Errorf("node %d chunk error %v exceeds %v", i, got, e)
		}
	}
}

func TestTriangulationCoversSquare(t *testing.T) {
	hm := randomHeightmap(t, 5, 3, 40)
	opt := newOptimizer(t, hm)
	size := hm.Size
	cells := size - 1

	for _, e := range []float32{0, 2, 8, 20} {
		opt.GenerateLOD(e)
		opt.EnableLevel(0)
		if got := totalArea2(t, size, opt.Triangulation()); got != 2*cells*cells {
			t.Errorf("error %v: area %d, want %d", e, got, 2*cells*cells)
		}
	}
}

func TestChildrenCoverParent(t *testing.T) {
	hm := randomHeightmap(t, 4, 4, 25)
	opt := newOptimizer(t, hm)
	tree := opt.Tree()
	size := hm.Size

	for depth := 0; depth < tree.Resolution()-1; depth++ {
		opt.GenerateLOD(10)
		opt.EnableLevel(depth + 1)
		quadtree.ApplyToLevel(tree, depth, func(i quadtree.Index, node *quadtree.Node[optNode]) {
			_, _, s := opt.Bounds(i)
			whole := totalArea2(t, size, opt.TriangulateNode(i, nil))
			parts := 0
			for _, c := range node.Children {
				parts += totalArea2(t, size, opt.TriangulateNode(c, nil))
			}
			if whole != 2*s*s || parts != whole {
				t.Errorf("depth %d node %d: whole %d, children %d, square %d", depth, i, whole, parts, 2*s*s)
			}
		})
	}
}

// checkWatertight verifies every directed edge is matched by its reverse,
// except edges on the outer border of the square.
func checkWatertight(t *testing.T, size int, tris []int) {
	t.Helper()
	type edge struct{ a, b int }
	edges := make(map[edge]int)
	for k := 0; k+2 < len(tris); k += 3 {
		for e := 0; e < 3; e++ {
			edges[edge{tris[k+e], tris[k+(e+1)%3]}]++
		}
	}
	last := size - 1
	for ed, count := range edges {
		if count != 1 {
			t.Fatalf("edge %v used %d times", ed, count)
		}
		if edges[edge{ed.b, ed.a}] == 1 {
			continue
		}
		ax, ay := ed.a%size, ed.a/size
		bx, by := ed.b%size, ed.b/size
		if !((ax == bx && (ax == 0 || ax == last)) || (ay == by && (ay == 0 || ay == last))) {
			t.Fatalf("unmatched interior edge (%d,%d)-(%d,%d)", ax, ay, bx, by)
		}
	}
}

func TestTriangulationIsCrackFree(t *testing.T) {
	hm := randomHeightmap(t, 5, 5, 40)
	opt := newOptimizer(t, hm)
	for _, e := range []float32{0, 3, 9, 18} {
		opt.GenerateLOD(e)
		opt.EnableLevel(0)
		checkWatertight(t, hm.Size, opt.Triangulation())
	}
}

func TestGenerateLODMonotonic(t *testing.T) {
	hm := randomHeightmap(t, 6, 6, 60)
	opt := newOptimizer(t, hm)
	prevNodes, prevTris := -1, -1
	for _, e := range []float32{0, 0.5, 1, 2, 4, 8, 16, 32, 64} {
		opt.GenerateLOD(e)
		nodes := opt.EnabledCount()
		tris := len(opt.Triangulation()) / 3
		if prevNodes >= 0 && (nodes > prevNodes || tris > prevTris) {
			t.Errorf("error %v: %d nodes / %d tris, previous %d / %d", e, nodes, tris, prevNodes, prevTris)
		}
		prevNodes, prevTris = nodes, tris
	}
}

func TestTriangulationPath(t *testing.T) {
	hm := randomHeightmap(t, 3, 7, 20)
	opt := newOptimizer(t, hm)
	opt.GenerateLOD(0)

	whole := totalArea2(t, hm.Size, opt.Triangulation())
	sum := 0
	for q := quadtree.SW; q <= quadtree.NE; q++ {
		sum += totalArea2(t, hm.Size, opt.Triangulation(q))
	}
	if sum != whole {
		t.Errorf("quadrant areas %d, whole %d", sum, whole)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for a path below the leaves")
		}
	}()
	opt.Triangulation(quadtree.SW, quadtree.SW, quadtree.SW)
}

func TestRebuildReusesTree(t *testing.T) {
	opt := newOptimizer(t, randomHeightmap(t, 4, 8, 10))
	tree := opt.Tree()

	if err := opt.Rebuild(randomHeightmap(t, 4, 9, 10)); err != nil {
		t.Fatal(err)
	}
	if opt.Tree() != tree {
		t.Error("same size should keep the tree")
	}

	if err := opt.Rebuild(randomHeightmap(t, 3, 9, 10)); err != nil {
		t.Fatal(err)
	}
	if opt.Tree() == tree || opt.Resolution() != 3 {
		t.Error("new size should rebuild the tree")
	}

	flat, _ := NewHeightmap(9)
	if err := opt.Rebuild(flat); err != nil {
		t.Fatal(err)
	}
	if opt.MaxError() != 0 {
		t.Errorf("errors not recomputed: %v", opt.MaxError())
	}
}
