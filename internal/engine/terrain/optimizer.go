package terrain

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// optNode is the optimizer payload of one quad-tree node. The node covers the
// square [x, x+size] × [y, y+size] of heightmap samples.
type optNode struct {
	x, y, size int32

	vertexErrors [4]float32 // edge midpoints, indexed by quadtree.Direction
	quadErrors   [4]float32 // child centres, indexed by quadtree.Quadrant
	centerError  float32
	maxError     float32

	enabled       bool
	vertexEnabled [4]bool
}

// Optimizer computes restricted quad-tree triangulations of a heightmap.
//
// A node is enabled when its centre vertex is part of the mesh; a vertex is
// enabled when an edge midpoint of its node is. Enabling follows the
// restriction rule so the produced meshes never contain T-junctions.
type Optimizer struct {
	hm    *Heightmap
	tree  *quadtree.Tree[optNode]
	queue []work
}

// work is a pending enable request. dir < 0 targets the node itself.
type work struct {
	node quadtree.Index
	dir  int8
}

// NewOptimizer builds the quad-tree for a heightmap of 2^n+1 samples and
// computes its errors.
func NewOptimizer(hm *Heightmap) (*Optimizer, error) {
	o := &Optimizer{}
	if err := o.Rebuild(hm); err != nil {
		return nil, err
	}
	return o, nil
}

// Rebuild switches to a new heightmap. The tree is reused when the size did
// not change.
func (o *Optimizer) Rebuild(hm *Heightmap) error {
	n, err := hm.Resolution()
	if err != nil {
		return err
	}
	if n > quadtree.MaxResolution {
		return fmt.Errorf("%w: resolution %d exceeds %d", ErrHeightmapSize, n, quadtree.MaxResolution)
	}

	if o.tree == nil || o.tree.Resolution() != n {
		tree, err := quadtree.New[optNode](n)
		if err != nil {
			return err
		}
		o.tree = tree
		o.place(0, 0, 0, int32(hm.Size-1))
	}
	o.hm = hm
	o.CalculateMaxErrors()
	return nil
}

// place assigns square geometry top-down.
func (o *Optimizer) place(i quadtree.Index, x, y, size int32) {
	n := o.tree.At(i)
	n.Value.x, n.Value.y, n.Value.size = x, y, size
	if n.Leaf() {
		return
	}
	h := size / 2
	for q, c := range n.Children {
		cx, cy := x, y
		if quadtree.Quadrant(q).East() {
			cx += h
		}
		if quadtree.Quadrant(q).North() {
			cy += h
		}
		o.place(c, cx, cy, h)
	}
}

// Heightmap returns the current heightmap.
func (o *Optimizer) Heightmap() *Heightmap { return o.hm }

// Resolution returns the depth of the optimizer tree.
func (o *Optimizer) Resolution() int { return o.tree.Resolution() }

func (o *Optimizer) h(x, y int32) float32 {
	return o.hm.Heights[int(y)*o.hm.Size+int(x)]
}

// corner returns the grid coordinate of the corner of node n in quadrant q.
func corner(n *optNode, q quadtree.Quadrant) (int32, int32) {
	x, y := n.x, n.y
	if q.East() {
		x += n.size
	}
	if q.North() {
		y += n.size
	}
	return x, y
}

// midpoint returns the grid coordinate of the midpoint of side d.
func midpoint(n *optNode, d quadtree.Direction) (int32, int32) {
	h := n.size / 2
	switch d {
	case quadtree.North:
		return n.x + h, n.y + n.size
	case quadtree.East:
		return n.x + n.size, n.y + h
	case quadtree.South:
		return n.x + h, n.y
	default:
		return n.x, n.y + h
	}
}

// CalculateMaxErrors recomputes every error and propagates subtree maxima
// bottom-up.
func (o *Optimizer) CalculateMaxErrors() {
	for level := 0; level < o.tree.Resolution(); level++ {
		quadtree.ApplyToLevel(o.tree, level, func(i quadtree.Index, node *quadtree.Node[optNode]) {
			n := &node.Value
			h := n.size / 2
			mx, my := n.x+h, n.y+h
			center := o.h(mx, my)

			if i == 0 {
				d1 := math32.Abs(center - (o.h(n.x, n.y)+o.h(n.x+n.size, n.y+n.size))/2)
				d2 := math32.Abs(center - (o.h(n.x, n.y+n.size)+o.h(n.x+n.size, n.y))/2)
				n.centerError = math32.Max(d1, d2)
			} else {
				// Parents are visited first.
				parent := &o.tree.At(node.Parent).Value
				n.centerError = parent.quadErrors[o.tree.Quadrant(i)]
			}

			for d := quadtree.North; d <= quadtree.West; d++ {
				ends := quadtree.Border(d)
				ax, ay := corner(n, ends[0])
				bx, by := corner(n, ends[1])
				px, py := midpoint(n, d)
				n.vertexErrors[d] = math32.Abs(o.h(px, py) - (o.h(ax, ay)+o.h(bx, by))/2)
			}

			n.quadErrors = [4]float32{}
			if node.Leaf() {
				return
			}
			for q := range node.Children {
				cx, cy := corner(n, quadtree.Quadrant(q))
				// The child centre halves the diagonal from our centre to the corner.
				n.quadErrors[q] = math32.Abs(o.h((mx+cx)/2, (my+cy)/2) - (center+o.h(cx, cy))/2)
			}
		})
	}
	o.propagate(0)
}

// propagate stores and returns the subtree maximum of node i.
func (o *Optimizer) propagate(i quadtree.Index) float32 {
	node := o.tree.At(i)
	n := &node.Value
	m := n.centerError
	for _, e := range n.vertexErrors {
		m = math32.Max(m, e)
	}
	if !node.Leaf() {
		for q, c := range node.Children {
			m = math32.Max(m, n.quadErrors[q])
			m = math32.Max(m, o.propagate(c))
		}
	}
	n.maxError = m
	return m
}

// MaxError returns the largest error anywhere in the heightmap.
func (o *Optimizer) MaxError() float32 {
	return o.tree.Root().Value.maxError
}

// reset clears all enable flags.
func (o *Optimizer) reset() {
	for i := 0; i < o.tree.Len(); i++ {
		n := &o.tree.At(quadtree.Index(i)).Value
		n.enabled = false
		n.vertexEnabled = [4]bool{}
	}
}

// GenerateLOD enables every node and vertex whose error exceeds maxError,
// plus everything the restriction rule requires for a crack-free mesh.
func (o *Optimizer) GenerateLOD(maxError float32) {
	o.reset()
	o.tree.Walk(0, func(i quadtree.Index, node *quadtree.Node[optNode]) bool {
		n := &node.Value
		if n.maxError <= maxError {
			return false
		}
		if n.centerError > maxError {
			o.enqueue(work{node: i, dir: -1})
		}
		for d, e := range n.vertexErrors {
			if e > maxError {
				o.enqueue(work{node: i, dir: int8(d)})
			}
		}
		return true
	})
	o.flush()
}

// EnableLevel forces every node at the given depth on, keeping the mesh
// restricted. Used to make chunk borders line up with tree squares.
func (o *Optimizer) EnableLevel(depth int) {
	quadtree.ApplyToLevel(o.tree, depth, func(i quadtree.Index, _ *quadtree.Node[optNode]) {
		o.enqueue(work{node: i, dir: -1})
	})
	o.flush()
}

func (o *Optimizer) enqueue(w work) {
	o.queue = append(o.queue, w)
}

// flush drains the work queue breadth-first. Every node and vertex flag is set
// at most once, which bounds the loop by the tree size.
func (o *Optimizer) flush() {
	for head := 0; head < len(o.queue); head++ {
		w := o.queue[head]
		node := o.tree.At(w.node)
		n := &node.Value

		if w.dir < 0 {
			if n.enabled {
				continue
			}
			n.enabled = true
			if w.node == 0 {
				continue
			}
			q := o.tree.Quadrant(w.node)
			o.enqueue(work{node: node.Parent, dir: -1})
			for _, side := range q.Sides() {
				o.enqueue(work{node: node.Parent, dir: int8(side)})
			}
			continue
		}

		d := quadtree.Direction(w.dir)
		if n.vertexEnabled[d] {
			continue
		}
		n.vertexEnabled[d] = true
		o.enqueue(work{node: w.node, dir: -1})
		if nb := node.Neighbours[d]; nb != quadtree.None {
			o.enqueue(work{node: nb, dir: int8(d.Opposite())})
		}
	}
	o.queue = o.queue[:0]
}

// Enabled reports whether node i is part of the current mesh.
func (o *Optimizer) Enabled(i quadtree.Index) bool {
	return o.tree.At(i).Value.enabled
}

// VertexEnabled reports whether the midpoint on side d of node i is enabled.
func (o *Optimizer) VertexEnabled(i quadtree.Index, d quadtree.Direction) bool {
	return o.tree.At(i).Value.vertexEnabled[d]
}

// EnabledCount returns the number of enabled nodes.
func (o *Optimizer) EnabledCount() int {
	count := 0
	for i := 0; i < o.tree.Len(); i++ {
		if o.tree.At(quadtree.Index(i)).Value.enabled {
			count++
		}
	}
	return count
}

// EnabledAtDepth reports whether any node at the given depth is enabled.
func (o *Optimizer) EnabledAtDepth(depth int) bool {
	first, end := o.tree.LevelRange(depth)
	for i := first; i < end; i++ {
		if o.tree.At(i).Value.enabled {
			return true
		}
	}
	return false
}

// ChunkError bounds the height error of node i's current mesh: the largest
// error among the vertices and subtrees it leaves out.
func (o *Optimizer) ChunkError(i quadtree.Index) float32 {
	var worst float32
	o.tree.Walk(i, func(_ quadtree.Index, node *quadtree.Node[optNode]) bool {
		n := &node.Value
		if !n.enabled {
			worst = math32.Max(worst, n.maxError)
			return false
		}
		for d, on := range n.vertexEnabled {
			if !on {
				worst = math32.Max(worst, n.vertexErrors[d])
			}
		}
		return true
	})
	return worst
}

// Tree exposes the optimizer quad-tree structure.
func (o *Optimizer) Tree() *quadtree.Tree[optNode] { return o.tree }

// Bounds returns the sample square of node i as (x, y, size).
func (o *Optimizer) Bounds(i quadtree.Index) (x, y, size int) {
	n := &o.tree.At(i).Value
	return int(n.x), int(n.y), int(n.size)
}

// Triangulation returns the triangle list of the node reached by path, or of
// the whole heightmap for an empty path. Indices address heightmap samples
// (y*size+x). The result is empty when the node is disabled.
func (o *Optimizer) Triangulation(path ...quadtree.Quadrant) []int {
	i, err := o.tree.Find(path...)
	if err != nil {
		panic(fmt.Sprintf("terrain: triangulation below the tree: %v", err))
	}
	return o.TriangulateNode(i, nil)
}

// TriangulateNode appends the triangles of node i to dst.
func (o *Optimizer) TriangulateNode(i quadtree.Index, dst []int) []int {
	node := o.tree.At(i)
	n := &node.Value
	if !n.enabled {
		return dst
	}
	h := n.size / 2
	m := o.index(n.x+h, n.y+h)

	// Walk the sides counter-clockwise: S, E, N, W.
	for _, d := range [4]quadtree.Direction{quadtree.South, quadtree.East, quadtree.North, quadtree.West} {
		qa, qb := sideQuadrants(d)
		ax, ay := corner(n, qa)
		bx, by := corner(n, qb)
		a, b := o.index(ax, ay), o.index(bx, by)

		if !n.vertexEnabled[d] {
			dst = append(dst, m, a, b)
			continue
		}
		px, py := midpoint(n, d)
		p := o.index(px, py)
		if !o.childEnabled(node, qa) {
			dst = o.emitCCW(dst, m, a, p)
		}
		if !o.childEnabled(node, qb) {
			dst = o.emitCW(dst, m, b, p)
		}
	}

	if node.Leaf() {
		return dst
	}
	for _, c := range node.Children {
		dst = o.TriangulateNode(c, dst)
	}
	return dst
}

// emitCCW emits the half of a side fan that starts at the side's first corner.
func (o *Optimizer) emitCCW(dst []int, center, from, mid int) []int {
	return append(dst, center, from, mid)
}

// emitCW emits the half ending at the side's second corner, wound so both
// halves face the same way.
func (o *Optimizer) emitCW(dst []int, center, to, mid int) []int {
	return append(dst, center, mid, to)
}

func (o *Optimizer) childEnabled(node *quadtree.Node[optNode], q quadtree.Quadrant) bool {
	if node.Leaf() {
		return false
	}
	return o.tree.At(node.Children[q]).Value.enabled
}

// sideQuadrants returns the quadrants at the start and end of side d when the
// square is walked counter-clockwise.
func sideQuadrants(d quadtree.Direction) (start, end quadtree.Quadrant) {
	switch d {
	case quadtree.South:
		return quadtree.SW, quadtree.SE
	case quadtree.East:
		return quadtree.SE, quadtree.NE
	case quadtree.North:
		return quadtree.NE, quadtree.NW
	default:
		return quadtree.NW, quadtree.SW
	}
}

func (o *Optimizer) index(x, y int32) int {
	return int(y)*o.hm.Size + int(x)
}
