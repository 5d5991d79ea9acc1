// Package quadtree provides a bounded, array-backed quad-tree.
//
// Nodes are addressed by 16-bit indices instead of pointers. Node 0 is always
// the root and index 0 in a child or neighbour slot means "none". The tree is
// complete: it is built once for a given resolution and only node payloads
// change afterwards.
package quadtree

import (
	"errors"
	"fmt"
)

// MaxResolution is the deepest supported tree. A full tree of this resolution
// has 21845 nodes, which keeps every index inside uint16.
const MaxResolution = 8

// Tree errors.
var (
	ErrResolution = errors.New("quadtree: resolution out of range")
	ErrOutOfRange = errors.New("quadtree: node index out of range")
)

// Index addresses a node inside a Tree.
type Index uint16

// None marks an empty child or neighbour slot.
const None Index = 0

// Quadrant selects one of the four children of a node.
type Quadrant uint8

// Quadrants. Bit 1 selects the east half, bit 0 the north half.
const (
	SW Quadrant = iota
	NW
	SE
	NE
)

// East reports whether the quadrant lies in the east half.
func (q Quadrant) East() bool { return q&2 != 0 }

// North reports whether the quadrant lies in the north half.
func (q Quadrant) North() bool { return q&1 != 0 }

func (q Quadrant) String() string {
	switch q {
	case SW:
		return "SW"
	case NW:
		return "NW"
	case SE:
		return "SE"
	case NE:
		return "NE"
	}
	return fmt.Sprintf("Quadrant(%d)", uint8(q))
}

// Direction selects a neighbour.
type Direction uint8

// Directions.
const (
	North Direction = iota
	East
	South
	West
)

// Opposite returns the direction pointing back.
func (d Direction) Opposite() Direction { return (d + 2) & 3 }

func (d Direction) String() string {
	switch d {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Border returns the two quadrants touching side d, ordered west to east for
// north/south sides and south to north for east/west sides.
func Border(d Direction) [2]Quadrant {
	switch d {
	case North:
		return [2]Quadrant{NW, NE}
	case South:
		return [2]Quadrant{SW, SE}
	case East:
		return [2]Quadrant{SE, NE}
	default:
		return [2]Quadrant{SW, NW}
	}
}

// Sides returns the two sides of the parent square a quadrant touches.
func (q Quadrant) Sides() [2]Direction {
	ns, ew := South, West
	if q.North() {
		ns = North
	}
	if q.East() {
		ew = East
	}
	return [2]Direction{ns, ew}
}

// Node is a single tree node with its payload.
type Node[T any] struct {
	Children   [4]Index
	Neighbours [4]Index
	Parent     Index
	Value      T
}

// Leaf reports whether the node has no children.
func (n *Node[T]) Leaf() bool { return n.Children[0] == None }

// Tree is a complete quad-tree stored in a flat slice in level order.
type Tree[T any] struct {
	nodes      []Node[T]
	resolution int
}

// Size returns the node count of a full tree with the given resolution.
func Size(resolution int) int {
	return ((1 << (2 * resolution)) - 1) / 3
}

// levelOffset returns the index of the first node at depth d.
func levelOffset(d int) int {
	return Size(d)
}

// New builds a fully linked tree with the given number of levels.
func New[T any](resolution int) (*Tree[T], error) {
	if resolution < 1 || resolution > MaxResolution {
		return nil, fmt.Errorf("%w: %d not in [1,%d]", ErrResolution, resolution, MaxResolution)
	}

	t := &Tree[T]{
		nodes:      make([]Node[T], Size(resolution)),
		resolution: resolution,
	}

	// Level order layout: the children of node i are 4i+1 .. 4i+4.
	inner := levelOffset(resolution - 1)
	for i := 0; i < inner; i++ {
		for q := 0; q < 4; q++ {
			c := 4*i + 1 + q
			t.nodes[i].Children[q] = Index(c)
			t.nodes[c].Parent = Index(i)
		}
	}

	t.link(0)
	return t, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](resolution int) *Tree[T] {
	t, err := New[T](resolution)
	if err != nil {
		panic(err)
	}
	return t
}

// link connects the siblings below i and then descends.
func (t *Tree[T]) link(i Index) {
	n := &t.nodes[i]
	if n.Leaf() {
		return
	}
	c := n.Children
	t.clue(c[SW], c[NW], North)
	t.clue(c[SE], c[NE], North)
	t.clue(c[SW], c[SE], East)
	t.clue(c[NW], c[NE], East)
	for _, child := range c {
		t.link(child)
	}
}

// clue joins two adjacent subtrees: b lies in direction d of a. Their border
// nodes are linked pairwise, recursing while both sides have children.
func (t *Tree[T]) clue(a, b Index, d Direction) {
	na, nb := &t.nodes[a], &t.nodes[b]
	na.Neighbours[d] = b
	nb.Neighbours[d.Opposite()] = a
	if na.Leaf() || nb.Leaf() {
		return
	}
	from, to := Border(d), Border(d.Opposite())
	for k := range from {
		t.clue(na.Children[from[k]], nb.Children[to[k]], d)
	}
}

// Len returns the number of nodes.
func (t *Tree[T]) Len() int { return len(t.nodes) }

// Resolution returns the number of levels.
func (t *Tree[T]) Resolution() int { return t.resolution }

// Node returns the node at index i.
func (t *Tree[T]) Node(i Index) (*Node[T], error) {
	if int(i) >= len(t.nodes) {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrOutOfRange, i, len(t.nodes))
	}
	return &t.nodes[i], nil
}

// At is like Node but panics on an invalid index.
func (t *Tree[T]) At(i Index) *Node[T] {
	n, err := t.Node(i)
	if err != nil {
		panic(err)
	}
	return n
}

// Root returns the root node.
func (t *Tree[T]) Root() *Node[T] {
	return &t.nodes[0]
}

// Depth returns the level of node i, the root being level 0.
func (t *Tree[T]) Depth(i Index) int {
	for d := 1; d <= t.resolution; d++ {
		if int(i) < levelOffset(d) {
			return d - 1
		}
	}
	panic(fmt.Errorf("%w: %d", ErrOutOfRange, i))
}

// Quadrant returns which child of its parent node i is. The root reports SW.
func (t *Tree[T]) Quadrant(i Index) Quadrant {
	if i == 0 {
		return SW
	}
	return Quadrant((int(i) - 1) % 4)
}

// Child returns the child of i in quadrant q, or None for leaves.
func (t *Tree[T]) Child(i Index, q Quadrant) Index {
	return t.At(i).Children[q]
}

// Path returns the quadrant choices leading from the root to i.
func (t *Tree[T]) Path(i Index) []Quadrant {
	path := make([]Quadrant, t.Depth(i))
	for k := len(path) - 1; k >= 0; k-- {
		path[k] = t.Quadrant(i)
		i = t.nodes[i].Parent
	}
	return path
}

// Find follows a quadrant path from the root.
func (t *Tree[T]) Find(path ...Quadrant) (Index, error) {
	i := Index(0)
	for _, q := range path {
		c := t.nodes[i].Children[q&3]
		if c == None {
			return 0, fmt.Errorf("%w: path %v deeper than %d levels", ErrOutOfRange, path, t.resolution)
		}
		i = c
	}
	return i, nil
}

// Walk visits the subtree rooted at i depth-first in pre-order. Returning false
// from fn skips the children of the visited node.
func (t *Tree[T]) Walk(i Index, fn func(Index, *Node[T]) bool) {
	n := &t.nodes[i]
	if !fn(i, n) || n.Leaf() {
		return
	}
	for _, c := range n.Children {
		t.Walk(c, fn)
	}
}

// ApplyToLevel calls fn for every node at the given depth, in index order.
// The tree must have that level.
func ApplyToLevel[T any](t *Tree[T], level int, fn func(Index, *Node[T])) {
	if level < 0 || level >= t.resolution {
		panic(fmt.Sprintf("quadtree: level %d not materialized (resolution %d)", level, t.resolution))
	}
	for i := levelOffset(level); i < levelOffset(level+1); i++ {
		fn(Index(i), &t.nodes[i])
	}
}

// LevelRange returns the half-open index range [first, end) of a level.
func (t *Tree[T]) LevelRange(level int) (Index, Index) {
	if level < 0 || level >= t.resolution {
		panic(fmt.Sprintf("quadtree: level %d not materialized (resolution %d)", level, t.resolution))
	}
	return Index(levelOffset(level)), Index(levelOffset(level + 1))
}
