// Package lod streams terrain chunks in and out of memory as the viewer moves.
package lod

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// Lookup errors.
var (
	ErrFragmentNotFound = errors.New("lod: fragment not found")
	ErrChunkNotFound    = errors.New("lod: chunk not found")
	ErrNotClaimable     = errors.New("lod: chunk not in the expected status")
)

type entry struct {
	id   terrain.FragmentID
	frag *terrain.Fragment
}

func entryLess(a, b entry) bool { return a.id.Less(b.id) }

// ChunkedTerrain is an ordered map from fragment id to fragment. Readers
// traverse a copy-on-write clone, so loaders may insert while a traversal is
// running.
type ChunkedTerrain struct {
	width float32

	mu   sync.Mutex
	tree *btree.BTreeG[entry]
}

// NewChunkedTerrain creates an empty terrain whose fragments are width world
// units wide.
func NewChunkedTerrain(width float32) *ChunkedTerrain {
	return &ChunkedTerrain{
		width: width,
		tree:  btree.NewG[entry](16, entryLess),
	}
}

// Width returns the fragment width in world units.
func (t *ChunkedTerrain) Width() float32 { return t.width }

// Len returns the number of fragment entries, placeholders included.
func (t *ChunkedTerrain) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}

// Lookup returns a fragment entry in any status.
func (t *ChunkedTerrain) Lookup(id terrain.FragmentID) (*terrain.Fragment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tree.Get(entry{id: id})
	return e.frag, ok
}

// Fragment returns a fragment whose metadata is loaded.
func (t *ChunkedTerrain) Fragment(id terrain.FragmentID) (*terrain.Fragment, error) {
	f, ok := t.Lookup(id)
	if !ok || f.Status() != terrain.RAM {
		return nil, fmt.Errorf("%w: %v", ErrFragmentNotFound, id)
	}
	return f, nil
}

// Data returns the load state of a chunk.
func (t *ChunkedTerrain) Data(id terrain.ChunkID) (*terrain.ChunkData, error) {
	f, err := t.Fragment(id.Fragment)
	if err != nil {
		return nil, err
	}
	d, err := f.Data(id.Node)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrChunkNotFound, id, err)
	}
	return d, nil
}

// Chunk returns the index list of a chunk held in memory.
func (t *ChunkedTerrain) Chunk(id terrain.ChunkID) (*terrain.Chunk, error) {
	d, err := t.Data(id)
	if err != nil {
		return nil, err
	}
	c := d.Chunk()
	if c == nil || d.Status() == terrain.Unloaded {
		return nil, fmt.Errorf("%w: %v is %v", ErrChunkNotFound, id, d.Status())
	}
	return c, nil
}

// PutChunk stores a chunk and marks it RAM, or Unloaded when c is nil.
func (t *ChunkedTerrain) PutChunk(id terrain.ChunkID, c *terrain.Chunk) error {
	d, err := t.Data(id)
	if err != nil {
		return err
	}
	d.Put(c)
	return nil
}

// SetStatus overwrites a chunk status.
func (t *ChunkedTerrain) SetStatus(id terrain.ChunkID, s terrain.Status) error {
	d, err := t.Data(id)
	if err != nil {
		return err
	}
	d.SetStatus(s)
	return nil
}

// Insert adds or replaces a fragment.
func (t *ChunkedTerrain) Insert(f *terrain.Fragment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.ReplaceOrInsert(entry{id: f.ID, frag: f})
}

// Reserve inserts a loading placeholder. It returns false when the id is
// already present.
func (t *ChunkedTerrain) Reserve(id terrain.FragmentID) (*terrain.Fragment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.tree.Get(entry{id: id}); ok {
		return e.frag, false
	}
	f := terrain.NewPlaceholder(id, t.width)
	t.tree.ReplaceOrInsert(entry{id: id, frag: f})
	return f, true
}

// Install replaces a loading placeholder with its loaded fragment. It fails
// with terrain.ErrCancelled when the placeholder was evicted meanwhile.
func (t *ChunkedTerrain) Install(f *terrain.Fragment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tree.Get(entry{id: f.ID})
	if !ok || e.frag.Status() != terrain.LoadingRAM {
		return fmt.Errorf("install %v: %w", f.ID, terrain.ErrCancelled)
	}
	f.SetStatus(terrain.RAM)
	t.tree.ReplaceOrInsert(entry{id: f.ID, frag: f})
	return nil
}

// MarkAbsent records that no data exists for a reserved id.
func (t *ChunkedTerrain) MarkAbsent(id terrain.FragmentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.tree.Get(entry{id: id}); ok && e.frag.Status() == terrain.LoadingRAM {
		e.frag.SetStatus(terrain.Absent)
	}
}

// Remove deletes a fragment entry.
func (t *ChunkedTerrain) Remove(id terrain.FragmentID) (*terrain.Fragment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tree.Delete(entry{id: id})
	return e.frag, ok
}

// Ascend calls fn for every fragment in id order until fn returns false.
func (t *ChunkedTerrain) Ascend(fn func(*terrain.Fragment) bool) {
	t.mu.Lock()
	snapshot := t.tree.Clone()
	t.mu.Unlock()
	snapshot.Ascend(func(e entry) bool {
		return fn(e.frag)
	})
}

// Fragments returns every fragment in id order.
func (t *ChunkedTerrain) Fragments() []*terrain.Fragment {
	var out []*terrain.Fragment
	t.Ascend(func(f *terrain.Fragment) bool {
		out = append(out, f)
		return true
	})
	return out
}

// Claim starts a load of a chunk from a stable status and returns its ticket.
func (t *ChunkedTerrain) Claim(id terrain.ChunkID, from terrain.Status) (uint64, error) {
	d, err := t.Data(id)
	if err != nil {
		return 0, err
	}
	ticket, ok := d.Claim(from, from.Upgrade())
	if !ok {
		return 0, fmt.Errorf("%w: %v is %v, not %v", ErrNotClaimable, id, d.Status(), from)
	}
	return ticket, nil
}

// Ticket returns the ticket of the load in flight on a chunk.
func (t *ChunkedTerrain) Ticket(id terrain.ChunkID) (uint64, terrain.Status, error) {
	d, err := t.Data(id)
	if err != nil {
		return 0, terrain.Unloaded, err
	}
	ticket, st := d.Ticket()
	return ticket, st, nil
}

// Finish publishes a completed load. It returns terrain.ErrCancelled when the
// load was cancelled and its result must be discarded.
func (t *ChunkedTerrain) Finish(id terrain.ChunkID, ticket uint64, publish func(*terrain.ChunkData)) error {
	d, err := t.Data(id)
	if err != nil {
		return fmt.Errorf("%w: %v", terrain.ErrCancelled, err)
	}
	return d.Finish(ticket, publish)
}

// Abort reverts a failed load.
func (t *ChunkedTerrain) Abort(id terrain.ChunkID, ticket uint64) {
	if d, err := t.Data(id); err == nil {
		d.Abort(ticket)
	}
}

// Cancel reverts a load in flight to its prior status.
func (t *ChunkedTerrain) Cancel(id terrain.ChunkID) bool {
	d, err := t.Data(id)
	if err != nil {
		return false
	}
	return d.Cancel()
}
