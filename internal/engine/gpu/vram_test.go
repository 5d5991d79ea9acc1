package gpu

import (
	"errors"
	"testing"

	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

type vramFixture struct {
	dev    *fakeDevice
	queue  *Queue
	res    *Resources
	ct     *lod.ChunkedTerrain
	f      *terrain.Fragment
	loader *VRAMLoader
}

// newVRAMFixture returns a fragment whose chunks are all in RAM.
func newVRAMFixture(t *testing.T) *vramFixture {
	t.Helper()
	fx := &vramFixture{dev: newFakeDevice(), queue: NewQueue(16, nil), ct: lod.NewChunkedTerrain(64)}
	fx.res = NewResources(fx.dev, nil)
	fx.f = testFragment(t)
	fx.ct.Insert(fx.f)
	fx.f.Walk(func(_ quadtree.Index, n *quadtree.Node[terrain.ChunkData]) bool {
		n.Value.Put(triangle)
		return true
	})
	fx.loader = NewVRAMLoader(fx.ct, fx.queue, fx.res, nil)
	return fx
}

func (fx *vramFixture) start(t *testing.T, node quadtree.Index) terrain.ChunkID {
	t.Helper()
	id := chunkID(fx.f, node)
	if _, err := fx.ct.Claim(id, terrain.RAM); err != nil {
		t.Fatal(err)
	}
	if err := fx.loader.StartAsyncLoad(id); err != nil {
		t.Fatal(err)
	}
	return id
}

func (fx *vramFixture) status(t *testing.T, id terrain.ChunkID) terrain.Status {
	t.Helper()
	d, err := fx.ct.Data(id)
	if err != nil {
		t.Fatal(err)
	}
	return d.Status()
}

func TestVRAMLoad(t *testing.T) {
	fx := newVRAMFixture(t)
	id := fx.start(t, 1)

	if got := fx.status(t, id); got != terrain.LoadingVRAM {
		t.Fatalf("status before pump = %v, want loading-vram", got)
	}
	fx.queue.Pump(0)
	if got := fx.status(t, id); got != terrain.VRAM {
		t.Errorf("status after pump = %v, want vram", got)
	}
	if !fx.res.Resident(id) || fx.f.VRAMLevel() != 1 {
		t.Errorf("Resident() = %v, VRAMLevel() = %d; want true, 1", fx.res.Resident(id), fx.f.VRAMLevel())
	}
}

func TestVRAMLoadRequiresClaim(t *testing.T) {
	fx := newVRAMFixture(t)
	err := fx.loader.StartAsyncLoad(chunkID(fx.f, 1))
	if !errors.Is(err, terrain.ErrCancelled) {
		t.Errorf("StartAsyncLoad() without claim = %v, want ErrCancelled", err)
	}
	if fx.queue.Pending() != 0 {
		t.Error("request queued for an unclaimed chunk")
	}
}

func TestVRAMLoadCancelled(t *testing.T) {
	fx := newVRAMFixture(t)
	id := fx.start(t, 2)
	fx.ct.Cancel(id)

	fx.queue.Pump(0)
	if got := fx.status(t, id); got != terrain.RAM {
		t.Errorf("status = %v, want ram", got)
	}
	if fx.res.Resident(id) || len(fx.dev.indices) != 0 {
		t.Error("cancelled chunk was uploaded")
	}
}

func TestVRAMLoadFailureAborts(t *testing.T) {
	fx := newVRAMFixture(t)
	fx.dev.failVertices = true
	id := fx.start(t, 0)

	fx.queue.Pump(0)
	if got := fx.status(t, id); got != terrain.RAM {
		t.Errorf("status = %v, want ram after failed upload", got)
	}
}

func TestVRAMUnloadWaitsForRenderThread(t *testing.T) {
	fx := newVRAMFixture(t)
	id := fx.start(t, 0)
	fx.queue.Pump(0)

	done := make(chan error, 1)
	go func() { done <- fx.loader.Unload(id) }()
	if err := pumpUntil(fx.queue, done); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if fx.res.Resident(id) || fx.f.VRAMLevel() != -1 {
		t.Errorf("after Unload: resident %v, level %d", fx.res.Resident(id), fx.f.VRAMLevel())
	}

	go func() { done <- fx.loader.Unload(id) }()
	if err := pumpUntil(fx.queue, done); err != nil {
		t.Errorf("second Unload() = %v, want nil", err)
	}
}
