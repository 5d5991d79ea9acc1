package fragstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "terrain", "fragments.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func bakeFragment(t *testing.T, id terrain.FragmentID) *terrain.Fragment {
	t.Helper()
	cfg := terrain.DefaultPreprocessorConfig()
	cfg.NumOfLODs = 4
	cfg.MaxError = 8
	cfg.FragmentWidth = 128

	src := terrain.NewNoiseSource(terrain.NoiseConfig{Seed: 7, Amplitude: 60, Frequency: 0.05})
	hm, err := src.Fragment(id, 33)
	if err != nil {
		t.Fatal(err)
	}
	p, err := terrain.NewPreprocessor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	f, err := p.Build(id, hm)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	id := terrain.FragmentID{X: -1, Y: 3}
	orig := bakeFragment(t, id)

	if err := s.PutFragment(ctx, orig); err != nil {
		t.Fatalf("PutFragment: %v", err)
	}
	// Writing twice replaces.
	if err := s.PutFragment(ctx, orig); err != nil {
		t.Fatalf("second PutFragment: %v", err)
	}

	got, err := s.LoadFragment(ctx, id)
	if err != nil {
		t.Fatalf("LoadFragment: %v", err)
	}
	if got.Meta.Resolution != orig.Meta.Resolution || got.Meta.Width != orig.Meta.Width {
		t.Errorf("meta = %+v, want %+v", got.Meta, orig.Meta)
	}
	if len(got.Meta.BucketSizes) != len(orig.Meta.BucketSizes) {
		t.Fatalf("bucket sizes = %v, want %v", got.Meta.BucketSizes, orig.Meta.BucketSizes)
	}
	if got.Meta.Bounds != orig.Meta.Bounds {
		t.Errorf("bounds = %v, want %v", got.Meta.Bounds, orig.Meta.Bounds)
	}

	records := orig.Records()
	for i, r := range got.Records() {
		if r != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, r, records[i])
		}
		if st := got.Tree().At(quadtree.Index(i)).Value.Status(); st != terrain.Unloaded {
			t.Errorf("chunk %d loaded as %v, want unloaded", i, st)
		}

		c, err := s.LoadChunk(ctx, terrain.ChunkID{Fragment: id, Node: quadtree.Index(i)})
		if err != nil {
			t.Fatalf("LoadChunk(%d): %v", i, err)
		}
		want := orig.Tree().At(quadtree.Index(i)).Value.Chunk().Indices
		if len(c.Indices) != len(want) {
			t.Fatalf("chunk %d has %d indices, want %d", i, len(c.Indices), len(want))
		}
		for k := range want {
			if c.Indices[k] != want[k] {
				t.Fatalf("chunk %d index %d = %d, want %d", i, k, c.Indices[k], want[k])
			}
		}
	}

	for level := 0; level < orig.Buckets(); level++ {
		verts, err := s.LoadBucket(ctx, id, level)
		if err != nil {
			t.Fatalf("LoadBucket(%d): %v", level, err)
		}
		want := orig.Bucket(level)
		if len(verts) != len(want) {
			t.Fatalf("bucket %d has %d vertices, want %d", level, len(verts), len(want))
		}
		for k := range want {
			if verts[k] != want[k] {
				t.Fatalf("bucket %d vertex %d = %+v, want %+v", level, k, verts[k], want[k])
			}
		}
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Fragments != 1 || info.Chunks != len(records) || info.Buckets != orig.Buckets() {
		t.Errorf("Info() = %+v", info)
	}
	if info.TotalBytes() <= 0 {
		t.Error("Info().TotalBytes() not positive")
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	id := terrain.FragmentID{X: 4}

	if _, err := s.LoadFragment(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadFragment() = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadChunk(ctx, terrain.ChunkID{Fragment: id}); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadChunk() = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadBucket(ctx, id, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadBucket() = %v, want ErrNotFound", err)
	}
	if _, err := s.Meta(ctx, "seed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Meta() = %v, want ErrNotFound", err)
	}
}

func TestMetaAndList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if err := s.SetMeta(ctx, "seed", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMeta(ctx, "seed", "2"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Meta(ctx, "seed"); err != nil || v != "2" {
		t.Errorf("Meta() = %q, %v; want 2", v, err)
	}
	if err := s.SetMeta(ctx, MetaFragmentWidth, "128"); err != nil {
		t.Fatal(err)
	}
	all, err := s.AllMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["seed"] != "2" || all[MetaFragmentWidth] != "128" {
		t.Errorf("AllMeta() = %v", all)
	}

	ids := []terrain.FragmentID{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 0}}
	for _, id := range ids {
		if err := s.PutFragment(ctx, bakeFragment(t, id)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []terrain.FragmentID{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 0}}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCodecRejectsCorruptPayloads(t *testing.T) {
	c, err := newCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer c.close()

	if _, err := c.decodeIndices([]byte("not zstd")); !errors.Is(err, ErrCorrupt) {
		t.Errorf("decodeIndices(garbage) = %v, want ErrCorrupt", err)
	}
	if _, err := c.decodeIndices(c.compress([]byte{1, 2, 3})); !errors.Is(err, ErrCorrupt) {
		t.Errorf("decodeIndices(odd length) = %v, want ErrCorrupt", err)
	}
	if _, err := c.decodeVertices(c.compress(make([]byte, 13))); !errors.Is(err, ErrCorrupt) {
		t.Errorf("decodeVertices(13 bytes) = %v, want ErrCorrupt", err)
	}

	blob, err := c.encodeHeader(&Header{Version: FormatVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.decodeHeader(blob); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("decodeHeader(future) = %v, want ErrUnsupportedVersion", err)
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoaders(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	id := terrain.FragmentID{X: 2, Y: 2}
	orig := bakeFragment(t, id)
	if err := s.PutFragment(ctx, orig); err != nil {
		t.Fatal(err)
	}

	ct := lod.NewChunkedTerrain(orig.Meta.Width)
	pool := lod.NewPool(2, 16, nil)
	defer pool.Close()
	frags := NewFragmentLoader(ctx, s, ct, pool, nil)
	chunks := NewChunkLoader(ctx, s, ct, pool, nil)

	missing := terrain.FragmentID{X: 9, Y: 9}
	for _, fid := range []terrain.FragmentID{id, missing} {
		ct.Reserve(fid)
		if err := frags.StartAsyncLoad(fid); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "fragment install", func() bool {
		f, ok := ct.Lookup(id)
		return ok && f.Status() == terrain.RAM
	})
	waitFor(t, "absent marker", func() bool {
		f, ok := ct.Lookup(missing)
		return ok && f.Status() == terrain.Absent
	})

	f, _ := ct.Fragment(id)
	leaf := quadtree.Index(f.Tree().Len() - 1)
	cid := terrain.ChunkID{Fragment: id, Node: leaf}
	if err := chunks.StartAsyncLoad(cid); !errors.Is(err, terrain.ErrCancelled) {
		t.Errorf("StartAsyncLoad() without claim = %v, want ErrCancelled", err)
	}
	if _, err := ct.Claim(cid, terrain.Unloaded); err != nil {
		t.Fatal(err)
	}
	if err := chunks.StartAsyncLoad(cid); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chunk load", func() bool {
		d, _ := ct.Data(cid)
		return d.Status() == terrain.RAM
	})

	d, _ := ct.Data(cid)
	for level := 0; level <= d.Bucket; level++ {
		if f.BucketStatus(level) != terrain.RAM {
			t.Errorf("bucket %d is %v, want ram", level, f.BucketStatus(level))
		}
	}
	if c, err := ct.Chunk(cid); err != nil || len(c.Indices) == 0 {
		t.Errorf("Chunk() = %v, %v", c, err)
	}

	if err := frags.Unload(id); err != nil {
		t.Fatal(err)
	}
	if f.BucketStatus(0) != terrain.Unloaded {
		t.Error("buckets still in RAM after fragment unload")
	}
}
