package fragstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// FragmentLoader reads fragment headers on a worker pool and installs them.
type FragmentLoader struct {
	ctx     context.Context
	store   *Store
	terrain *lod.ChunkedTerrain
	pool    *lod.Pool
	log     *zap.Logger
}

var _ lod.FragmentLoadStrategy = (*FragmentLoader)(nil)

// NewFragmentLoader creates a loader whose reads are bound to ctx.
func NewFragmentLoader(ctx context.Context, s *Store, t *lod.ChunkedTerrain, p *lod.Pool, log *zap.Logger) *FragmentLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &FragmentLoader{ctx: ctx, store: s, terrain: t, pool: p, log: log}
}

// StartAsyncLoad implements lod.FragmentLoadStrategy.
func (l *FragmentLoader) StartAsyncLoad(id terrain.FragmentID) error {
	return l.pool.Submit(func() { l.load(id) })
}

func (l *FragmentLoader) load(id terrain.FragmentID) {
	f, err := l.store.LoadFragment(l.ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		l.terrain.MarkAbsent(id)
		return
	case err != nil:
		l.log.Warn("fragment load failed", zap.Stringer("fragment", id), zap.Error(err))
		// Drop the placeholder so the next update asks again.
		if p, ok := l.terrain.Lookup(id); ok && p.Status() == terrain.LoadingRAM {
			l.terrain.Remove(id)
		}
		return
	}
	if f.Meta.Width != l.terrain.Width() {
		l.log.Error("fragment width mismatch",
			zap.Stringer("fragment", id),
			zap.Float32("stored", f.Meta.Width),
			zap.Float32("terrain", l.terrain.Width()))
		l.terrain.MarkAbsent(id)
		return
	}
	if err := l.terrain.Install(f); err != nil {
		l.log.Debug("fragment evicted while loading", zap.Stringer("fragment", id))
		return
	}
	l.log.Debug("fragment loaded",
		zap.Stringer("fragment", id),
		zap.Int("chunks", f.Tree().Len()),
		zap.Int("buckets", f.Buckets()))
}

// Unload implements lod.FragmentLoadStrategy. Chunks are already unloaded by
// the manager; what is left are the vertex buckets.
func (l *FragmentLoader) Unload(id terrain.FragmentID) error {
	f, ok := l.terrain.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %v", lod.ErrFragmentNotFound, id)
	}
	if f.Tree() != nil {
		f.ReleaseBuckets()
	}
	return nil
}

// ChunkLoader is the RAM load strategy: it reads index lists and the vertex
// buckets they need from the store.
type ChunkLoader struct {
	ctx     context.Context
	store   *Store
	terrain *lod.ChunkedTerrain
	pool    *lod.Pool
	log     *zap.Logger
}

var _ lod.LoadStrategy = (*ChunkLoader)(nil)

// NewChunkLoader creates a loader whose reads are bound to ctx.
func NewChunkLoader(ctx context.Context, s *Store, t *lod.ChunkedTerrain, p *lod.Pool, log *zap.Logger) *ChunkLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChunkLoader{ctx: ctx, store: s, terrain: t, pool: p, log: log}
}

// StartAsyncLoad implements lod.LoadStrategy.
func (l *ChunkLoader) StartAsyncLoad(id terrain.ChunkID) error {
	ticket, st, err := l.terrain.Ticket(id)
	if err != nil {
		return err
	}
	if st != terrain.LoadingRAM {
		return fmt.Errorf("ram load %v: status %v: %w", id, st, terrain.ErrCancelled)
	}
	return l.pool.Submit(func() { l.load(id, ticket) })
}

func (l *ChunkLoader) load(id terrain.ChunkID, ticket uint64) {
	f, err := l.terrain.Fragment(id.Fragment)
	if err != nil {
		return
	}
	d, err := f.Data(id.Node)
	if err != nil {
		return
	}
	if cur, _ := d.Ticket(); cur != ticket {
		return
	}

	c, err := l.store.LoadChunk(l.ctx, id)
	if err == nil {
		err = f.EnsureBuckets(d.Bucket, func(level int) ([]terrain.Vertex, error) {
			return l.store.LoadBucket(l.ctx, id.Fragment, level)
		})
	}
	if err != nil {
		if errors.Is(err, terrain.ErrCancelled) {
			l.log.Debug("chunk load dropped", zap.Stringer("chunk", id), zap.Error(err))
		} else {
			l.log.Warn("chunk load failed", zap.Stringer("chunk", id), zap.Error(err))
		}
		l.terrain.Abort(id, ticket)
		return
	}

	err = l.terrain.Finish(id, ticket, func(d *terrain.ChunkData) { d.StoreChunk(c) })
	if err != nil && !errors.Is(err, terrain.ErrCancelled) {
		l.log.Warn("chunk load not published", zap.Stringer("chunk", id), zap.Error(err))
	}
}

// Unload implements lod.LoadStrategy. The index list is dropped by the
// manager; buckets stay until the fragment goes.
func (l *ChunkLoader) Unload(id terrain.ChunkID) error {
	_, err := l.terrain.Data(id)
	return err
}
