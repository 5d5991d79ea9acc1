package gpu

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// VRAMLoader moves chunks between RAM and the device. Uploads run on the
// render thread through the queue.
type VRAMLoader struct {
	terrain *lod.ChunkedTerrain
	queue   *Queue
	res     *Resources
	log     *zap.Logger
}

var _ lod.LoadStrategy = (*VRAMLoader)(nil)

// NewVRAMLoader wires a loader to the render-thread queue and resource table.
func NewVRAMLoader(t *lod.ChunkedTerrain, q *Queue, res *Resources, log *zap.Logger) *VRAMLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &VRAMLoader{terrain: t, queue: q, res: res, log: log}
}

// StartAsyncLoad implements lod.LoadStrategy.
func (l *VRAMLoader) StartAsyncLoad(id terrain.ChunkID) error {
	ticket, st, err := l.terrain.Ticket(id)
	if err != nil {
		return err
	}
	if st != terrain.LoadingVRAM {
		return fmt.Errorf("vram load %v: status %v: %w", id, st, terrain.ErrCancelled)
	}
	return l.queue.Post(func() { l.upload(id, ticket) })
}

func (l *VRAMLoader) upload(id terrain.ChunkID, ticket uint64) {
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

	if err := l.res.Load(f, id, d.Chunk(), d.Bucket); err != nil {
		l.log.Warn("chunk upload failed", zap.Stringer("chunk", id), zap.Error(err))
		l.terrain.Abort(id, ticket)
		return
	}
	if err := l.terrain.Finish(id, ticket, nil); err != nil {
		if !errors.Is(err, terrain.ErrCancelled) {
			l.log.Warn("chunk upload not published", zap.Stringer("chunk", id), zap.Error(err))
		}
		l.res.Unload(id)
	}
}

// Unload implements lod.LoadStrategy. It waits for the render thread; a
// chunk without device buffers unloads trivially.
func (l *VRAMLoader) Unload(id terrain.ChunkID) error {
	return l.queue.Call(func() error {
		if !l.res.Unload(id) {
			l.log.Debug("unload of non-resident chunk", zap.Stringer("chunk", id))
		}
		return nil
	})
}
