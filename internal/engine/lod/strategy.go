package lod

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// LoadStrategy moves chunks one step up or down the memory hierarchy.
//
// StartAsyncLoad is fire-and-forget: the strategy reads the load ticket with
// ChunkedTerrain.Ticket before returning and later publishes through
// ChunkedTerrain.Finish, or reverts with Abort on failure. Unload is
// synchronous and only frees the resources; the manager updates the status.
type LoadStrategy interface {
	StartAsyncLoad(id terrain.ChunkID) error
	Unload(id terrain.ChunkID) error
}

// FragmentLoadStrategy loads fragment metadata. A finished load calls
// ChunkedTerrain.Install, a missing fragment ChunkedTerrain.MarkAbsent.
type FragmentLoadStrategy interface {
	StartAsyncLoad(id terrain.FragmentID) error
	Unload(id terrain.FragmentID) error
}

// Camera is the viewer position.
type Camera interface {
	Position() mgl32.Vec3
}

// RenderList is the ordered set of chunks to draw this frame.
type RenderList []terrain.ChunkID

// StaticCamera is a Camera at a fixed position.
type StaticCamera mgl32.Vec3

// Position implements Camera.
func (c StaticCamera) Position() mgl32.Vec3 { return mgl32.Vec3(c) }
