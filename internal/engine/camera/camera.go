// Package camera provides camera implementations for 3D rendering.
package camera

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// FlyCamera is a free-flying first person camera. Position is safe to call
// from the streaming goroutine while the render thread moves the camera.
type FlyCamera struct {
	mu sync.RWMutex

	pos   mgl32.Vec3
	Yaw   float32 // radians, 0 looks towards +Z
	Pitch float32 // radians

	// Vertical field of view in degrees and clip planes.
	FOV  float32
	Near float32
	Far  float32

	// Constraints
	MinPitch float32
	MaxPitch float32

	// Sensitivity
	Speed            float32 // world units per second
	LookSensitivity  float32
	SpeedSensitivity float32
}

// NewFlyCamera creates a camera at pos with default settings.
func NewFlyCamera(pos mgl32.Vec3) *FlyCamera {
	return &FlyCamera{
		pos:              pos,
		Pitch:            -0.3,
		FOV:              60,
		Near:             0.5,
		Far:              20000,
		MinPitch:         -1.5,
		MaxPitch:         1.5,
		Speed:            120,
		LookSensitivity:  0.003,
		SpeedSensitivity: 0.1,
	}
}

// Position returns the camera position in world space.
func (c *FlyCamera) Position() mgl32.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos
}

// SetPosition moves the camera.
func (c *FlyCamera) SetPosition(p mgl32.Vec3) {
	c.mu.Lock()
	c.pos = p
	c.mu.Unlock()
}

// Forward returns the unit view direction.
func (c *FlyCamera) Forward() mgl32.Vec3 {
	cp := math32.Cos(c.Pitch)
	return mgl32.Vec3{
		cp * math32.Sin(c.Yaw),
		math32.Sin(c.Pitch),
		cp * math32.Cos(c.Yaw),
	}
}

// Right returns the unit right direction on the ground plane.
func (c *FlyCamera) Right() mgl32.Vec3 {
	return mgl32.Vec3{-math32.Cos(c.Yaw), 0, math32.Sin(c.Yaw)}
}

// ViewMatrix returns the view matrix for this camera.
func (c *FlyCamera) ViewMatrix() mgl32.Mat4 {
	pos := c.Position()
	return mgl32.LookAtV(pos, pos.Add(c.Forward()), mgl32.Vec3{0, 1, 0})
}

// ProjectionMatrix returns a perspective projection for an aspect ratio.
func (c *FlyCamera) ProjectionMatrix(aspect float32) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// HorizontalFOV returns the horizontal field of view in degrees.
func (c *FlyCamera) HorizontalFOV(aspect float32) float32 {
	half := mgl32.DegToRad(c.FOV) / 2
	return mgl32.RadToDeg(2 * math32.Atan(math32.Tan(half)*aspect))
}

// HandleLook updates yaw and pitch from a mouse delta.
func (c *FlyCamera) HandleLook(deltaX, deltaY float32) {
	c.Yaw -= deltaX * c.LookSensitivity
	c.Pitch -= deltaY * c.LookSensitivity

	// Clamp pitch
	if c.Pitch < c.MinPitch {
		c.Pitch = c.MinPitch
	}
	if c.Pitch > c.MaxPitch {
		c.Pitch = c.MaxPitch
	}
}

// HandleSpeed scales the movement speed from a scroll wheel delta.
func (c *FlyCamera) HandleSpeed(delta float32) {
	c.Speed += delta * c.Speed * c.SpeedSensitivity
	c.Speed = math32.Max(c.Speed, 1)
}

// HandleMovement moves the camera for dt seconds. forward and right follow
// the view direction, up is world up.
func (c *FlyCamera) HandleMovement(forward, right, up, dt float32) {
	step := c.Speed * dt
	move := c.Forward().Mul(forward).Add(c.Right().Mul(right)).Add(mgl32.Vec3{0, up, 0})
	if move.Len() == 0 {
		return
	}
	c.mu.Lock()
	c.pos = c.pos.Add(move.Mul(step))
	c.mu.Unlock()
}
