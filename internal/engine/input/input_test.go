package input

import (
	"testing"

	"github.com/veandco/go-sdl2/sdl"
)

func key(typ uint32, sc sdl.Scancode, repeat uint8) *sdl.KeyboardEvent {
	return &sdl.KeyboardEvent{Type: typ, Repeat: repeat, Keysym: sdl.Keysym{Scancode: sc}}
}

func TestHeldKeys(t *testing.T) {
	in := New()
	in.process(key(sdl.KEYDOWN, sdl.SCANCODE_W, 0))
	in.process(key(sdl.KEYDOWN, sdl.SCANCODE_W, 1))
	in.process(key(sdl.KEYDOWN, sdl.SCANCODE_D, 0))

	if !in.IsKeyPressed(sdl.SCANCODE_W) || !in.IsKeyDown(sdl.SCANCODE_W) {
		t.Error("W not pressed and held")
	}
	downs := 0
	for _, e := range in.Events() {
		if e.Type == EventKeyDown {
			downs++
		}
	}
	if downs != 2 {
		t.Errorf("got %d key down events, want 2 (repeats dropped)", downs)
	}

	tests := []struct {
		neg, pos sdl.Scancode
		want     float32
	}{
		{sdl.SCANCODE_S, sdl.SCANCODE_W, 1},
		{sdl.SCANCODE_A, sdl.SCANCODE_D, 1},
		{sdl.SCANCODE_Q, sdl.SCANCODE_E, 0},
	}
	for _, tt := range tests {
		if got := in.Axis(tt.neg, tt.pos); got != tt.want {
			t.Errorf("Axis(%v, %v) = %v, want %v", tt.neg, tt.pos, got, tt.want)
		}
	}

	in.process(key(sdl.KEYUP, sdl.SCANCODE_W, 0))
	if in.IsKeyDown(sdl.SCANCODE_W) {
		t.Error("W still held after key up")
	}
	in.process(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_FOCUS_LOST})
	if in.IsKeyDown(sdl.SCANCODE_D) {
		t.Error("D still held after focus loss")
	}
}

func TestMouseEvents(t *testing.T) {
	in := New()
	in.process(&sdl.MouseMotionEvent{X: 10, Y: 20, XRel: 3, YRel: -2})
	in.process(&sdl.MouseWheelEvent{Y: -1})
	if quit := in.process(&sdl.QuitEvent{}); !quit {
		t.Error("quit event did not request quit")
	}

	ev := in.Events()
	if len(ev) != 3 {
		t.Fatalf("got %d events, want 3", len(ev))
	}
	if ev[0].Type != EventMouseMove || ev[0].DeltaX != 3 || ev[0].DeltaY != -2 {
		t.Errorf("motion event = %+v", ev[0])
	}
	if ev[1].Type != EventMouseWheel || ev[1].DeltaY != -1 {
		t.Errorf("wheel event = %+v", ev[1])
	}
	if ev[2].Type != EventQuit {
		t.Errorf("last event = %+v, want quit", ev[2])
	}
}
