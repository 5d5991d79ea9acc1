package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/camera"
	"github.com/Faultbox/midgard-terrain/internal/engine/debug"
	"github.com/Faultbox/midgard-terrain/internal/engine/gpu"
	"github.com/Faultbox/midgard-terrain/internal/engine/input"
	"github.com/Faultbox/midgard-terrain/internal/engine/lighting"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/engine/window"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/storage/fragstore"
)

const windowTitle = "Midgard Terrain"

var (
	skyColor    = mgl32.Vec3{0.55, 0.68, 0.85}
	boundsColor = mgl32.Vec3{1, 0.85, 0.2}
)

// viewer owns the window, the streaming pipeline and the frame loop. Every
// method runs on the main thread.
type viewer struct {
	cfg *config.Config
	log *zap.Logger

	win   *window.Window
	input *input.Input
	cam   *camera.FlyCamera

	store    *fragstore.Store
	terrain  *lod.ChunkedTerrain
	pool     *lod.Pool
	queue    *gpu.Queue
	res      *gpu.Resources
	renderer *gpu.ChunkRenderer
	lines    *gpu.LineRenderer
	manager  *lod.Manager
	shots    *debug.Screenshots
	sun      mgl32.Vec3

	cancel  context.CancelFunc
	stopped chan error

	looking   bool
	wireframe bool
	tint      bool
	bounds    bool
	capture   bool
}

func newViewer(cfg *config.Config) (*viewer, error) {
	v := &viewer{
		cfg:       cfg,
		log:       logger.Named("viewer"),
		input:     input.New(),
		tint:      cfg.Graphics.ColorByLevel,
		wireframe: cfg.Graphics.Wireframe,
		bounds:    cfg.Graphics.ShowBounds,
		shots:     debug.NewScreenshots(cfg.Graphics.Screenshots, "terrain"),
		sun:       lighting.SunDirection(cfg.Graphics.SunAzimuth, cfg.Graphics.SunElevation),
	}
	ok := false
	defer func() {
		if !ok {
			v.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel

	var err error
	v.store, err = fragstore.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	width, spawn := v.layout(ctx)

	v.win, err = window.New(window.Config{
		Title:      windowTitle,
		Width:      cfg.Graphics.Width,
		Height:     cfg.Graphics.Height,
		Fullscreen: cfg.Graphics.Fullscreen,
		VSync:      cfg.Graphics.VSync,
		Samples:    cfg.Graphics.Samples,
	}, logger.Named("window"))
	if err != nil {
		return nil, err
	}
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("OpenGL init failed: %w", err)
	}
	v.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)
	gl.Enable(gl.DEPTH_TEST)
	if cfg.Graphics.Samples > 0 {
		gl.Enable(gl.MULTISAMPLE)
	}

	streaming := cfg.Streaming
	gpuLog := logger.Named("gpu")
	v.terrain = lod.NewChunkedTerrain(width)
	v.pool = lod.NewPool(streaming.Workers, streaming.QueueSize, logger.Named("pool"))
	v.queue = gpu.NewQueue(streaming.GPUQueueSize, gpuLog)
	v.res = gpu.NewResources(gpu.NewGLDevice(), gpuLog)

	loadLog := logger.Named("fragstore")
	v.manager, err = lod.NewManager(streaming.LOD, v.terrain,
		fragstore.NewFragmentLoader(ctx, v.store, v.terrain, v.pool, loadLog),
		fragstore.NewChunkLoader(ctx, v.store, v.terrain, v.pool, loadLog),
		gpu.NewVRAMLoader(v.terrain, v.queue, v.res, gpuLog),
		logger.Named("lod"),
	)
	if err != nil {
		return nil, err
	}
	v.renderer, err = gpu.NewChunkRenderer(v.terrain, v.res)
	if err != nil {
		return nil, err
	}
	v.lines, err = gpu.NewLineRenderer()
	if err != nil {
		return nil, err
	}

	v.cam = camera.NewFlyCamera(spawn)
	v.cam.Far = streaming.LOD.MaxVisibleDistance * 1.5
	v.resize()

	v.stopped = make(chan error, 1)
	go func() {
		v.stopped <- v.manager.Run(ctx, v.cam, streaming.UpdateInterval)
	}()
	ok = true
	return v, nil
}

// layout reads the fragment width from the store and picks a spawn point
// above the fragment nearest the origin.
func (v *viewer) layout(ctx context.Context) (float32, mgl32.Vec3) {
	width := v.cfg.Terrain.FragmentWidth
	if s, err := v.store.Meta(ctx, fragstore.MetaFragmentWidth); err == nil {
		if w, err := strconv.ParseFloat(s, 32); err == nil && w > 0 {
			width = float32(w)
		}
	} else {
		v.log.Warn("store has no fragment width, using config", zap.Error(err))
	}

	height := width / 4
	if s, err := v.store.Meta(ctx, fragstore.MetaMaxHeight); err == nil {
		if h, err := strconv.ParseFloat(s, 32); err == nil {
			height += float32(h)
		}
	}

	var spawn terrain.FragmentID
	if ids, err := v.store.List(ctx); err == nil && len(ids) > 0 {
		spawn = ids[0]
		for _, id := range ids {
			if id == (terrain.FragmentID{}) {
				spawn = id
				break
			}
		}
	}
	o := terrain.Origin(spawn, width)
	return width, mgl32.Vec3{o[0] + width/2, height, o[2] + width/2}
}

// resize matches the GL viewport, the projection and the LOD metric to the
// drawable size.
func (v *viewer) resize() {
	w, h := v.win.DrawableSize()
	if w <= 0 || h <= 0 {
		return
	}
	gl.Viewport(0, 0, int32(w), int32(h))
	v.manager.SetViewport(w, v.cam.HorizontalFOV(float32(w)/float32(h)))
}

// Run drives the frame loop until the window closes.
func (v *viewer) Run() error {
	last := time.Now()
	statsAt := last
	frames := 0

	for {
		if v.input.Update() {
			return nil
		}
		if quit := v.handleEvents(); quit {
			return nil
		}

		select {
		case err := <-v.stopped:
			v.stopped = nil
			return fmt.Errorf("streaming stopped: %w", err)
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(last).Seconds())
		last = now

		v.cam.HandleMovement(
			v.input.Axis(sdl.SCANCODE_S, sdl.SCANCODE_W),
			v.input.Axis(sdl.SCANCODE_A, sdl.SCANCODE_D),
			v.input.Axis(sdl.SCANCODE_Q, sdl.SCANCODE_E),
			dt,
		)

		v.queue.Pump(v.cfg.Streaming.UploadsPerFrame)
		v.render()
		if v.capture {
			v.capture = false
			v.screenshot()
		}
		v.win.SwapBuffers()

		frames++
		if elapsed := now.Sub(statsAt); elapsed >= time.Second {
			v.updateTitle(float64(frames) / elapsed.Seconds())
			frames, statsAt = 0, now
		}

		if limit := v.cfg.Graphics.FPSLimit; limit > 0 {
			budget := time.Second / time.Duration(limit)
			if spent := time.Since(now); spent < budget {
				time.Sleep(budget - spent)
			}
		}
	}
}

func (v *viewer) handleEvents() bool {
	for _, e := range v.input.Events() {
		switch e.Type {
		case input.EventWindowResize:
			v.resize()
		case input.EventMouseDown:
			if e.Button == sdl.BUTTON_RIGHT {
				v.looking = true
				v.win.SetMouseCaptured(true)
			}
		case input.EventMouseUp:
			if e.Button == sdl.BUTTON_RIGHT {
				v.looking = false
				v.win.SetMouseCaptured(false)
			}
		case input.EventMouseMove:
			if v.looking {
				v.cam.HandleLook(float32(e.DeltaX), float32(e.DeltaY))
			}
		case input.EventMouseWheel:
			v.cam.HandleSpeed(float32(e.DeltaY))
		case input.EventKeyDown:
			switch e.Key {
			case sdl.SCANCODE_ESCAPE:
				return true
			case sdl.SCANCODE_F1:
				v.tint = !v.tint
			case sdl.SCANCODE_F2:
				v.wireframe = !v.wireframe
			case sdl.SCANCODE_F3:
				v.log.Info("stats", zap.Any("lod", v.manager.Stats()))
			case sdl.SCANCODE_F4:
				v.bounds = !v.bounds
			case sdl.SCANCODE_F12:
				v.capture = true
			}
		}
	}
	return false
}

func (v *viewer) render() {
	gl.ClearColor(skyColor[0], skyColor[1], skyColor[2], 1)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	if v.wireframe {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.LINE)
	} else {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
	}

	w, h := v.win.DrawableSize()
	if h == 0 {
		return
	}
	viewProj := v.cam.ProjectionMatrix(float32(w) / float32(h)).Mul4(v.cam.ViewMatrix())
	list := v.manager.ChunksToRender(v.cam)
	v.renderer.Render(list, gpu.FrameParams{
		ViewProj:     viewProj,
		CameraPos:    v.cam.Position(),
		LightDir:     v.sun,
		FogColor:     skyColor,
		FogFar:       v.cfg.Graphics.FogFar,
		ColorByLevel: v.tint,
	})

	if v.bounds {
		lines := debug.ChunkBoundsLines(v.terrain, list, debug.DefaultBoxPadding)
		v.lines.Draw(lines, viewProj, boundsColor)
	}
}

// screenshot reads the back buffer before it is swapped.
func (v *viewer) screenshot() {
	w, h := v.win.DrawableSize()
	pixels := make([]byte, w*h*4)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))

	path, err := v.shots.SavePixels(pixels, w, h)
	if err != nil {
		v.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	v.log.Info("screenshot saved", zap.String("path", path))
}

func (v *viewer) updateTitle(fps float64) {
	s := v.manager.Stats()
	chunks, buffers := v.res.Counts()
	v.win.SetTitle(fmt.Sprintf("%s | %.0f fps | %d chunks, %s tris | frags %d (ram %d, vram %d, loading %d) | %d buffers",
		windowTitle, fps, v.renderer.Drawn, humanize.Comma(int64(v.renderer.Triangles)),
		s.Fragments, s.RAM, s.VRAM, s.Loading, buffers))
	v.log.Debug("frame stats",
		zap.Float64("fps", fps),
		zap.Int("resident_chunks", chunks),
		zap.Int64("loads", s.LoadsStarted),
		zap.Int64("failed", s.LoadsFailed),
		zap.Int("gpu_pending", v.queue.Pending()),
		zap.Int("pool_pending", v.pool.Pending()),
	)
}

// Close stops streaming and releases everything. VRAM unloads block on the
// render queue, so the queue is pumped until the manager goroutine exits.
func (v *viewer) Close() {
	if v.cancel != nil {
		v.cancel()
	}
	if v.stopped != nil {
		for waiting := true; waiting; {
			select {
			case err := <-v.stopped:
				if err != nil && !errors.Is(err, context.Canceled) {
					v.log.Warn("streaming stopped", zap.Error(err))
				}
				waiting = false
			default:
				v.queue.Pump(0)
				time.Sleep(time.Millisecond)
			}
		}
	}
	if v.pool != nil {
		v.pool.Close()
	}
	if v.queue != nil {
		v.queue.Close()
	}
	if v.res != nil {
		v.res.Clear()
	}
	if v.renderer != nil {
		v.renderer.Close()
	}
	if v.lines != nil {
		v.lines.Close()
	}
	if v.store != nil {
		if err := v.store.Close(); err != nil {
			v.log.Warn("closing store", zap.Error(err))
		}
	}
	if v.win != nil {
		v.win.Close()
	}
}
