// Command atmolut renders atmosphere lookup tables headless and writes them
// to disk.
//
// Usage:
//
//	atmolut -frames 3 -width 320 -height 180 -out luts
//	atmolut -settings sunset.json -aerial=false -multi -preview
//	atmolut -backend wgpu -out luts
//
// Each frame runs the same passes a host renderer would schedule. The tables
// of the last frame are written as OpenEXR files, with optional PNG
// previews, together with the composited color buffer.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/atmosphere"
	"github.com/gogpu/atmosphere/backend"
	"github.com/gogpu/atmosphere/backend/software"
	"github.com/gogpu/atmosphere/backend/wgpu"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/lut"
	"github.com/gogpu/atmosphere/lutio"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// colorLabel names the synthetic camera color buffer.
const colorLabel = "camera-color"

// toggle is a boolean flag that remembers whether it was given, so a
// settings file value is only overridden on request.
type toggle struct {
	set, on bool
}

func (t *toggle) String() string {
	if t == nil || !t.set {
		return "unset"
	}
	return strconv.FormatBool(t.on)
}

func (t *toggle) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	t.set, t.on = true, v
	return nil
}

func (t *toggle) IsBoolFlag() bool { return true }

func (t *toggle) apply(dst *bool) {
	if t.set {
		*dst = t.on
	}
}

type config struct {
	frames       int
	width        int
	height       int
	lutWidth     int
	lutHeight    int
	grid         int
	settings     string
	multi        toggle
	aerial       toggle
	inject       string
	out          string
	preview      bool
	exposure     float64
	scale        int
	budget       int
	backend      string
	sunElevation float64
}

func main() {
	var cfg config
	flag.IntVar(&cfg.frames, "frames", 1, "number of frames to render")
	flag.IntVar(&cfg.width, "width", 320, "frame width")
	flag.IntVar(&cfg.height, "height", 180, "frame height")
	flag.IntVar(&cfg.lutWidth, "lut-width", lut.DefaultLUTWidth, "transmittance and multi-scatter table width")
	flag.IntVar(&cfg.lutHeight, "lut-height", lut.DefaultLUTHeight, "transmittance and multi-scatter table height")
	flag.IntVar(&cfg.grid, "grid", kernel.DefaultVoxelGrid.X, "aerial perspective voxel grid size per axis")
	flag.StringVar(&cfg.settings, "settings", "", "JSON settings file (defaults when empty)")
	flag.Var(&cfg.multi, "multi", "turn multiple scattering on or off (-multi=false)")
	flag.Var(&cfg.aerial, "aerial", "turn aerial perspective on or off (-aerial=false)")
	flag.StringVar(&cfg.inject, "inject", atmosphere.DefaultInjectionPoint.String(), "injection point of the table pass")
	flag.StringVar(&cfg.out, "out", "luts", "output directory")
	flag.BoolVar(&cfg.preview, "preview", false, "also write tone-mapped PNG previews")
	flag.Float64Var(&cfg.exposure, "exposure", 1, "preview exposure")
	flag.IntVar(&cfg.scale, "scale", 1, "preview upscale factor")
	flag.IntVar(&cfg.budget, "budget", pool.DefaultBudgetMB, "pool budget in MB")
	flag.StringVar(&cfg.backend, "backend", software.Name, "device: software, wgpu or auto")
	flag.Float64Var(&cfg.sunElevation, "sun", 30, "sun elevation in degrees")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	atmosphere.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// loadSettings reads the settings file, if any, and applies the flag
// overrides.
func loadSettings(cfg config) (params.Settings, error) {
	s := params.DefaultSettings()
	if cfg.settings != "" {
		loaded, err := params.LoadSettings(cfg.settings)
		if err != nil {
			return s, fmt.Errorf("load settings: %w", err)
		}
		s = loaded
	}
	cfg.multi.apply(&s.MultiScatter)
	cfg.aerial.apply(&s.AerialPerspective)
	return s, nil
}

func run(cfg config) (err error) {
	s, err := loadSettings(cfg)
	if err != nil {
		return err
	}
	point, err := atmosphere.ParseInjectionPoint(cfg.inject)
	if err != nil {
		return err
	}

	dev, err := openDevice(cfg.backend)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	p := pool.New(dev, pool.WithBudgetMB(cfg.budget))
	defer p.Close()
	inv := kernel.NewInvoker(dev, nil)

	feature := atmosphere.New(p, inv, params.NewStore(s),
		atmosphere.WithInjectionPoint(point),
		atmosphere.WithPipelineOptions(
			lut.WithLUTSize(cfg.lutWidth, cfg.lutHeight),
			lut.WithVoxelGrid(kernel.VoxelGrid{X: cfg.grid, Y: cfg.grid, Z: cfg.grid}),
		),
	)

	color, err := p.Acquire(pool.Desc{
		Label:  colorLabel,
		Width:  cfg.width,
		Height: cfg.height,
		Format: gputypes.TextureFormatRGBA32Float,
	})
	if err != nil {
		return fmt.Errorf("acquire color buffer: %w", err)
	}
	defer func() { err = errors.Join(err, p.Release(color)) }()

	view := kernel.DefaultView(cfg.width, cfg.height)
	elev := cfg.sunElevation * math.Pi / 180
	view.SunDirection = mgl32.Vec3{0, float32(math.Sin(elev)), float32(-math.Cos(elev))}

	previewOpts := lutio.PreviewOptions{Exposure: float32(cfg.exposure), Scale: cfg.scale}
	dl, _ := dev.(lutio.Downloader)

	start := time.Now()
	for i := 1; i <= cfg.frames; i++ {
		if err := inv.Clear(color, mgl32.Vec4{0.18, 0.18, 0.18, 1}); err != nil {
			return fmt.Errorf("clear color buffer: %w", err)
		}

		q := &frameQueue{}
		feature.AddPasses(q, view, color)
		if i == cfg.frames {
			// Tables live until AfterRendering; dump them just before.
			q.Enqueue(atmosphere.AfterRenderingPostProcessing, dumpPass{
				feature: feature, color: color, dir: cfg.out, dl: dl, preview: previewOpts, enabled: cfg.preview,
			})
		}
		if err := q.Run(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}

	st := feature.Pipeline().Stats()
	log.Printf("Rendered %d frames in %v on %s (%s)", cfg.frames, time.Since(start).Round(time.Millisecond), dev.Name(), st.Plan)
	log.Printf("Pool: %s", p.Stats())
	return nil
}

func openDevice(name string) (backend.Device, error) {
	switch name {
	case software.Name:
		return backend.Open(software.Name)
	case wgpu.Name:
		wgpu.Register(nil)
		return backend.Open(wgpu.Name)
	case "auto":
		wgpu.Register(nil)
		return backend.Default()
	default:
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, backend.Available())
	}
}

// frameQueue is a minimal host: it runs passes by injection point, in
// enqueue order within a point.
type frameQueue struct {
	passes []queued
}

type queued struct {
	at   atmosphere.InjectionPoint
	seq  int
	pass atmosphere.Pass
}

func (q *frameQueue) Enqueue(at atmosphere.InjectionPoint, pass atmosphere.Pass) {
	q.passes = append(q.passes, queued{at: at, seq: len(q.passes), pass: pass})
}

// Run executes every pass. A failed pass is logged and the frame continues,
// so the release pass always runs.
func (q *frameQueue) Run() error {
	sort.SliceStable(q.passes, func(i, j int) bool {
		return q.passes[i].at < q.passes[j].at
	})
	var first error
	for _, p := range q.passes {
		if err := p.pass.Execute(); err != nil {
			log.Printf("Pass %s at %s failed: %v", p.pass.Name(), p.at, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// dumpPass writes the open frame's tables and the color buffer.
type dumpPass struct {
	feature *atmosphere.Feature
	color   *pool.Image
	dir     string
	dl      lutio.Downloader
	preview lutio.PreviewOptions
	enabled bool
}

func (d dumpPass) Name() string { return "atmolut-dump" }

func (d dumpPass) Execute() error {
	frame := d.feature.Frame()
	if frame == nil {
		return fmt.Errorf("no tables this frame")
	}
	var opts *lutio.PreviewOptions
	if d.enabled {
		opts = &d.preview
	}
	written, err := lutio.DumpFrame(d.dir, frame, d.dl, opts)
	if err != nil {
		return err
	}

	texels, err := lutio.Snapshot(d.color, d.dl)
	if err != nil {
		return err
	}
	path := filepath.Join(d.dir, colorLabel+".exr")
	if err := lutio.WriteEXR(path, texels); err != nil {
		return err
	}
	written = append(written, path)
	if opts != nil {
		path = filepath.Join(d.dir, colorLabel+".png")
		if err := lutio.WritePNG(path, texels, *opts); err != nil {
			return err
		}
		written = append(written, path)
	}

	for _, w := range written {
		log.Printf("Wrote %s", w)
	}
	return nil
}
