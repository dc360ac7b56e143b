package lut

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

// Fixed lookup table sizes.
const (
	DefaultLUTWidth  = 256
	DefaultLUTHeight = 128
)

// LUTFormat is the texel format of every table: transmittance spans several
// orders of magnitude and needs full float precision.
const LUTFormat = gputypes.TextureFormatRGBA32Float

// ErrFrameInFlight is returned by Run while the previous frame is open.
var ErrFrameInFlight = errors.New("lut: previous frame not closed")

// ClearColor is the sky-view clear value.
var ClearColor = mgl32.Vec4{0, 0, 0, 0}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	lutWidth, lutHeight int
	skyWidth, skyHeight int
	grid                kernel.VoxelGrid
}

// WithLUTSize sets the transmittance and multi-scatter table size.
// Non-positive values keep the 256x128 default.
func WithLUTSize(width, height int) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.lutWidth, o.lutHeight = width, height
		}
	}
}

// WithSkyViewSize fixes the sky-view size. By default the sky-view follows
// the frame size of each View.
func WithSkyViewSize(width, height int) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.skyWidth, o.skyHeight = width, height
		}
	}
}

// WithVoxelGrid sets the logical grid of the aerial perspective volume.
func WithVoxelGrid(g kernel.VoxelGrid) Option {
	return func(o *options) {
		if g.Valid() {
			o.grid = g
		}
	}
}

// Stats describes the last frame.
type Stats struct {
	Frame      uint64
	Plan       string
	Dispatches int
	Acquires   int
	Releases   int
	Duration   time.Duration
	Failed     bool
}

// String returns a one-line summary.
func (s Stats) String() string {
	status := "ok"
	if s.Failed {
		status = "failed"
	}
	return fmt.Sprintf("frame %d [%s] %s: %d dispatches, %d acquires, %d releases in %v",
		s.Frame, s.Plan, status, s.Dispatches, s.Acquires, s.Releases, s.Duration)
}

// Pipeline runs the lookup table kernels.
type Pipeline struct {
	mu sync.Mutex

	pool    *pool.Pool
	invoker *kernel.Invoker
	store   *params.Store
	opts    options

	state  State
	frame  *Frame
	frames uint64
	last   Stats
}

// New creates a pipeline. The store supplies the parameter snapshot when
// Run is called without an explicit block; a nil store uses the defaults.
func New(p *pool.Pool, inv *kernel.Invoker, store *params.Store, opts ...Option) *Pipeline {
	o := options{
		lutWidth:  DefaultLUTWidth,
		lutHeight: DefaultLUTHeight,
		grid:      kernel.DefaultVoxelGrid,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		store = params.NewStore(params.DefaultSettings())
	}
	return &Pipeline{pool: p, invoker: inv, store: store, opts: o}
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns statistics of the last frame.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Pool returns the resource pool.
func (p *Pipeline) Pool() *pool.Pool { return p.pool }

// Invoker returns the kernel invoker.
func (p *Pipeline) Invoker() *kernel.Invoker { return p.invoker }

// Store returns the parameter store.
func (p *Pipeline) Store() *params.Store { return p.store }

// Run generates the tables for one frame. A nil block takes a snapshot of
// the store. On success the returned Frame owns every table and must be
// closed. On failure everything acquired so far is released, the frame's
// names are unbound, and the pipeline is back to StateIdle: the host renders
// the frame without the tables.
func (p *Pipeline) Run(view kernel.View, block *params.Block) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frame != nil {
		return nil, fmt.Errorf("%w: frame %d", ErrFrameInFlight, p.frame.id)
	}
	if block == nil {
		block = p.store.Snapshot()
	}

	start := time.Now()
	p.frames++
	p.state = StateParamsBound

	plan := NewPlan(block)
	f := &Frame{
		id:       p.frames,
		pipeline: p,
		plan:     plan,
		args:     kernel.NewArgs(block, view, p.opts.grid),
		images:   make(map[string]*pool.Image, len(plan.stages)),
	}
	stats := Stats{Frame: f.id, Plan: plan.String()}

	bindings := p.invoker.Bindings()
	for _, name := range plan.Unbound() {
		bindings.Unbind(name)
	}

	log := logging.Logger()
	log.Debug("lut: frame start", "frame", f.id, "plan", plan.String())

	for _, stage := range plan.stages {
		p.state = stageInfo[stage].pending
		if err := p.runStage(f, stage, &stats); err != nil {
			stats.Releases = f.release()
			stats.Failed = true
			stats.Duration = time.Since(start)
			p.state = StateIdle
			p.last = stats

			log.Warn("lut: frame dropped", "frame", f.id, "stage", stage.String(), "err", err)
			return nil, fmt.Errorf("lut: %s: %w", stage, err)
		}
	}

	p.state = StatePublished
	p.frame = f
	stats.Duration = time.Since(start)
	p.last = stats

	log.Debug("lut: frame published", "frame", f.id, "textures", f.Published())
	return f, nil
}

func (p *Pipeline) runStage(f *Frame, stage Stage, stats *Stats) error {
	desc := p.desc(stage, f.args.View())
	img, err := p.pool.Acquire(desc)
	if err != nil {
		return err
	}
	stats.Acquires++
	f.own(stage.Output(), img)

	if stage == StageSkyView {
		if err := p.invoker.Clear(img, ClearColor); err != nil {
			return err
		}
	}
	if err := p.invoker.Run(stage.Kernel(), f.args, img, nil); err != nil {
		return err
	}
	stats.Dispatches++

	p.invoker.Bindings().Publish(stage.Output(), img)
	return nil
}

func (p *Pipeline) desc(stage Stage, view kernel.View) pool.Desc {
	d := pool.Desc{
		Label:      stage.Output(),
		Format:     LUTFormat,
		ColorSpace: pool.ColorSpaceLinear,
	}
	switch stage {
	case StageTransmittance, StageMultiScatter:
		d.Width, d.Height = p.opts.lutWidth, p.opts.lutHeight
	case StageSkyView:
		d.Width, d.Height = view.Width, view.Height
		if p.opts.skyWidth > 0 {
			d.Width, d.Height = p.opts.skyWidth, p.opts.skyHeight
		}
	case StageAerialVolume:
		d.Width, d.Height = p.opts.grid.PackedSize()
	}
	return d
}

// closeFrame is called by Frame.Close with the pipeline unlocked.
func (p *Pipeline) closeFrame(f *Frame, released int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last.Frame == f.id {
		p.last.Releases = released
	}
	if p.frame == f {
		p.frame = nil
		p.state = StateIdle
	}
}
