package atmosphere

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/atmosphere/aerial"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/lut"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

// Pass names used with Scheduler.
const (
	LUTPassName       = "atmosphere-lut"
	CompositePassName = "atmosphere-aerial-perspective"
	ReleasePassName   = "atmosphere-release"
)

// Option configures a Feature.
//
// Example:
//
//	f := atmosphere.New(p, inv, store,
//		atmosphere.WithInjectionPoint(atmosphere.BeforeRenderingSkybox),
//		atmosphere.WithPipelineOptions(lut.WithSkyViewSize(256, 128)),
//	)
type Option func(*options)

type options struct {
	point   InjectionPoint
	lutOpts []lut.Option
}

// WithInjectionPoint sets where the tables are generated. The composite
// runs at the following point.
func WithInjectionPoint(p InjectionPoint) Option {
	return func(o *options) {
		if p <= AfterRendering {
			o.point = p
		}
	}
}

// WithPipelineOptions passes options to the lookup table pipeline.
func WithPipelineOptions(opts ...lut.Option) Option {
	return func(o *options) {
		o.lutOpts = append(o.lutOpts, opts...)
	}
}

// FeatureStats counts frames.
type FeatureStats struct {
	Frames  uint64
	Dropped uint64
}

// Feature generates the atmosphere tables and composites aerial perspective
// for a host renderer.
type Feature struct {
	mu sync.Mutex

	pipeline  *lut.Pipeline
	composite *aerial.Pass
	point     InjectionPoint

	frame *lut.Frame
	stats FeatureStats
}

// New creates a feature over a pool and invoker sharing one device.
func New(p *pool.Pool, inv *kernel.Invoker, store *params.Store, opts ...Option) *Feature {
	o := options{point: DefaultInjectionPoint}
	for _, opt := range opts {
		opt(&o)
	}
	return &Feature{
		pipeline:  lut.New(p, inv, store, o.lutOpts...),
		composite: aerial.New(p, inv),
		point:     o.point,
	}
}

// Pipeline returns the lookup table pipeline.
func (f *Feature) Pipeline() *lut.Pipeline { return f.pipeline }

// Composite returns the aerial perspective pass.
func (f *Feature) Composite() *aerial.Pass { return f.composite }

// InjectionPoint returns where the tables are generated.
func (f *Feature) InjectionPoint() InjectionPoint { return f.point }

// Stats returns frame counters.
func (f *Feature) Stats() FeatureStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Frame returns the open frame, or nil between frames.
func (f *Feature) Frame() *lut.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// AddPasses enqueues one frame's work: table generation at the injection
// point, the composite at the next point, and the release of the tables at
// AfterRendering.
func (f *Feature) AddPasses(s Scheduler, view kernel.View, color *pool.Image) {
	s.Enqueue(f.point, passFunc{LUTPassName, func() error { return f.begin(view) }})
	s.Enqueue(f.point.Next(), passFunc{CompositePassName, func() error { return f.apply(color) }})
	s.Enqueue(AfterRendering, passFunc{ReleasePassName, f.end})
}

// RenderFrame runs one whole frame directly: tables, composite, release.
func (f *Feature) RenderFrame(view kernel.View, color *pool.Image) error {
	if err := f.begin(view); err != nil {
		return err
	}
	err := f.apply(color)
	return errors.Join(err, f.end())
}

func (f *Feature) begin(view kernel.View) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// A host that dropped the rest of the last frame never ran its release
	// pass. Its tables must not reach this frame.
	if stale := f.frame; stale != nil {
		f.frame = nil
		Logger().Warn("atmosphere: previous frame not released, closing it",
			"frame", stale.ID())
		if err := stale.Close(); err != nil {
			Logger().Warn("atmosphere: close previous frame", "err", err)
		}
	}

	f.stats.Frames++
	frame, err := f.pipeline.Run(view, nil)
	if err != nil {
		f.stats.Dropped++
		return fmt.Errorf("atmosphere: frame dropped: %w", err)
	}
	f.frame = frame
	return nil
}

// apply composites onto color. Without tables, because generation failed,
// the frame is left as is.
func (f *Feature) apply(color *pool.Image) error {
	f.mu.Lock()
	frame := f.frame
	f.mu.Unlock()

	if frame == nil {
		Logger().Debug("atmosphere: composite skipped, no tables this frame")
		return nil
	}
	return f.composite.Apply(frame, color)
}

func (f *Feature) end() error {
	f.mu.Lock()
	frame := f.frame
	f.frame = nil
	f.mu.Unlock()

	if frame == nil {
		return nil
	}
	return frame.Close()
}
