// Package aerial composites aerial perspective onto the frame color.
//
// The pass copies the frame color into a scratch image and runs the
// composite kernel from the scratch copy back into the frame color, reading
// the aerial perspective volume published by the lookup table pipeline.
//
// The pass is not idempotent: it modifies the buffer it reads, so applying
// it twice to the same frame applies the fog twice.
package aerial

import (
	"errors"
	"fmt"

	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/lut"
	"github.com/gogpu/atmosphere/pool"
)

// ScratchLabel is the pool slot of the scratch copy.
const ScratchLabel = "aerial-perspective-scratch"

// ErrNoFrame is returned when Apply is given a nil or closed frame.
var ErrNoFrame = errors.New("aerial: no open frame")

// Pass applies aerial perspective.
type Pass struct {
	pool    *pool.Pool
	invoker *kernel.Invoker

	applied uint64
	skipped uint64
}

// New creates a pass that takes scratch memory from p and runs kernels
// through inv.
func New(p *pool.Pool, inv *kernel.Invoker) *Pass {
	return &Pass{pool: p, invoker: inv}
}

// Applied returns how many times the composite ran.
func (p *Pass) Applied() uint64 { return p.applied }

// Skipped returns how many calls were no-ops because aerial perspective
// was disabled.
func (p *Pass) Skipped() uint64 { return p.skipped }

// Apply composites the frame's aerial perspective volume onto color in
// place. It does nothing when aerial perspective is disabled in the frame's
// parameters. The scratch image is released on every path.
func (p *Pass) Apply(frame *lut.Frame, color *pool.Image) (err error) {
	if frame == nil || frame.Closed() {
		return ErrNoFrame
	}
	if !frame.Block().AerialPerspective() {
		p.skipped++
		return nil
	}
	if !color.Valid() {
		return fmt.Errorf("aerial: %w: frame color is nil or released", kernel.ErrInvalidOutput)
	}

	d := color.Desc()
	scratch, err := p.pool.Acquire(pool.Desc{
		Label:      ScratchLabel,
		Width:      d.Width,
		Height:     d.Height,
		Format:     d.Format,
		ColorSpace: d.ColorSpace,
	})
	if err != nil {
		return fmt.Errorf("aerial: %w", err)
	}
	defer func() {
		if rerr := p.pool.Release(scratch); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if err := p.invoker.Copy(scratch, color); err != nil {
		return fmt.Errorf("aerial: %w", err)
	}
	direct := map[string]*pool.Image{kernel.SourceColor: scratch}
	if err := p.invoker.Run(kernel.AerialPerspectiveComposite, frame.Args(), color, direct); err != nil {
		return fmt.Errorf("aerial: %w", err)
	}

	p.applied++
	logging.Logger().Debug("aerial: composited", "frame", frame.ID(), "color", d.String())
	return nil
}
