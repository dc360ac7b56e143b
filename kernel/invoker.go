package kernel

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/pool"
)

// Invocation is one resolved kernel call handed to an Executor. It is built
// per call and discarded afterwards.
type Invocation struct {
	Kernel    Signature
	Args      Args
	Output    *pool.Image
	Inputs    map[string]*pool.Image
	Uniforms  []byte
	Dispatch  [2]int
	Workgroup [2]int
}

// Input returns the image bound to name, or nil for an absent optional
// input.
func (inv *Invocation) Input(name string) *pool.Image {
	return inv.Inputs[name]
}

// Executor runs kernels on a device. Backends implement it.
type Executor interface {
	// Dispatch runs inv.Kernel writing inv.Output.
	Dispatch(inv *Invocation) error

	// Clear fills img with color.
	Clear(img *pool.Image, color mgl32.Vec4) error

	// Copy copies src into dst. Both must have the same size and format.
	Copy(dst, src *pool.Image) error
}

// WorkgroupSize is the 2-D workgroup size assumed for dispatch counts.
const WorkgroupSize = 8

// Stats counts invoker activity.
type Stats struct {
	Dispatches uint64
	Clears     uint64
	Copies     uint64
	Rejected   uint64
}

// Invoker validates kernel calls and forwards them to an Executor.
type Invoker struct {
	exec     Executor
	bindings *Bindings
	stats    Stats
}

// NewInvoker creates an invoker reading published textures from bindings.
// A nil bindings table gets a fresh one.
func NewInvoker(exec Executor, bindings *Bindings) *Invoker {
	if bindings == nil {
		bindings = NewBindings()
	}
	return &Invoker{exec: exec, bindings: bindings}
}

// Bindings returns the published texture table.
func (inv *Invoker) Bindings() *Bindings { return inv.bindings }

// Executor returns the backend.
func (inv *Invoker) Executor() Executor { return inv.exec }

// Stats returns invocation counters.
func (inv *Invoker) Stats() Stats { return inv.stats }

// Run invokes kernel id writing output. Inputs are resolved from direct
// first, then from the published bindings. Every required input must
// resolve; otherwise ErrMissingDependency is returned and the executor is
// never called.
func (inv *Invoker) Run(id ID, args Args, output *pool.Image, direct map[string]*pool.Image) error {
	sig, err := SignatureOf(id)
	if err != nil {
		inv.stats.Rejected++
		return err
	}
	if !output.Valid() {
		inv.stats.Rejected++
		return fmt.Errorf("%w: %s output is nil or released", ErrInvalidOutput, id)
	}

	inputs := make(map[string]*pool.Image, len(sig.Required)+len(sig.Optional))
	for _, name := range sig.Required {
		img, err := inv.resolve(name, direct)
		if err != nil {
			inv.stats.Rejected++
			return fmt.Errorf("kernel %s: %w", id, err)
		}
		inputs[name] = img
	}
	for _, name := range sig.Optional {
		if img, err := inv.resolve(name, direct); err == nil {
			inputs[name] = img
		}
	}
	for name, img := range inputs {
		if img == output || sameSurface(img.Surface(), output.Surface()) {
			inv.stats.Rejected++
			return fmt.Errorf("%w: %s reads and writes %q", ErrInvalidOutput, id, name)
		}
	}

	call := &Invocation{
		Kernel:    sig,
		Args:      args,
		Output:    output,
		Inputs:    inputs,
		Uniforms:  args.Uniforms(),
		Dispatch:  [2]int{ceilDiv(output.Width(), WorkgroupSize), ceilDiv(output.Height(), WorkgroupSize)},
		Workgroup: [2]int{WorkgroupSize, WorkgroupSize},
	}

	logging.Logger().Debug("kernel: dispatch",
		"kernel", string(id),
		"output", output.Desc().String(),
		"inputs", inputNames(inputs))

	if err := inv.exec.Dispatch(call); err != nil {
		return fmt.Errorf("kernel %s: %w", id, err)
	}
	inv.stats.Dispatches++
	return nil
}

// Clear fills img with color.
func (inv *Invoker) Clear(img *pool.Image, color mgl32.Vec4) error {
	if !img.Valid() {
		return fmt.Errorf("%w: clear target is nil or released", ErrInvalidOutput)
	}
	if err := inv.exec.Clear(img, color); err != nil {
		return fmt.Errorf("kernel: clear %s: %w", img.Label(), err)
	}
	inv.stats.Clears++
	return nil
}

// Copy copies src into dst.
func (inv *Invoker) Copy(dst, src *pool.Image) error {
	if !dst.Valid() {
		return fmt.Errorf("%w: copy target is nil or released", ErrInvalidOutput)
	}
	if !src.Valid() {
		return fmt.Errorf("%w: copy source is nil or released", ErrMissingDependency)
	}
	if dst.Width() != src.Width() || dst.Height() != src.Height() || dst.Format() != src.Format() {
		return fmt.Errorf("%w: copy %s into %s", ErrInvalidOutput, src.Desc(), dst.Desc())
	}
	if err := inv.exec.Copy(dst, src); err != nil {
		return fmt.Errorf("kernel: copy %s: %w", src.Label(), err)
	}
	inv.stats.Copies++
	return nil
}

func (inv *Invoker) resolve(name string, direct map[string]*pool.Image) (*pool.Image, error) {
	if img, ok := direct[name]; ok {
		if !img.Valid() {
			return nil, fmt.Errorf("%w: direct input %q is nil or released", ErrMissingDependency, name)
		}
		return img, nil
	}
	return inv.bindings.Lookup(name)
}

func inputNames(inputs map[string]*pool.Image) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// sameSurface reports whether a and b are the same backend surface.
// Surfaces of a type that is not comparable are never treated as aliases.
func sameSurface(a, b pool.Surface) bool {
	if a == nil || b == nil {
		return false
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
