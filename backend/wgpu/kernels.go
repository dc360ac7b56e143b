// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/atmosphere/internal/cache"
	"github.com/gogpu/atmosphere/kernel"
)

//go:embed shaders/common.wgsl
var commonWGSL string

//go:embed shaders/transmittance.wgsl
var transmittanceWGSL string

//go:embed shaders/multi_scatter.wgsl
var multiScatterWGSL string

//go:embed shaders/sky_view.wgsl
var skyViewWGSL string

//go:embed shaders/aerial_volume.wgsl
var aerialVolumeWGSL string

//go:embed shaders/composite.wgsl
var compositeWGSL string

// EntryPoint is the compute entry point of the built-in kernels.
const EntryPoint = "main"

// maxInputs is the number of input slots in the uniform texture table.
// Must match MAX_INPUTS in common.wgsl.
const maxInputs = 3

// ReferenceSource returns the complete WGSL of the built-in kernel id: the
// shared prelude followed by the kernel body.
func ReferenceSource(id kernel.ID) (string, error) {
	var body string
	switch id {
	case kernel.Transmittance:
		body = transmittanceWGSL
	case kernel.MultiScatterTransmittance:
		body = multiScatterWGSL
	case kernel.SkyView:
		body = skyViewWGSL
	case kernel.AerialPerspectiveVolume:
		body = aerialVolumeWGSL
	case kernel.AerialPerspectiveComposite:
		body = compositeWGSL
	default:
		return "", fmt.Errorf("%w: %q", kernel.ErrUnknownKernel, id)
	}
	return commonWGSL + "\n" + body, nil
}

// computeKernel holds the pipeline objects of one registered kernel.
type computeKernel struct {
	sig        kernel.Signature
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (k *computeKernel) destroy(device hal.Device) {
	if k.pipeline != nil {
		device.DestroyComputePipeline(k.pipeline)
	}
	if k.pipeLayout != nil {
		device.DestroyPipelineLayout(k.pipeLayout)
	}
	if k.bindLayout != nil {
		device.DestroyBindGroupLayout(k.bindLayout)
	}
	if k.module != nil {
		device.DestroyShaderModule(k.module)
	}
}

// spirvCache holds compiled kernels keyed by WGSL source, shared by every
// device in the process.
var spirvCache = cache.New[string, []uint32](32)

// CompileWGSL compiles WGSL source to SPIR-V words. Results are cached by
// source; callers must not modify the returned slice.
func CompileWGSL(source string) ([]uint32, error) {
	return spirvCache.Load(source, func() ([]uint32, error) {
		return compileWGSL(source)
	})
}

func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("wgpu: compile shader: SPIR-V size %d is not word aligned", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// RegisterKernel compiles source and installs it as the implementation of
// id, replacing any earlier one.
//
// The shader must follow the binding layout of the built-in kernels:
// binding 0 is the uniform block, binding 1 the output texels, and
// bindings 2.. the inputs in kernel.Signature.Inputs order.
func (d *Device) RegisterKernel(id kernel.ID, source, entryPoint string) error {
	if _, err := kernel.SignatureOf(id); err != nil {
		return err
	}
	words, err := CompileWGSL(source)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return d.RegisterSPIRV(id, words, entryPoint)
}

// RegisterSPIRV installs precompiled SPIR-V as the implementation of id.
func (d *Device) RegisterSPIRV(id kernel.ID, words []uint32, entryPoint string) error {
	sig, err := kernel.SignatureOf(id)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return fmt.Errorf("wgpu: empty SPIR-V for %s", id)
	}
	if len(sig.Inputs()) > maxInputs {
		return fmt.Errorf("wgpu: %s has %d inputs, at most %d supported", id, len(sig.Inputs()), maxInputs)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	k, err := d.createKernel(sig, words, entryPoint)
	if err != nil {
		return fmt.Errorf("wgpu: %s: %w", id, err)
	}
	if old := d.kernels[id]; old != nil {
		old.destroy(d.device)
	}
	d.kernels[id] = k
	return nil
}

// Registered reports whether id has an implementation.
func (d *Device) Registered(id kernel.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.kernels[id]
	return ok
}

func (d *Device) createKernel(sig kernel.Signature, words []uint32, entryPoint string) (*computeKernel, error) {
	k := &computeKernel{sig: sig}
	label := "atmos_" + string(sig.ID)

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("create shader module: %w", err)
	}
	k.module = module

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: layoutEntries(sig),
	})
	if err != nil {
		k.destroy(d.device)
		return nil, fmt.Errorf("create bind group layout: %w", err)
	}
	k.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		k.destroy(d.device)
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}
	k.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label + "_pipeline", Layout: k.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: entryPoint},
	})
	if err != nil {
		k.destroy(d.device)
		return nil, fmt.Errorf("create compute pipeline: %w", err)
	}
	k.pipeline = pipeline
	return k, nil
}

// layoutEntries returns the bind group layout of sig: uniforms, output,
// then one read-only storage buffer per input.
func layoutEntries(sig kernel.Signature) []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
	}
	for i := range sig.Inputs() {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(2 + i), //nolint:gosec // G115: at most maxInputs
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}
	return entries
}

func (d *Device) registerReferenceKernels() error {
	for _, sig := range kernel.Signatures() {
		src, err := ReferenceSource(sig.ID)
		if err != nil {
			return err
		}
		if err := d.RegisterKernel(sig.ID, src, EntryPoint); err != nil {
			return err
		}
	}
	return nil
}
