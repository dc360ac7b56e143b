// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/pool"
)

// Texture table appended to the kernel uniforms: one slot for the output and
// maxInputs slots for the inputs, each (width, height, bound, pad) u32.
// Must match Uniforms in common.wgsl.
const (
	slotSize    = 16
	tableSize   = (1 + maxInputs) * slotSize
	uniformSize = kernel.UniformSize + tableSize
)

// uniforms appends the texture table of inv to its uniform block.
func uniforms(inv *kernel.Invocation) []byte {
	buf := make([]byte, uniformSize)
	copy(buf, inv.Uniforms)

	putSlot := func(i int, img *pool.Image) {
		off := kernel.UniformSize + i*slotSize
		if img == nil {
			return
		}
		//nolint:gosec // G115: image sizes are small positive values
		binary.LittleEndian.PutUint32(buf[off:], uint32(img.Width()))
		//nolint:gosec // G115: image sizes are small positive values
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(img.Height()))
		binary.LittleEndian.PutUint32(buf[off+8:], 1)
	}
	putSlot(0, inv.Output)
	for i, name := range inv.Kernel.Inputs() {
		putSlot(1+i, inv.Input(name))
	}
	return buf
}

// Dispatch implements kernel.Executor.
func (d *Device) Dispatch(inv *kernel.Invocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	k, ok := d.kernels[inv.Kernel.ID]
	if !ok {
		return fmt.Errorf("%w: %s", kernel.ErrNotRegistered, inv.Kernel.ID)
	}
	out, err := d.buffer(inv.Output)
	if err != nil {
		return err
	}

	ub, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "atmos_uniforms", Size: uniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create uniform buffer: %w", err)
	}
	defer d.device.DestroyBuffer(ub)
	d.queue.WriteBuffer(ub, 0, uniforms(inv))

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: uniformSize}},
		{Binding: 1, Resource: gputypes.BufferBinding{Buffer: out.buf.NativeHandle(), Offset: 0, Size: out.size}},
	}
	for i, name := range inv.Kernel.Inputs() {
		//nolint:gosec // G115: at most maxInputs
		binding := uint32(2 + i)
		img := inv.Input(name)
		if img == nil {
			entries = append(entries, gputypes.BindGroupEntry{
				Binding: binding, Resource: gputypes.BufferBinding{Buffer: d.dummy.NativeHandle(), Offset: 0, Size: texelSize},
			})
			continue
		}
		in, err := d.buffer(img)
		if err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: binding, Resource: gputypes.BufferBinding{Buffer: in.buf.NativeHandle(), Offset: 0, Size: in.size},
		})
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "atmos_" + string(inv.Kernel.ID) + "_bind", Layout: k.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group: %w", err)
	}
	defer d.device.DestroyBindGroup(bg)

	//nolint:gosec // G115: dispatch counts are small positive values
	x, y := uint32(inv.Dispatch[0]), uint32(inv.Dispatch[1])
	return d.submit(string(inv.Kernel.ID), func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "atmos_" + string(inv.Kernel.ID)})
		pass.SetPipeline(k.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(x, y, 1)
		pass.End()
	})
}

// Clear implements kernel.Executor.
func (d *Device) Clear(img *pool.Image, color mgl32.Vec4) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	b, err := d.buffer(img)
	if err != nil {
		return err
	}
	d.queue.WriteBuffer(b.buf, 0, fillTexels(color, int(b.size/texelSize)))
	return nil
}

// fillTexels returns n copies of color as little-endian vec4<f32>.
func fillTexels(color mgl32.Vec4, n int) []byte {
	buf := make([]byte, n*texelSize)
	if n == 0 {
		return buf
	}
	for i, c := range color {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(c))
	}
	for filled := texelSize; filled < len(buf); filled *= 2 {
		copy(buf[filled:], buf[:filled])
	}
	return buf
}

// Copy implements kernel.Executor.
func (d *Device) Copy(dst, src *pool.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	db, err := d.buffer(dst)
	if err != nil {
		return err
	}
	sb, err := d.buffer(src)
	if err != nil {
		return err
	}
	if db.size != sb.size {
		return fmt.Errorf("%w: copy %d bytes into %d", kernel.ErrInvalidOutput, sb.size, db.size)
	}
	return d.submit("copy", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(sb.buf, db.buf, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: sb.size},
		})
	})
}

// Download reads img back to host memory as little-endian vec4<f32> texels
// in row-major order.
func (d *Device) Download(img *pool.Image) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	b, err := d.buffer(img)
	if err != nil {
		return nil, err
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "atmos_staging", Size: b.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submit("download", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: b.size},
		})
	})
	if err != nil {
		return nil, err
	}

	data := make([]byte, b.size)
	if err := d.queue.ReadBuffer(staging, 0, data); err != nil {
		return nil, fmt.Errorf("wgpu: readback: %w", err)
	}
	return data, nil
}

// submit records one command buffer, submits it and waits for the GPU.
// Callers hold d.mu.
func (d *Device) submit(label string, record func(enc hal.CommandEncoder)) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "atmos_" + label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	record(encoder)
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit %s: %w", label, err)
	}
	ok, err := d.device.Wait(fence, 1, d.timeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait for %s: %w", label, err)
	}
	if !ok {
		return fmt.Errorf("wgpu: wait for %s: timed out after %s", label, d.timeout)
	}
	return nil
}
