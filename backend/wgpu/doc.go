// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu is the GPU device of the atmosphere pipeline, built on the
// gogpu/wgpu HAL.
//
// Images are storage buffers of vec4<f32> texels; kernels are WGSL compute
// shaders compiled to SPIR-V with gogpu/naga. Every kernel binds
//
//	@binding(0)  uniforms: parameter block, view, texture table
//	@binding(1)  output texels (read_write)
//	@binding(2+) inputs in kernel.Signature.Inputs order (read)
//
// Absent optional inputs are bound to a one-texel dummy buffer and marked
// unbound in the texture table.
//
// A device either shares the host's GPU through a gpucontext.DeviceProvider:
//
//	dev, err := wgpu.NewFromProvider(provider)
//
// or opens its own adapter when a HAL backend is linked:
//
//	import _ "github.com/gogpu/wgpu/hal/vulkan"
//
//	dev, err := wgpu.Open()
//
// Register makes either form available through backend.Default, where it
// takes priority over the software device.
package wgpu
