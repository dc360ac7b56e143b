package params

import (
	"encoding/binary"
	"math"
)

// UniformSize is the byte size of the packed uniform block.
// Must match AtmosphereParams in the GPU kernels.
const UniformSize = 128

// Uniforms packs the block into the little-endian layout GPU kernels bind at
// group 0, binding 0:
//
//	offset  0: lightColor       vec4<f32>
//	offset 16: planetCenter     vec3<f32>, planetRadius f32
//	offset 32: atmosphereHeight, lightIntensity, rayMarchCount, multiScatter
//	offset 48: mieScale, mieAnisotropy, mieHeight, rayleighScale
//	offset 64: rayleighHeight, ozoneScale, ozoneHeight, ozoneWidth
//	offset 80: multiScatterStrength (x10), aerialPerspective, aerialDistance, aerialIntensity
//	offset 96: aerialAttenuation, pad, pad, pad
//	offset 112: reserved
func (b *Block) Uniforms() []byte {
	buf := make([]byte, UniformSize)
	w := uniformWriter{buf: buf}
	w.vec(b.lightColor[:])
	w.vec(b.planetCenter[:])
	w.f32(b.planetRadius)
	w.f32(b.atmosphereHeight)
	w.f32(b.lightIntensity)
	w.u32(uint32(b.rayMarchCount)) //nolint:gosec // G115: clamped to [1, MaxRayMarchCount]
	w.flag(b.multiScatter)
	w.f32(b.mieScatteringScale)
	w.f32(b.mieAnisotropy)
	w.f32(b.mieScatteringHeight)
	w.f32(b.rayleighScatteringScale)
	w.f32(b.rayleighScatteringHeight)
	w.f32(b.ozoneAnisotropy)
	w.f32(b.ozoneHeight)
	w.f32(b.ozoneWidth)
	w.f32(b.KernelMultiScatterStrength())
	w.flag(b.aerialPerspective)
	w.f32(b.aerialPerspectiveDistance)
	w.f32(b.aerialIntensity)
	w.f32(b.aerialDistanceAttenuation)
	return buf
}

type uniformWriter struct {
	buf []byte
	off int
}

func (w *uniformWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *uniformWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *uniformWriter) flag(v bool) {
	if v {
		w.u32(1)
		return
	}
	w.u32(0)
}

func (w *uniformWriter) vec(v []float32) {
	for _, c := range v {
		w.f32(c)
	}
}
