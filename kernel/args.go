package kernel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/atmosphere/params"
)

// VoxelGrid is the logical size of the aerial perspective volume. The volume
// is stored as a 2-D image of X*Z by Y texels: Z slices of X by Y laid side
// by side.
type VoxelGrid struct {
	X, Y, Z int
}

// DefaultVoxelGrid is the 32x32x32 grid packed into a 1024x32 image.
var DefaultVoxelGrid = VoxelGrid{X: 32, Y: 32, Z: 32}

// PackedSize returns the image size that holds the grid.
func (g VoxelGrid) PackedSize() (width, height int) {
	return g.X * g.Z, g.Y
}

// Valid reports whether all dimensions are positive.
func (g VoxelGrid) Valid() bool {
	return g.X > 0 && g.Y > 0 && g.Z > 0
}

// String returns "XxYxZ".
func (g VoxelGrid) String() string {
	return fmt.Sprintf("%dx%dx%d", g.X, g.Y, g.Z)
}

// View describes the camera for one frame.
type View struct {
	// CameraPosition is in world space, meters.
	CameraPosition mgl32.Vec3

	// Forward and Up span the camera basis. They need not be normalized.
	Forward mgl32.Vec3
	Up      mgl32.Vec3

	// FovY is the vertical field of view in radians.
	FovY float32

	// SunDirection points from the scene towards the sun.
	SunDirection mgl32.Vec3

	// Width and Height are the frame size in pixels.
	Width, Height int
}

// DefaultView returns a camera looking at the horizon with the sun 30
// degrees above it.
func DefaultView(width, height int) View {
	return View{
		Forward:      mgl32.Vec3{0, 0, -1},
		Up:           mgl32.Vec3{0, 1, 0},
		FovY:         mgl32.DegToRad(60),
		SunDirection: mgl32.Vec3{0, 0.5, -0.8660254},
		Width:        width,
		Height:       height,
	}
}

// Aspect returns width over height.
func (v View) Aspect() float32 {
	if v.Height == 0 {
		return 1
	}
	return float32(v.Width) / float32(v.Height)
}

// Basis returns the orthonormal camera basis.
func (v View) Basis() (forward, right, up mgl32.Vec3) {
	forward = normalizeOr(v.Forward, mgl32.Vec3{0, 0, -1})
	right = forward.Cross(normalizeOr(v.Up, mgl32.Vec3{0, 1, 0}))
	if right.Len() < 1e-6 {
		right = forward.Cross(mgl32.Vec3{1, 0, 0})
	}
	right = right.Normalize()
	up = right.Cross(forward)
	return forward, right, up
}

// Ray returns the world-space direction through pixel (x, y) with y growing
// downwards, sampled at the pixel center.
func (v View) Ray(x, y int) mgl32.Vec3 {
	w, h := max(v.Width, 1), max(v.Height, 1)
	return v.RayAt((float32(x)+0.5)/float32(w), (float32(y)+0.5)/float32(h))
}

// RayAt returns the world-space direction through the normalized screen
// position (u, v), both in [0, 1] with v growing downwards.
func (v View) RayAt(u, t float32) mgl32.Vec3 {
	forward, right, up := v.Basis()
	tan := float32(math.Tan(float64(v.FovY) / 2))
	sx := (2*u - 1) * tan * v.Aspect()
	sy := (1 - 2*t) * tan
	return forward.Add(right.Mul(sx)).Add(up.Mul(sy)).Normalize()
}

// Sun returns the normalized sun direction.
func (v View) Sun() mgl32.Vec3 {
	return normalizeOr(v.SunDirection, mgl32.Vec3{0, 1, 0})
}

func normalizeOr(v, fallback mgl32.Vec3) mgl32.Vec3 {
	if v.Len() < 1e-12 {
		return fallback
	}
	return v.Normalize()
}

// Args is the immutable argument set of one kernel invocation. All kernels
// in a frame receive the same Args value.
type Args struct {
	block *params.Block
	view  View
	grid  VoxelGrid
}

// NewArgs bundles a parameter snapshot with the frame view. A nil block
// is replaced with params.Default(), an invalid grid with DefaultVoxelGrid.
func NewArgs(block *params.Block, view View, grid VoxelGrid) Args {
	if block == nil {
		block = params.Default()
	}
	if !grid.Valid() {
		grid = DefaultVoxelGrid
	}
	return Args{block: block, view: view, grid: grid}
}

// Block returns the parameter snapshot.
func (a Args) Block() *params.Block {
	if a.block == nil {
		return params.Default()
	}
	return a.block
}

// View returns the frame view.
func (a Args) View() View { return a.view }

// Grid returns the voxel grid of the aerial perspective volume.
func (a Args) Grid() VoxelGrid {
	if !a.grid.Valid() {
		return DefaultVoxelGrid
	}
	return a.grid
}

// AerialSliceMeters is the depth of one volume slice per unit of
// AerialPerspectiveDistance.
const AerialSliceMeters = 1000

// SliceDepth returns the depth of one aerial perspective slice in meters.
func (a Args) SliceDepth() float32 {
	return a.Block().AerialPerspectiveDistance() * AerialSliceMeters
}

// VolumeDepth returns the depth covered by the whole volume in meters.
func (a Args) VolumeDepth() float32 {
	return a.SliceDepth() * float32(a.Grid().Z)
}

// ViewUniformSize is the byte size of the view section of Uniforms.
const ViewUniformSize = 80

// UniformSize is the total byte size returned by Args.Uniforms.
const UniformSize = params.UniformSize + ViewUniformSize

// Uniforms packs the parameter block followed by the view and voxel grid
// into a little-endian uniform buffer. The view section layout is:
//
//	0  camera position  vec3
//	16 forward          vec3
//	32 up               vec3
//	44 fovY             f32
//	48 sun direction    vec3
//	60 width, height    u32, u32
//	68 grid x, y, z     u32, u32, u32
func (a Args) Uniforms() []byte {
	buf := make([]byte, UniformSize)
	copy(buf, a.Block().Uniforms())

	v := buf[params.UniformSize:]
	putVec3 := func(off int, x mgl32.Vec3) {
		for i, c := range x {
			binary.LittleEndian.PutUint32(v[off+4*i:], math.Float32bits(c))
		}
	}
	putU32 := func(off, x int) {
		//nolint:gosec // G115: sizes are small positive values
		binary.LittleEndian.PutUint32(v[off:], uint32(max(x, 0)))
	}

	forward, _, up := a.view.Basis()
	putVec3(0, a.view.CameraPosition)
	putVec3(16, forward)
	putVec3(32, up)
	binary.LittleEndian.PutUint32(v[44:], math.Float32bits(a.view.FovY))
	putVec3(48, a.view.Sun())
	putU32(60, a.view.Width)
	putU32(64, a.view.Height)
	g := a.Grid()
	putU32(68, g.X)
	putU32(72, g.Y)
	putU32(76, g.Z)
	return buf
}
