package software

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/gogpu/atmosphere/kernel"
)

// Context is the read-only state of one dispatch shared by every texel.
type Context struct {
	Invocation *kernel.Invocation
	Width      int
	Height     int

	medium medium
	inputs map[string]*exr.RGBAImage
}

func newContext(inv *kernel.Invocation) (*Context, error) {
	c := &Context{
		Invocation: inv,
		Width:      inv.Output.Width(),
		Height:     inv.Output.Height(),
		medium:     newMedium(inv.Args.Block()),
		inputs:     make(map[string]*exr.RGBAImage, len(inv.Inputs)),
	}
	for name, img := range inv.Inputs {
		s, err := Surface(img)
		if err != nil {
			return nil, err
		}
		c.inputs[name] = s
	}
	return c, nil
}

// Args returns the invocation arguments.
func (c *Context) Args() kernel.Args { return c.Invocation.Args }

// Has reports whether input name is bound.
func (c *Context) Has(name string) bool {
	_, ok := c.inputs[name]
	return ok
}

// UV returns the texel center of (x, y) in [0, 1].
func (c *Context) UV(x, y int) (u, v float32) {
	return (float32(x) + 0.5) / float32(c.Width), (float32(y) + 0.5) / float32(c.Height)
}

// Texel returns input name at integer coordinates, clamped to the edge.
func (c *Context) Texel(name string, x, y int) mgl32.Vec4 {
	img, ok := c.inputs[name]
	if !ok {
		return mgl32.Vec4{}
	}
	x = clampInt(x, img.Rect.Min.X, img.Rect.Max.X-1)
	y = clampInt(y, img.Rect.Min.Y, img.Rect.Max.Y-1)
	r, g, b, a := img.RGBA(x, y)
	return mgl32.Vec4{r, g, b, a}
}

// Sample bilinearly filters input name at (u, v) in [0, 1] with clamp to
// edge addressing. Absent inputs sample as zero.
func (c *Context) Sample(name string, u, v float32) mgl32.Vec4 {
	img, ok := c.inputs[name]
	if !ok {
		return mgl32.Vec4{}
	}
	return bilinear(img, img.Rect.Min.X, img.Rect.Dx(), u, v)
}

// SampleVolume filters a packed volume of grid size at (u, v, w) in
// [0, 1]: bilinear within a slice, linear between slices.
func (c *Context) SampleVolume(name string, grid kernel.VoxelGrid, u, v, w float32) mgl32.Vec4 {
	img, ok := c.inputs[name]
	if !ok {
		return mgl32.Vec4{}
	}
	s := clampF(w, 0, 1)*float32(grid.Z) - 0.5
	s0 := clampInt(int(math.Floor(float64(s))), 0, grid.Z-1)
	s1 := min(s0+1, grid.Z-1)
	f := clampF(s-float32(s0), 0, 1)

	a := bilinear(img, img.Rect.Min.X+s0*grid.X, grid.X, u, v)
	b := bilinear(img, img.Rect.Min.X+s1*grid.X, grid.X, u, v)
	return a.Mul(1 - f).Add(b.Mul(f))
}

// bilinear samples the sub-rectangle [x0, x0+width) of img.
func bilinear(img *exr.RGBAImage, x0, width int, u, v float32) mgl32.Vec4 {
	h := img.Rect.Dy()
	fx := clampF(u, 0, 1)*float32(width) - 0.5
	fy := clampF(v, 0, 1)*float32(h) - 0.5

	ix := int(math.Floor(float64(fx)))
	iy := int(math.Floor(float64(fy)))
	tx := fx - float32(ix)
	ty := fy - float32(iy)

	at := func(x, y int) mgl32.Vec4 {
		x = x0 + clampInt(x, 0, width-1)
		y = img.Rect.Min.Y + clampInt(y, 0, h-1)
		r, g, b, a := img.RGBA(x, y)
		return mgl32.Vec4{r, g, b, a}
	}
	top := at(ix, iy).Mul(1 - tx).Add(at(ix+1, iy).Mul(tx))
	bot := at(ix, iy+1).Mul(1 - tx).Add(at(ix+1, iy+1).Mul(tx))
	return top.Mul(1 - ty).Add(bot.Mul(ty))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampF(v, lo, hi float32) float32 {
	if v < lo || math.IsNaN(float64(v)) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
