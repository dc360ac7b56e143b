package software

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/atmosphere/kernel"
)

// Reference kernels. They follow the usual single scattering model with an
// isotropic multiple scattering term and are meant for testing the pipeline
// and previewing parameters, not as a production scattering model.
//
// Table parameterizations:
//
//	transmittance, multi-scatter: u = (cos zenith + 1) / 2, v = altitude / atmosphere height
//	sky-view:                     one texel per frame pixel
//	aerial volume:                slice z holds depths up to (z+1) * SliceDepth
func referenceKernels() map[kernel.ID]KernelFunc {
	return map[kernel.ID]KernelFunc{
		kernel.Transmittance:              transmittanceKernel,
		kernel.MultiScatterTransmittance:  multiScatterKernel,
		kernel.SkyView:                    skyViewKernel,
		kernel.AerialPerspectiveVolume:    aerialVolumeKernel,
		kernel.AerialPerspectiveComposite: compositeKernel,
	}
}

// lutCoords maps altitude and cosine of the zenith angle to table coordinates.
func (m *medium) lutCoords(h, mu float64) (u, v float32) {
	return float32((mu + 1) / 2), float32(h / (m.top - m.bottom))
}

// lutParams is the inverse of lutCoords.
func (m *medium) lutParams(u, v float32) (h, mu float64) {
	return float64(v) * (m.top - m.bottom), float64(u)*2 - 1
}

func transmittanceKernel(c *Context, x, y int) (mgl32.Vec4, bool) {
	m := &c.medium
	h, mu := m.lutParams(c.UV(x, y))

	p := m.center.Add(mgl64.Vec3{0, m.bottom + h, 0})
	d := mgl64.Vec3{math.Sqrt(math.Max(0, 1-mu*mu)), mu, 0}
	t := m.transmittanceTo(p, d)
	return mgl32.Vec4{float32(t[0]), float32(t[1]), float32(t[2]), 1}, true
}

func multiScatterKernel(c *Context, x, y int) (mgl32.Vec4, bool) {
	m := &c.medium
	u, v := c.UV(x, y)
	h, _ := m.lutParams(u, v)

	sun := vec3(c.Sample(kernel.TransmittanceLUT, u, v))
	rayleigh, mie, _ := m.sample(h)
	albedo := rayleigh.Add(mie).Mul(m.rayleighH)

	strength := float64(c.Args().Block().KernelMultiScatterStrength())
	var psi mgl64.Vec3
	for i := range 3 {
		f := math.Min(albedo[i], 0.9)
		psi[i] = sun[i] * f / (1 - f) * strength / (4 * math.Pi)
	}
	return mgl32.Vec4{float32(psi[0]), float32(psi[1]), float32(psi[2]), 1}, true
}

// inScatter integrates single scattering plus the multiple scattering term
// along d from o over [start, end]. It returns radiance per unit sun
// illuminance and the transmittance of the segment.
func (c *Context) inScatter(o, d, sun mgl64.Vec3, start, end float64, steps int) (radiance, transmittance mgl64.Vec3) {
	m := &c.medium
	transmittance = mgl64.Vec3{1, 1, 1}
	if end <= start || steps < 1 {
		return radiance, transmittance
	}

	cosTheta := d.Dot(sun)
	pr := rayleighPhase(cosTheta)
	pm := miePhase(cosTheta, m.mieG)
	multi := c.Has(kernel.MultiScatterLUT)

	dt := (end - start) / float64(steps)
	for i := range steps {
		p := o.Add(d.Mul(start + (float64(i)+0.5)*dt))
		up := p.Sub(m.center)
		h := up.Len() - m.bottom
		up = up.Normalize()

		rayleigh, mie, ext := m.sample(h)
		u, v := m.lutCoords(h, up.Dot(sun))
		sunT := vec3(c.Sample(kernel.TransmittanceLUT, u, v))

		s := mulVec(rayleigh.Mul(pr).Add(mie.Mul(pm)), sunT)
		if multi {
			s = s.Add(mulVec(rayleigh.Add(mie), vec3(c.Sample(kernel.MultiScatterLUT, u, v))))
		}

		stepT := expNeg(ext.Mul(dt))
		// Energy-conserving integration of the step.
		for k := range 3 {
			if ext[k] > 0 {
				radiance[k] += transmittance[k] * s[k] * (1 - stepT[k]) / ext[k]
			}
		}
		transmittance = mulVec(transmittance, stepT)
	}
	return radiance, transmittance
}

func skyViewKernel(c *Context, x, y int) (mgl32.Vec4, bool) {
	m := &c.medium
	view := c.Args().View()
	view.Width, view.Height = c.Width, c.Height

	o := m.origin(vec3of(view.CameraPosition))
	d := vec3of(view.Ray(x, y))
	start, end, _ := m.segment(o, d)
	l, t := c.inScatter(o, d, vec3of(view.Sun()), start, end, m.steps)

	l = mulVec(l, m.sun)
	mean := (t[0] + t[1] + t[2]) / 3
	return mgl32.Vec4{float32(l[0]), float32(l[1]), float32(l[2]), float32(mean)}, true
}

func aerialVolumeKernel(c *Context, x, y int) (mgl32.Vec4, bool) {
	m := &c.medium
	args := c.Args()
	grid := args.Grid()
	slice, gx := x/grid.X, x%grid.X

	view := args.View()
	u := (float32(gx) + 0.5) / float32(grid.X)
	v := (float32(y) + 0.5) / float32(grid.Y)

	o := m.origin(vec3of(view.CameraPosition))
	d := vec3of(view.RayAt(u, v))
	start, end, _ := m.segment(o, d)
	depth := float64(args.SliceDepth()) * float64(slice+1)
	end = math.Min(end, depth)

	steps := max(1, min(m.steps, slice+1))
	l, t := c.inScatter(o, d, vec3of(view.Sun()), start, end, steps)

	l = mulVec(l, m.sun)
	mean := (t[0] + t[1] + t[2]) / 3
	return mgl32.Vec4{float32(l[0]), float32(l[1]), float32(l[2]), float32(mean)}, true
}

func compositeKernel(c *Context, x, y int) (mgl32.Vec4, bool) {
	args := c.Args()
	block := args.Block()
	u, v := c.UV(x, y)

	depth := args.VolumeDepth()
	if c.Has(kernel.SceneDepth) {
		if z := c.Sample(kernel.SceneDepth, u, v)[0]; z > 0 && z < depth {
			depth = z
		}
	}
	w := depth / args.VolumeDepth()

	fog := c.SampleVolume(kernel.AerialVolume, args.Grid(), u, v, w)
	weight := clampF(block.AerialDistanceAttenuation()*w, 0, 1)
	src := c.Texel(kernel.SourceColor, x, y)

	keep := 1 - weight + weight*fog[3]
	add := block.AerialIntensity() * weight
	return mgl32.Vec4{
		src[0]*keep + fog[0]*add,
		src[1]*keep + fog[1]*add,
		src[2]*keep + fog[2]*add,
		src[3],
	}, true
}

func vec3(v mgl32.Vec4) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}

func vec3of(v mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
