package software

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/atmosphere/params"
)

// Scattering coefficients at sea level, per meter, for R, G and B.
var (
	rayleighScattering = mgl64.Vec3{5.802e-6, 13.558e-6, 33.1e-6}
	mieScattering      = mgl64.Vec3{3.996e-6, 3.996e-6, 3.996e-6}
	mieExtinction      = mgl64.Vec3{4.40e-6, 4.40e-6, 4.40e-6}
	ozoneAbsorption    = mgl64.Vec3{0.650e-6, 1.881e-6, 0.085e-6}
)

// medium is the participating medium of one parameter block, in float64
// planet-scale units.
type medium struct {
	center   mgl64.Vec3
	bottom   float64
	top      float64
	steps    int
	rayleigh mgl64.Vec3
	mie      mgl64.Vec3
	mieExt   mgl64.Vec3
	ozone    mgl64.Vec3
	mieG     float64

	rayleighH float64
	mieH      float64
	ozoneH    float64
	ozoneW    float64

	sun mgl64.Vec3 // light color times intensity
}

func newMedium(b *params.Block) medium {
	c := b.PlanetCenter()
	lc := b.LightColor()
	li := float64(b.LightIntensity())
	return medium{
		center:    mgl64.Vec3{float64(c[0]), float64(c[1]), float64(c[2])},
		bottom:    float64(b.PlanetRadius()),
		top:       float64(b.TopRadius()),
		steps:     b.RayMarchCount(),
		rayleigh:  rayleighScattering.Mul(float64(b.RayleighScatteringScale())),
		mie:       mieScattering.Mul(float64(b.MieScatteringScale())),
		mieExt:    mieExtinction.Mul(float64(b.MieScatteringScale())),
		ozone:     ozoneAbsorption.Mul(float64(b.OzoneAnisotropy())),
		mieG:      float64(b.MieAnisotropy()),
		rayleighH: float64(b.RayleighScatteringHeight()),
		mieH:      float64(b.MieScatteringHeight()),
		ozoneH:    float64(b.OzoneHeight()),
		ozoneW:    float64(b.OzoneWidth()),
		sun:       mgl64.Vec3{float64(lc[0]) * li, float64(lc[1]) * li, float64(lc[2]) * li},
	}
}

// sample returns the scattering and extinction coefficients at altitude h.
func (m *medium) sample(h float64) (rayleigh, mie, extinction mgl64.Vec3) {
	h = math.Max(h, 0)
	dr := math.Exp(-h / m.rayleighH)
	dm := math.Exp(-h / m.mieH)
	do := math.Max(0, 1-math.Abs(h-m.ozoneH)/(m.ozoneW*0.5))

	rayleigh = m.rayleigh.Mul(dr)
	mie = m.mie.Mul(dm)
	extinction = rayleigh.Add(m.mieExt.Mul(dm)).Add(m.ozone.Mul(do))
	return rayleigh, mie, extinction
}

// altitude returns the height of p above the ground.
func (m *medium) altitude(p mgl64.Vec3) float64 {
	return p.Sub(m.center).Len() - m.bottom
}

// origin maps a world camera position into the atmosphere. Positions below
// the ground are taken relative to the surface point above the center, and
// every origin is lifted at least one meter above the ground.
func (m *medium) origin(p mgl64.Vec3) mgl64.Vec3 {
	rel := p.Sub(m.center)
	if rel.Len() < m.bottom {
		rel = rel.Add(mgl64.Vec3{0, m.bottom, 0})
	}
	if r := rel.Len(); r < m.bottom+1 {
		if r < 1e-9 {
			rel = mgl64.Vec3{0, 1, 0}
			r = 1
		}
		rel = rel.Mul((m.bottom + 1) / r)
	}
	return m.center.Add(rel)
}

// raySphere returns the distances along the ray to the sphere of radius r
// around the planet center. ok is false when the ray misses it.
func (m *medium) raySphere(o, d mgl64.Vec3, r float64) (t0, t1 float64, ok bool) {
	oc := o.Sub(m.center)
	b := oc.Dot(d)
	c := oc.Dot(oc) - r*r
	disc := b*b - c
	if disc < 0 {
		return 0, 0, false
	}
	s := math.Sqrt(disc)
	return -b - s, -b + s, true
}

// segment returns the part of the ray inside the atmosphere, stopping at
// the ground. hitsGround reports whether the ray ends on the planet.
func (m *medium) segment(o, d mgl64.Vec3) (start, end float64, hitsGround bool) {
	t0, t1, ok := m.raySphere(o, d, m.top)
	if !ok || t1 <= 0 {
		return 0, 0, false
	}
	start = math.Max(t0, 0)
	end = t1
	if g0, _, hit := m.raySphere(o, d, m.bottom); hit && g0 > 0 {
		end = math.Min(end, g0)
		hitsGround = true
	}
	return start, end, hitsGround
}

// opticalDepth integrates extinction from o along d over length with the
// trapezoidal rule.
func (m *medium) opticalDepth(o, d mgl64.Vec3, length float64, steps int) mgl64.Vec3 {
	if length <= 0 || steps < 1 {
		return mgl64.Vec3{}
	}
	dt := length / float64(steps)
	var sum mgl64.Vec3
	_, _, prev := m.sample(m.altitude(o))
	for i := 1; i <= steps; i++ {
		_, _, cur := m.sample(m.altitude(o.Add(d.Mul(dt * float64(i)))))
		sum = sum.Add(prev.Add(cur).Mul(0.5 * dt))
		prev = cur
	}
	return sum
}

// transmittanceTo returns the transmittance from p to the top of the
// atmosphere along d, zero when the ground blocks it.
func (m *medium) transmittanceTo(p, d mgl64.Vec3) mgl64.Vec3 {
	start, end, ground := m.segment(p, d)
	if ground {
		return mgl64.Vec3{}
	}
	return expNeg(m.opticalDepth(p.Add(d.Mul(start)), d, end-start, m.steps))
}

func expNeg(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{math.Exp(-v[0]), math.Exp(-v[1]), math.Exp(-v[2])}
}

func mulVec(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// rayleighPhase is the Rayleigh phase function for cos theta.
func rayleighPhase(cosTheta float64) float64 {
	return 3 / (16 * math.Pi) * (1 + cosTheta*cosTheta)
}

// miePhase is the Cornette-Shanks phase function.
func miePhase(cosTheta, g float64) float64 {
	g2 := g * g
	num := 3 * (1 - g2) * (1 + cosTheta*cosTheta)
	den := 8 * math.Pi * (2 + g2) * math.Pow(1+g2-2*g*cosTheta, 1.5)
	return num / den
}
