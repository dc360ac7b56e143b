// Package atmosphere renders physically based sky and aerial perspective
// from lookup tables generated every frame.
//
// # Overview
//
// Each frame the lut package runs a short chain of kernels that fill the
// transmittance, multi-scatter, sky-view and aerial perspective tables from
// one parameter snapshot. The aerial package then fogs the frame color using
// the aerial perspective volume. Feature ties both to a host renderer.
//
// # Quick Start
//
//	dev := software.New()
//	defer dev.Close()
//
//	p := pool.New(dev)
//	inv := kernel.NewInvoker(dev, nil)
//	feature := atmosphere.New(p, inv, params.NewStore(params.DefaultSettings()))
//
//	color, _ := dev.NewImage(pool.Desc{Width: 1280, Height: 720, Format: gputypes.TextureFormatRGBA32Float})
//	if err := feature.RenderFrame(kernel.DefaultView(1280, 720), color); err != nil {
//		log.Println(err)
//	}
//
// # Host integration
//
// Hosts with their own pass scheduler call AddPasses once per frame. The
// tables are generated at the configured InjectionPoint, the composite runs
// at the point after it, and the frame's tables are released at
// AfterRendering. A frame whose tables fail to generate is rendered without
// them.
//
// # Packages
//
//   - params: physical parameters, clamped snapshots, JSON settings
//   - pool: transient image pool
//   - kernel: kernel contracts, published texture table, invoker
//   - lut: per-frame table pipeline
//   - aerial: aerial perspective composite
//   - backend/software, backend/wgpu: devices
//   - lutio: EXR and PNG export of tables
package atmosphere
