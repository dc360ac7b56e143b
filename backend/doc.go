// Package backend is the registry of compute devices.
//
// A device allocates image memory for the resource pool and executes
// kernels for the invoker. Backends register themselves on import:
//
//	import _ "github.com/gogpu/atmosphere/backend/software"
//
// and are opened by name or by priority:
//
//	dev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	p := pool.New(dev)
//	inv := kernel.NewInvoker(dev, nil)
//
// The GPU backend needs a device from the host and registers itself only
// when wgpu.Register is called with a device provider.
package backend
