package atmosphere_test

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/atmosphere"
	"github.com/gogpu/atmosphere/backend/software"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

func Example() {
	dev := software.New()
	defer dev.Close()

	p := pool.New(dev)
	inv := kernel.NewInvoker(dev, nil)

	s := params.DefaultSettings()
	s.MultiScatter = false
	feature := atmosphere.New(p, inv, params.NewStore(s))

	color, err := dev.NewImage(pool.Desc{Label: "color", Width: 32, Height: 16, Format: gputypes.TextureFormatRGBA32Float})
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := feature.RenderFrame(kernel.DefaultView(32, 16), color); err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(feature.Pipeline().Stats().Plan)
	fmt.Println("leased after frame:", p.Stats().Leased)
	// Output:
	// transmittance -> sky-view -> aerial-volume
	// leased after frame: 0
}

func ExampleInjectionPoint_Next() {
	fmt.Println(atmosphere.DefaultInjectionPoint, "->", atmosphere.DefaultInjectionPoint.Next())
	// Output: AfterRenderingOpaques -> BeforeRenderingSkybox
}
