package atmosphere

import (
	"fmt"
	"strings"
)

// InjectionPoint is a position in the host's frame where passes run.
// Points are ordered; a host runs every pass of one point before the next.
type InjectionPoint uint8

// Injection points in frame order.
const (
	BeforeRenderingOpaques InjectionPoint = iota
	AfterRenderingOpaques
	BeforeRenderingSkybox
	AfterRenderingSkybox
	BeforeRenderingTransparents
	AfterRenderingTransparents
	BeforeRenderingPostProcessing
	AfterRenderingPostProcessing
	AfterRendering
)

// DefaultInjectionPoint is where the tables are generated by default.
const DefaultInjectionPoint = AfterRenderingOpaques

var injectionNames = [...]string{
	BeforeRenderingOpaques:        "BeforeRenderingOpaques",
	AfterRenderingOpaques:         "AfterRenderingOpaques",
	BeforeRenderingSkybox:         "BeforeRenderingSkybox",
	AfterRenderingSkybox:          "AfterRenderingSkybox",
	BeforeRenderingTransparents:   "BeforeRenderingTransparents",
	AfterRenderingTransparents:    "AfterRenderingTransparents",
	BeforeRenderingPostProcessing: "BeforeRenderingPostProcessing",
	AfterRenderingPostProcessing:  "AfterRenderingPostProcessing",
	AfterRendering:                "AfterRendering",
}

// String returns the point name.
func (p InjectionPoint) String() string {
	if int(p) < len(injectionNames) {
		return injectionNames[p]
	}
	return fmt.Sprintf("InjectionPoint(%d)", uint8(p))
}

// Next returns the point after p. AfterRendering is its own successor.
func (p InjectionPoint) Next() InjectionPoint {
	if p >= AfterRendering {
		return AfterRendering
	}
	return p + 1
}

// ParseInjectionPoint parses a point name, ignoring case.
func ParseInjectionPoint(s string) (InjectionPoint, error) {
	for i, name := range injectionNames {
		if strings.EqualFold(name, s) {
			return InjectionPoint(i), nil
		}
	}
	return 0, fmt.Errorf("atmosphere: unknown injection point %q", s)
}

// Pass is one unit of frame work handed to the host.
type Pass interface {
	Name() string
	Execute() error
}

// Scheduler is the host's pass queue. Passes enqueued at the same point
// must run in enqueue order.
type Scheduler interface {
	Enqueue(at InjectionPoint, pass Pass)
}

type passFunc struct {
	name string
	fn   func() error
}

func (p passFunc) Name() string   { return p.name }
func (p passFunc) Execute() error { return p.fn() }
