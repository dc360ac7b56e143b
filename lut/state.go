package lut

import "fmt"

// State is the position of the pipeline within a frame.
type State uint8

// Pipeline states. A frame moves forward through them and returns to
// StateIdle when it closes or fails.
const (
	StateIdle State = iota
	StateParamsBound
	StateTransmittancePending
	StateMultiScatterPending
	StateSkyViewPending
	StateAerialVolumePending
	StatePublished
)

var stateNames = [...]string{
	StateIdle:                 "Idle",
	StateParamsBound:          "ParamsBound",
	StateTransmittancePending: "TransmittancePending",
	StateMultiScatterPending:  "MultiScatterPending",
	StateSkyViewPending:       "SkyViewPending",
	StateAerialVolumePending:  "AerialVolumePending",
	StatePublished:            "Published",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
