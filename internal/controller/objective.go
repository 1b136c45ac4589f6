package controller

// Objective is a named preset defining the maximum allowed travel for a given
// optical configuration. Custom means the limit was set directly with M<n>.
type Objective int

const (
	ObjectiveLow    Objective = iota // 4x
	ObjectiveMid                     // 10x
	ObjectiveHigh                    // 40x
	ObjectiveCustom                  // limit set directly
)

func (o Objective) String() string {
	switch o {
	case ObjectiveLow:
		return "4x"
	case ObjectiveMid:
		return "10x"
	case ObjectiveHigh:
		return "40x"
	default:
		return "custom"
	}
}

// ID returns the protocol identifier for the objective (O<id>), 0 for Custom.
func (o Objective) ID() int64 {
	switch o {
	case ObjectiveLow:
		return 4
	case ObjectiveMid:
		return 10
	case ObjectiveHigh:
		return 40
	default:
		return 0
	}
}

// Travel limits per objective, in steps from the home reference. The longer
// the working distance of the objective, the more travel is safe before the
// slide can touch the front lens.
var presetLimits = map[Objective]int64{
	ObjectiveLow:  3000,
	ObjectiveMid:  6000,
	ObjectiveHigh: 9000,
}

// presetByID maps a protocol identifier (4, 10, 40) to its preset.
func presetByID(id int64) (Objective, int64, bool) {
	for obj, limit := range presetLimits {
		if obj.ID() == id {
			return obj, limit, true
		}
	}
	return ObjectiveCustom, 0, false
}
