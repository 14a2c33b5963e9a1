package pool

import "github.com/ugparu/gocedar/utils/lifecycle"

// State is the lifecycle state of a device buffer.
type State uint8

const (
	Free      State = iota // Holds no valid caller data.
	Acquired               // Handed to the caller.
	Filled                 // Written and flushed by the caller.
	Submitted              // Owned by the device, must not be written.
	Returned               // Given back by the device, waiting for release.
)

var stateNames = [...]string{"free", "acquired", "filled", "submitted", "returned"}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var transitions = lifecycle.Transitions[State]{
	Free:      {Acquired},
	Acquired:  {Filled, Free},
	Filled:    {Submitted, Free},
	Submitted: {Returned},
	Returned:  {Free},
}

// Role names what a buffer plane is used for.
type Role string

const (
	RoleInputLuma     Role = "input-luma"
	RoleInputChroma   Role = "input-chroma"
	RoleBitstream     Role = "bitstream"
	RoleBitstreamRing Role = "bitstream-ring"
	RoleOutputPicture Role = "output-picture"
)
