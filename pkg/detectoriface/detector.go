package detectoriface

import (
	"context"
)

// Status reflects a detector's arming state. Unavailable means the execution
// context lacks the capability the detector observes; it stays a no-op for
// the whole session.
type Status string

const (
	StatusDisarmed    Status = "disarmed"
	StatusArmed       Status = "armed"
	StatusUnavailable Status = "unavailable"
)

// Detector is one independent detection capability. Implementations share no
// mutable state with each other; the only shared object is the signal
// emitter handed to their constructors.
//
// Arm returns an error only for configuration problems. A missing browser
// capability is not an error: the detector degrades to a no-op and reports
// StatusUnavailable. Disarm must be idempotent, must cancel every live timer
// and remove every live listener, and is the terminal authority: a detector
// checks its armed flag before every emission, so an underlying event firing
// after Disarm produces nothing.
type Detector interface {
	Name() string
	Arm(ctx context.Context) error
	Disarm()
	Status() Status
}
