package pipeline

import (
	"time"

	"newsrelay/internal/dedup"
)

// Phase is the controller's position in its loop.
type Phase string

const (
	PhaseStarting Phase = "STARTING"
	PhasePolling  Phase = "POLLING"
	PhaseSleeping Phase = "SLEEPING"
)

// State is everything the controller carries from one cycle to the next.
// It is built once at startup and owned by a single pipeline worker.
type State struct {
	Policy    dedup.Policy
	Bootstrap bool // true until the first cycle that got past fetching ends
	Announced bool
	Cycles    int // cycles that got past fetching
	Phase     Phase
}

func NewState(policy dedup.Policy) *State {
	return &State{Policy: policy, Bootstrap: true, Phase: PhaseStarting}
}

// Report summarizes one cycle.
type Report struct {
	ID           string        `json:"id"`
	Bootstrap    bool          `json:"bootstrap"`
	Fetched      int           `json:"fetched"`
	Discarded    int           `json:"discarded"` // no usable identity
	Old          int           `json:"old"`
	Delivered    int           `json:"delivered"`
	Failed       int           `json:"failed"`
	Unpersisted  int           `json:"unpersisted"` // delivered but the state write failed
	StoppedEarly bool          `json:"stopped_early"`
	Err          error         `json:"-"`
	Took         time.Duration `json:"took"`
}
