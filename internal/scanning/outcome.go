package scanning

import "time"

// State classifies a single connection attempt.
type State string

const (
	StateOpen    State = "open"
	StateClosed  State = "closed"
	StateTimeout State = "timeout"
	StateError   State = "error"
)

// Reasons attached to error outcomes.
const (
	ReasonResourceExhausted  = "resource_exhausted"
	ReasonHostUnreachable    = "host_unreachable"
	ReasonNetworkUnreachable = "network_unreachable"
	ReasonPermissionDenied   = "permission_denied"
	ReasonResolutionFailed   = "resolution_failed"
	ReasonConnectionReset    = "connection_reset"
	ReasonCanceled           = "canceled"
	ReasonUnknown            = "unknown"
)

// Outcome is the classified result of probing one target.
// Reason is only set when State is StateError.
type Outcome struct {
	State  State  `json:"state" yaml:"state"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Open returns an open outcome.
func Open() Outcome { return Outcome{State: StateOpen} }

// Closed returns a refused-connection outcome.
func Closed() Outcome { return Outcome{State: StateClosed} }

// TimedOut returns a no-response outcome.
func TimedOut() Outcome { return Outcome{State: StateTimeout} }

// Failed returns an error outcome carrying reason.
func Failed(reason string) Outcome {
	if reason == "" {
		reason = ReasonUnknown
	}
	return Outcome{State: StateError, Reason: reason}
}

func (o Outcome) String() string {
	if o.State == StateError {
		return "error(" + o.Reason + ")"
	}
	return string(o.State)
}

// Result pairs a target with the outcome of its probe.
type Result struct {
	Target   Target        `json:"target" yaml:"target"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}
