package gateway

// State is a step of the per-request state machine.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateSanitized
	StateAccessChecked
	StateImageChecked
	StateProviderResolved
	StateRelaying
	StateCompleted
	StateFailed
	// StateDisconnected ends a request whose caller went away. Nothing is
	// owed to anyone, so it is neither a completion nor a failure.
	StateDisconnected
)

var stateNames = [...]string{
	StateReceived:         "received",
	StateValidated:        "validated",
	StateSanitized:        "sanitized",
	StateAccessChecked:    "access_checked",
	StateImageChecked:     "image_checked",
	StateProviderResolved: "provider_resolved",
	StateRelaying:         "relaying",
	StateCompleted:        "completed",
	StateFailed:           "failed",
	StateDisconnected:     "disconnected",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDisconnected
}
