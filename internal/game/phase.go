package game

// Phase is the discrete state of a room's current round.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseResponding Phase = "responding"
	PhaseGuessing   Phase = "guessing"
	PhaseResults    Phase = "results"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Next returns the successor in the fixed cycle
// waiting -> responding -> guessing -> results -> waiting.
func (p Phase) Next() Phase {
	switch p {
	case PhaseWaiting:
		return PhaseResponding
	case PhaseResponding:
		return PhaseGuessing
	case PhaseGuessing:
		return PhaseResults
	case PhaseResults:
		return PhaseWaiting
	default:
		return PhaseWaiting
	}
}

// Timed reports whether the phase expires on a timer. Waiting rooms sit
// idle until a player starts the next round.
func (p Phase) Timed() bool {
	return p == PhaseResponding || p == PhaseGuessing || p == PhaseResults
}

// CanTransitionTo checks that target is the immediate successor of p.
func (p Phase) CanTransitionTo(target Phase) bool {
	return p.Next() == target
}
