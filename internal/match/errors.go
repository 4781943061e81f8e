// Package match implements the matchmaking queue, session lifecycle, and
// message routing.
package match

// ValidationError rejects malformed input. Surfaced to the caller with a
// specific machine-readable code, never retried.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string { return e.Code }

// StateError rejects an operation that is not valid in the agent's current
// session state.
type StateError struct {
	Code string
}

func (e *StateError) Error() string { return e.Code }
