package models

import "fmt"

// validTransitions maps from-state to allowed to-states.
// queued → processing → {done, failed, expired}; queued may also expire
// or fail directly (session died, or no media bound, before any provider
// call). Terminal states allow no further transitions.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true, // worker picked the job up
		JobStatusExpired:    true, // session expired while job sat in queue
		JobStatusFailed:     true, // no media bound, nothing to transcribe
	},
	JobStatusProcessing: {
		JobStatusDone:    true, // provider succeeded, segments committed
		JobStatusFailed:  true, // provider or routing failure
		JobStatusExpired: true, // session expired mid-flight
	},
	// Terminal states
	JobStatusDone:    {},
	JobStatusFailed:  {},
	JobStatusExpired: {},
}

// ValidateTransition checks if a job state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusDone || state == JobStatusFailed || state == JobStatusExpired
}

// IsWorkableState returns true if a queue delivery for a job in this
// state should still attempt processing
func IsWorkableState(state JobStatus) bool {
	return state == JobStatusQueued || state == JobStatusProcessing
}
