package workflows

// StateMachine enforces donor-response status transitions on a blood request.
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewDonorStateMachine returns the state machine for a donor's engagement
// with a request: pending -> accepted -> pending_confirmation -> donated or
// rejected. Reupload moves pending_confirmation back to accepted, and an
// accepted donor can still be rejected when another donation is confirmed.
func NewDonorStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"pending":              {"accepted", "declined"},
			"accepted":             {"pending_confirmation", "rejected"},
			"pending_confirmation": {"donated", "rejected", "accepted"},
			"donated":              {},
			"rejected":             {},
			"declined":             {},
		},
	}
}

// CanTransition checks if a status transition is allowed.
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}

// GetAllowedTransitions returns the allowed next statuses for a given status.
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
