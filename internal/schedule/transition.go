package schedule

// allowedTransitions is the appointment lifecycle. Cancelled, completed and
// no-show are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCancelled: nil,
	StatusCompleted: nil,
	StatusNoShow:    nil,
}

// CanTransition reports whether the machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a status move and returns the new status, or
// InvalidTransitionError when the move is not permitted.
func Transition(from, to Status) (Status, error) {
	if !to.Valid() {
		return from, NewValidationError("status", "unknown status "+string(to))
	}
	if !CanTransition(from, to) {
		return from, &InvalidTransitionError{From: from, To: to}
	}
	return to, nil
}

// Terminal reports whether a status admits no further transitions.
func Terminal(s Status) bool {
	return len(allowedTransitions[s]) == 0 && s.Valid()
}
