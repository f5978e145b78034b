package domain

// transitions is the legal task lifecycle. Every entry is enforced at the
// store with a conditional update on the current status, so concurrent
// dispatchers, detectors and reconcilers can only race to a safe no-op.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusRunning, StatusPending, StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning: {StatusPending, StatusCompleted, StatusFailed},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
