package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRunning, false},
		{StatusPending, StatusCompleted, false},
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusPending, true}, // worker death reclaim
		{StatusQueued, StatusCompleted, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCancelled, true},
		{StatusRunning, StatusPending, true}, // worker death reclaim
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, false}, // running is not interruptible
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusQueued, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{StatusPending, StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
