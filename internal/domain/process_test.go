package domain

import "testing"

func TestProcessStatusIsTerminal(t *testing.T) {
	terminal := []ProcessStatus{
		ProcessStatusCompleted,
		ProcessStatusCompensated,
		ProcessStatusFailed,
		ProcessStatusCanceled,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}

	// Every state a running process passes through on its way from start
	// to first reply stays open, including the start transition.
	open := []ProcessStatus{
		ProcessStatusPending,
		ProcessStatusInProgress,
		ProcessStatusWaitingForReply,
		ProcessStatusWaitingForTSQ,
		ProcessStatusCompensating,
	}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}
