package process

import (
	"strings"

	"github.com/oriys/courier/internal/domain"
)

// compensatePrefix marks compensation rows in the process audit so the
// planner can tell undo steps from forward steps.
const compensatePrefix = "compensate:"

func compensationName(stepName string) string {
	return compensatePrefix + stepName
}

func isCompensation(stepName string) bool {
	return strings.HasPrefix(stepName, compensatePrefix)
}

func compensatedStep(stepName string) string {
	return strings.TrimPrefix(stepName, compensatePrefix)
}

// nextCompensation picks the next forward step to undo: the most recent
// successfully completed forward step with no compensation row yet and
// not in skip (steps whose definition needs no undo). inFlight is true
// while a compensation command is still awaiting its reply, in which
// case the caller must wait.
func nextCompensation(entries []domain.ProcessAuditEntry, skip map[string]bool) (target *domain.ProcessAuditEntry, inFlight bool) {
	compensated := make(map[string]bool)
	for _, e := range entries {
		if !isCompensation(e.StepName) {
			continue
		}
		if e.ReceivedAt == nil {
			return nil, true
		}
		if e.ReplyOutcome == domain.OutcomeSuccess {
			compensated[compensatedStep(e.StepName)] = true
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if isCompensation(e.StepName) {
			continue
		}
		if e.ReceivedAt == nil || e.ReplyOutcome != domain.OutcomeSuccess {
			continue
		}
		if compensated[e.StepName] || skip[e.StepName] {
			continue
		}
		return &entries[i], false
	}
	return nil, false
}

// anyForwardCompleted reports whether any forward step finished with
// SUCCESS. Decides between CANCELED (nothing to undo) and COMPENSATED.
func anyForwardCompleted(entries []domain.ProcessAuditEntry) bool {
	for _, e := range entries {
		if !isCompensation(e.StepName) && e.ReceivedAt != nil && e.ReplyOutcome == domain.OutcomeSuccess {
			return true
		}
	}
	return false
}
