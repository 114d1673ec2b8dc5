// Package process runs typed multi-step orchestrations on top of the
// command bus. Each step is an ordinary command; replies are routed back
// through a per-domain process reply queue, and a canceled step triggers
// compensation of the completed steps in reverse order.
package process

import (
	"encoding/json"

	"github.com/oriys/courier/internal/domain"
)

// Step is one command a process issues.
type Step struct {
	Name        string
	CommandType string
	Data        json.RawMessage
}

// Definition is the application-supplied logic of a process type. The
// engine owns durability and routing; the definition owns the state
// object and the step graph.
//
// Definitions must be pure with respect to their inputs: the engine may
// call them again for the same reply after a crash.
type Definition interface {
	// ProcessType names the definition; one instance per type.
	ProcessType() string

	// FirstStep builds the initial state and the first command.
	FirstStep(input json.RawMessage) (state json.RawMessage, first Step, err error)

	// NextStep folds a successful reply into the state and returns the
	// next step. A nil next completes the process.
	NextStep(state json.RawMessage, stepName string, reply *domain.Reply) (newState json.RawMessage, next *Step, err error)

	// CompensationStep returns the undo command for a completed step, or
	// nil when the step needs no compensation. original is the command
	// data the step was sent with.
	CompensationStep(state json.RawMessage, stepName string, original json.RawMessage) *Step
}
