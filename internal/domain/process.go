package domain

import (
	"encoding/json"
	"time"
)

// ProcessStatus is the lifecycle state of a multi-step process.
type ProcessStatus string

const (
	ProcessStatusPending         ProcessStatus = "PENDING"
	ProcessStatusInProgress      ProcessStatus = "IN_PROGRESS"
	ProcessStatusWaitingForReply ProcessStatus = "WAITING_FOR_REPLY"
	ProcessStatusWaitingForTSQ   ProcessStatus = "WAITING_FOR_TSQ"
	ProcessStatusCompensating    ProcessStatus = "COMPENSATING"
	ProcessStatusCompleted       ProcessStatus = "COMPLETED"
	ProcessStatusCompensated     ProcessStatus = "COMPENSATED"
	ProcessStatusFailed          ProcessStatus = "FAILED"
	ProcessStatusCanceled        ProcessStatus = "CANCELED"
)

// IsTerminal reports whether the process has finished.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessStatusCompleted, ProcessStatusCompensated, ProcessStatusFailed, ProcessStatusCanceled:
		return true
	}
	return false
}

// Process is the durable row of a typed multi-step orchestration. The state
// object is opaque JSON owned by the process definition; the core never
// inspects it.
type Process struct {
	Domain      string          `json:"domain"`
	ProcessID   string          `json:"process_id"`
	ProcessType string          `json:"process_type"`
	Status      ProcessStatus   `json:"status"`
	CurrentStep string          `json:"current_step,omitempty"`
	State       json.RawMessage `json:"state"`
	BatchID     string          `json:"batch_id,omitempty"`
	LastError   *ErrorInfo      `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ProcessAuditEntry records one issued step command and, once routed, its
// reply. The received_at stamp doubles as the idempotency marker against
// redelivered replies.
type ProcessAuditEntry struct {
	ID           int64           `json:"id"`
	Domain       string          `json:"domain"`
	ProcessID    string          `json:"process_id"`
	StepName     string          `json:"step_name"`
	CommandID    string          `json:"command_id"`
	CommandType  string          `json:"command_type"`
	CommandData  json.RawMessage `json:"command_data,omitempty"`
	SentAt       time.Time       `json:"sent_at"`
	ReplyOutcome ReplyOutcome    `json:"reply_outcome,omitempty"`
	ReplyData    json.RawMessage `json:"reply_data,omitempty"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
}
