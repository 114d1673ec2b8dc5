// Package domain defines the durable records of the command bus: commands,
// batches, processes, their status machines, and the wire messages that
// travel through PGMQ queues.
package domain

import (
	"time"
)

// CommandStatus is the lifecycle state of a command.
type CommandStatus string

const (
	CommandStatusPending           CommandStatus = "PENDING"
	CommandStatusInProgress        CommandStatus = "IN_PROGRESS"
	CommandStatusCompleted         CommandStatus = "COMPLETED"
	CommandStatusCanceled          CommandStatus = "CANCELED"
	CommandStatusInTroubleshooting CommandStatus = "IN_TROUBLESHOOTING_QUEUE"
	CommandStatusFailed            CommandStatus = "FAILED"
)

// IsTerminal reports whether the status never transitions again except by
// operator retry from the troubleshooting queue.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusCanceled, CommandStatusFailed:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known command statuses.
func (s CommandStatus) IsValid() bool {
	switch s {
	case CommandStatusPending, CommandStatusInProgress, CommandStatusCompleted,
		CommandStatusCanceled, CommandStatusInTroubleshooting, CommandStatusFailed:
		return true
	}
	return false
}

// AuditEventType names an entry in the append-only command audit log.
type AuditEventType string

const (
	AuditSent             AuditEventType = "SENT"
	AuditReceived         AuditEventType = "RECEIVED"
	AuditCompleted        AuditEventType = "COMPLETED"
	AuditCanceled         AuditEventType = "CANCELED"
	AuditFailed           AuditEventType = "FAILED"
	AuditMovedToTSQ       AuditEventType = "MOVED_TO_TROUBLESHOOTING"
	AuditOperatorRetry    AuditEventType = "OPERATOR_RETRY"
	AuditOperatorCancel   AuditEventType = "OPERATOR_CANCEL"
	AuditOperatorComplete AuditEventType = "OPERATOR_COMPLETE"
	AuditBatchStarted     AuditEventType = "BATCH_STARTED"
	AuditBatchCompleted   AuditEventType = "BATCH_COMPLETED"
)

// Command is the durable metadata row for a unit of work. The payload is
// never stored here; it lives in the queue message body (and in the payload
// archive once the command enters the troubleshooting queue).
type Command struct {
	Domain         string        `json:"domain"`
	CommandID      string        `json:"command_id"`
	CommandType    string        `json:"command_type"`
	Status         CommandStatus `json:"status"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"max_attempts"`
	QueueMessageID *int64        `json:"queue_message_id,omitempty"`
	CorrelationID  string        `json:"correlation_id,omitempty"`
	ReplyQueue     string        `json:"reply_queue,omitempty"`
	BatchID        string        `json:"batch_id,omitempty"`
	LastError      *ErrorInfo    `json:"last_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// ErrorInfo is the last-error triplet recorded on a command row.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuditEntry is one append-only audit record for a command.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Domain    string         `json:"domain"`
	CommandID string         `json:"command_id"`
	EventType AuditEventType `json:"event_type"`
	Details   []byte         `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
