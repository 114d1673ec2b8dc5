package domain

import "time"

// BatchType distinguishes command batches from process batches.
type BatchType string

const (
	BatchTypeCommand BatchType = "COMMAND"
	BatchTypeProcess BatchType = "PROCESS"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusPending               BatchStatus = "PENDING"
	BatchStatusInProgress            BatchStatus = "IN_PROGRESS"
	BatchStatusCompleted             BatchStatus = "COMPLETED"
	BatchStatusCompletedWithFailures BatchStatus = "COMPLETED_WITH_FAILURES"
)

// IsTerminal reports whether the batch has finished.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCompletedWithFailures
}

// Batch is a named collection of commands (or processes) whose aggregate
// progress is tracked. Counters are derived on demand, never on the
// command fast path.
type Batch struct {
	Domain            string      `json:"domain"`
	BatchID           string      `json:"batch_id"`
	Name              string      `json:"name,omitempty"`
	BatchType         BatchType   `json:"batch_type"`
	Status            BatchStatus `json:"status"`
	TotalCount        int         `json:"total_count"`
	Completed         int         `json:"completed"`
	Canceled          int         `json:"canceled"`
	Failed            int         `json:"failed"`
	InTroubleshooting int         `json:"in_troubleshooting"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// BatchStats is the result of a stats refresh.
type BatchStats struct {
	Domain            string      `json:"domain"`
	BatchID           string      `json:"batch_id"`
	Total             int         `json:"total"`
	Completed         int         `json:"completed"`
	Canceled          int         `json:"canceled"`
	Failed            int         `json:"failed"`
	InTroubleshooting int         `json:"in_troubleshooting"`
	IsComplete        bool        `json:"is_complete"`
	Status            BatchStatus `json:"status"`
}
