package process

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/oriys/courier/internal/bus"
	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/observability"
	"github.com/oriys/courier/internal/store"
)

// Manager starts processes for one domain and executes their steps. Reply
// handling lives in the Router, which shares this manager.
type Manager struct {
	domain string
	bus    *bus.Bus
	store  *store.Store

	mu   sync.RWMutex
	defs map[string]Definition
}

// NewManager creates a process manager for a domain.
func NewManager(dom string, b *bus.Bus) (*Manager, error) {
	if err := domain.CheckDomain(dom); err != nil {
		return nil, err
	}
	return &Manager{
		domain: dom,
		bus:    b,
		store:  b.Store(),
		defs:   make(map[string]Definition),
	}, nil
}

// Register adds a process definition. Definitions are looked up by type
// on every reply, so registration must happen before the router starts.
func (m *Manager) Register(def Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.ProcessType()] = def
}

func (m *Manager) definition(processType string) (Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[processType]
	if !ok {
		return nil, fmt.Errorf("no definition registered for process type %q", processType)
	}
	return def, nil
}

// Start creates a process and sends its first step. batchID may be empty.
func (m *Manager) Start(ctx context.Context, processType string, input json.RawMessage, batchID string) (string, error) {
	def, err := m.definition(processType)
	if err != nil {
		return "", err
	}

	state, first, err := def.FirstStep(input)
	if err != nil {
		return "", fmt.Errorf("first step of %s: %w", processType, err)
	}

	processID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "process.start",
		observability.AttrDomain.String(m.domain),
		observability.AttrProcessID.String(processID),
	)
	defer span.End()

	proc := &domain.Process{
		Domain:      m.domain,
		ProcessID:   processID,
		ProcessType: processType,
		State:       state,
		BatchID:     batchID,
	}
	if err := m.store.InsertProcess(ctx, proc); err != nil {
		observability.SetSpanError(span, err)
		return "", err
	}

	proc.Status = domain.ProcessStatusInProgress
	if err := m.store.UpdateProcess(ctx, proc); err != nil {
		observability.SetSpanError(span, err)
		return processID, err
	}

	if err := m.executeStep(ctx, proc, first); err != nil {
		observability.SetSpanError(span, err)
		return processID, err
	}
	observability.SetSpanOK(span)
	logging.Op().Info("process started",
		"domain", m.domain, "process_id", processID, "type", processType, "step", first.Name)
	return processID, nil
}

// StartBatch starts one process per input under a shared PROCESS batch,
// so aggregate progress is tracked the same way command batches are.
func (m *Manager) StartBatch(ctx context.Context, processType, name string, inputs []json.RawMessage) (string, []string, error) {
	if _, err := m.definition(processType); err != nil {
		return "", nil, err
	}
	if len(inputs) == 0 {
		return "", nil, fmt.Errorf("process batch must contain at least one input")
	}

	batchID := uuid.NewString()
	if err := m.store.InsertBatch(ctx, nil, &domain.Batch{
		Domain:     m.domain,
		BatchID:    batchID,
		Name:       name,
		BatchType:  domain.BatchTypeProcess,
		TotalCount: len(inputs),
	}); err != nil {
		return "", nil, err
	}

	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		id, err := m.Start(ctx, processType, input, batchID)
		if err != nil {
			return batchID, ids, err
		}
		ids = append(ids, id)
	}
	return batchID, ids, nil
}

// executeStep sends a step command, records it in the process audit and
// parks the process in WAITING_FOR_REPLY.
func (m *Manager) executeStep(ctx context.Context, proc *domain.Process, step Step) error {
	commandID := uuid.NewString()
	if _, err := m.bus.Send(ctx, bus.SendRequest{
		Domain:        m.domain,
		CommandID:     commandID,
		Type:          step.CommandType,
		Payload:       step.Data,
		CorrelationID: proc.ProcessID,
		ReplyTo:       domain.ProcessReplyQueue(m.domain),
	}); err != nil {
		return fmt.Errorf("send step %s of process %s: %w", step.Name, proc.ProcessID, err)
	}

	if err := m.store.AppendProcessAudit(ctx, &domain.ProcessAuditEntry{
		Domain:      m.domain,
		ProcessID:   proc.ProcessID,
		StepName:    step.Name,
		CommandID:   commandID,
		CommandType: step.CommandType,
		CommandData: step.Data,
	}); err != nil {
		return err
	}

	proc.CurrentStep = step.Name
	if proc.Status != domain.ProcessStatusCompensating {
		proc.Status = domain.ProcessStatusWaitingForReply
	}
	return m.store.UpdateProcess(ctx, proc)
}

// GetProcess returns a process row.
func (m *Manager) GetProcess(ctx context.Context, processID string) (*domain.Process, error) {
	return m.store.GetProcess(ctx, m.domain, processID)
}

// GetAudit returns the step history of a process.
func (m *Manager) GetAudit(ctx context.Context, processID string) ([]domain.ProcessAuditEntry, error) {
	return m.store.ListProcessAudit(ctx, m.domain, processID)
}
