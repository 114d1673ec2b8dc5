package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/oriys/courier/internal/domain"
)

// Handler executes one command attempt. The returned JSON becomes the
// reply data on success. Errors are classified by the error contract:
// TransientError retries, PermanentError parks the command for an
// operator, BusinessRuleError fails it terminally. Anything else is
// treated as transient.
//
// Handlers must be idempotent: delivery is at-least-once and a crash
// after the handler but before the ack reruns it.
type Handler func(ctx context.Context, cmd *domain.Command, msg *domain.CommandMessage) (json.RawMessage, error)

// registry maps command types to handlers for one domain.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

func (r *registry) register(commandType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandType] = h
}

func (r *registry) lookup(commandType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandType]
	return h, ok
}
