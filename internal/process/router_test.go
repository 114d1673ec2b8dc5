package process

import (
	"testing"

	"github.com/oriys/courier/internal/bus"
	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/store"
)

func TestRouterStopBeforeStart(t *testing.T) {
	cfg := config.DefaultConfig()
	b := bus.New(new(store.Store), nil, cfg.Bus, cfg.Batch)
	m, err := NewManager("payments", b)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	r := NewRouter(m, nil, config.WorkerConfig{})
	// No loop is running yet; Stop must still return cleanly.
	r.Stop()
}
