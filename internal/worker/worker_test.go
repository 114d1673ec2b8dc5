package worker

import (
	"testing"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/store"
)

func TestNewRejectsBadDomain(t *testing.T) {
	if _, err := New(new(store.Store), nil, "Bad.Domain", config.WorkerConfig{}, config.BusConfig{}); err == nil {
		t.Error("New with invalid domain = nil, want error")
	}
}

func TestStopBeforeStart(t *testing.T) {
	w, err := New(new(store.Store), nil, "payments", config.WorkerConfig{}, config.BusConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No loop is running yet; Stop must still return cleanly.
	w.Stop()
}
