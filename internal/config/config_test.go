package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Bus.DefaultMaxAttempts != 3 {
		t.Errorf("expected DefaultMaxAttempts=3, got %d", cfg.Bus.DefaultMaxAttempts)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("expected Concurrency=8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.VisibilityTimeout != 30*time.Second {
		t.Errorf("expected VisibilityTimeout=30s, got %v", cfg.Worker.VisibilityTimeout)
	}
	if cfg.Batch.DefaultChunkSize != 1000 {
		t.Errorf("expected DefaultChunkSize=1000, got %d", cfg.Batch.DefaultChunkSize)
	}
	if !cfg.Bus.RetryResetsAttempts {
		t.Error("operator retry should reset attempts by default")
	}
	if cfg.Queue.CommandSuffix != "commands" || cfg.Queue.ReplySuffix != "replies" {
		t.Errorf("expected default queue suffixes commands/replies, got %q/%q",
			cfg.Queue.CommandSuffix, cfg.Queue.ReplySuffix)
	}
}

func TestQueueSuffixOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"postgres": {"dsn": "postgres://localhost/courier"},
		"queue": {"queue_suffix": "cmd"}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Queue.CommandSuffix != "cmd" {
		t.Errorf("file queue_suffix not applied: %q", cfg.Queue.CommandSuffix)
	}
	if cfg.Queue.ReplySuffix != "replies" {
		t.Errorf("untouched reply suffix should keep default, got %q", cfg.Queue.ReplySuffix)
	}

	t.Setenv("COURIER_QUEUE_SUFFIX", "envcmd")
	t.Setenv("COURIER_REPLY_SUFFIX", "envrsp")
	LoadFromEnv(cfg)
	if cfg.Queue.CommandSuffix != "envcmd" || cfg.Queue.ReplySuffix != "envrsp" {
		t.Errorf("env suffixes not applied: %q/%q", cfg.Queue.CommandSuffix, cfg.Queue.ReplySuffix)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"postgres": {"dsn": "postgres://localhost/courier"},
		"bus": {"default_max_attempts": 5, "backoff_schedule": [2, 4], "retry_resets_attempts": true},
		"worker": {"concurrency": 16}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://localhost/courier" {
		t.Errorf("DSN not loaded: %q", cfg.Postgres.DSN)
	}
	if cfg.Bus.DefaultMaxAttempts != 5 {
		t.Errorf("expected DefaultMaxAttempts=5, got %d", cfg.Bus.DefaultMaxAttempts)
	}
	if cfg.Worker.Concurrency != 16 {
		t.Errorf("expected Concurrency=16, got %d", cfg.Worker.Concurrency)
	}
	// Untouched sections keep defaults.
	if cfg.Batch.DefaultChunkSize != 1000 {
		t.Errorf("defaults should survive partial config, got chunk size %d", cfg.Batch.DefaultChunkSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("COURIER_PG_DSN", "postgres://env/courier")
	t.Setenv("COURIER_MAX_ATTEMPTS", "7")
	t.Setenv("COURIER_WORKER_CONCURRENCY", "not-a-number")

	LoadFromEnv(cfg)

	if cfg.Postgres.DSN != "postgres://env/courier" {
		t.Errorf("env DSN not applied: %q", cfg.Postgres.DSN)
	}
	if cfg.Bus.DefaultMaxAttempts != 7 {
		t.Errorf("env max attempts not applied: %d", cfg.Bus.DefaultMaxAttempts)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("invalid env value should be ignored, got %d", cfg.Worker.Concurrency)
	}
}

func TestBackoffDurations(t *testing.T) {
	bus := BusConfig{BackoffSchedule: []int{1, 5, 30}}
	got := bus.BackoffDurations()
	want := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("expected %d durations, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
