package config

import (
	"os"
	"testing"
)

func TestDefaultMatchesLoadAgainstEmptyEnvironment(t *testing.T) {
	for _, key := range []string{
		"MUTCHAN_NODE_ID",
		"MUTCHAN_DEFAULT_ALLOCATED_SIZE",
		"MUTCHAN_BUFCONN_BUFFER_SIZE",
		"MUTCHAN_LOG_LEVEL",
		"MUTCHAN_LOG_DEV",
	} {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Unsetenv(%s): %v", key, err)
		}
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if *got != *want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("MUTCHAN_NODE_ID", "node-b")
	t.Setenv("MUTCHAN_DEFAULT_ALLOCATED_SIZE", "4096")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "node-b" {
		t.Fatalf("Node.ID = %q, want node-b", cfg.Node.ID)
	}
	if cfg.Allocator.DefaultAllocatedSize != 4096 {
		t.Fatalf("DefaultAllocatedSize = %d, want 4096", cfg.Allocator.DefaultAllocatedSize)
	}
}
