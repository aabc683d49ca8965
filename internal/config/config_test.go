package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWorldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	body := `name: frontier
seed: 987654321
chunk_size: 32
density: 0.05
max_agents: 64
inactivity_timeout: 15m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write world file: %v", err)
	}

	world, err := loadWorldFile(path)
	if err != nil {
		t.Fatalf("load world file: %v", err)
	}
	if world.Name != "frontier" || world.Seed != 987654321 {
		t.Fatalf("unexpected identity: %+v", world)
	}
	if world.ChunkSize != 32 || world.Density != 0.05 || world.MaxAgents != 64 {
		t.Fatalf("unexpected parameters: %+v", world)
	}
	if world.InactivityTimeout != 15*time.Minute {
		t.Fatalf("unexpected timeout: %v", world.InactivityTimeout)
	}
}

func TestLoadWorldFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	if err := os.WriteFile(path, []byte("seed: 7\n"), 0o600); err != nil {
		t.Fatalf("write world file: %v", err)
	}

	world, err := loadWorldFile(path)
	if err != nil {
		t.Fatalf("load world file: %v", err)
	}
	if world.Name != "opengrid" || world.ChunkSize != 64 || world.Density != 0.02 {
		t.Fatalf("expected defaults for omitted fields: %+v", world)
	}
	if world.InactivityTimeout != 30*time.Minute {
		t.Fatalf("expected default timeout, got %v", world.InactivityTimeout)
	}
}

func TestLoadWorldFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	if err := os.WriteFile(path, []byte("inactivity_timeout: soon\n"), 0o600); err != nil {
		t.Fatalf("write world file: %v", err)
	}
	if _, err := loadWorldFile(path); err == nil {
		t.Fatalf("expected error for unparseable duration")
	}
}
