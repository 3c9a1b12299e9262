package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestComputeBlake3Hash(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  log_level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}

	h1, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(h1))
	}

	if err := os.WriteFile(path, []byte("service:\n  log_level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("hash did not change with file contents")
	}
}

func TestComputeBlake3HashMissingFile(t *testing.T) {
	if _, err := ComputeBlake3Hash(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigHashTracksEffectiveSettings(t *testing.T) {
	a := Defaults()
	b := Defaults()

	ha, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := b.Hash()
	if ha != hb {
		t.Fatal("identical configs hashed differently")
	}

	b.Session.HeartbeatInterval = 3 * time.Second
	hb, _ = b.Hash()
	if ha == hb {
		t.Fatal("hash ignored a session timing change")
	}
}
