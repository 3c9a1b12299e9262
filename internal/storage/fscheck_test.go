package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFilesystemAllowsLocal(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	if err := checkFilesystem(dbPath, func(string) (string, error) { return "ext4", nil }); err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckFilesystemRejectsNetwork(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	err := checkFilesystem(dbPath, func(string) (string, error) { return "NFS", nil })
	if err == nil {
		t.Fatal("expected network filesystem error")
	}
	for _, want := range []string{"NFS", "state.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}

func TestCheckFilesystemInspectsNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkFilesystem(filepath.Join(root, "a", "b", "sessions.db"), func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckFilesystemUnsupportedPlatformPasses(t *testing.T) {
	t.Parallel()

	err := checkFilesystem(t.TempDir(), func(string) (string, error) { return "", errUnsupported })
	if err != nil {
		t.Fatalf("unsupported detection should pass, got %v", err)
	}
}

func TestCheckFilesystemDetectorError(t *testing.T) {
	t.Parallel()

	err := checkFilesystem(t.TempDir(), func(string) (string, error) { return "", errors.New("statfs failed") })
	if err == nil {
		t.Fatal("expected detector error to surface")
	}
}

func TestCheckLocalFilesystemOnTempDir(t *testing.T) {
	t.Parallel()

	if err := CheckLocalFilesystem(filepath.Join(t.TempDir(), "x.db")); err != nil {
		t.Fatalf("temp dir should be local: %v", err)
	}
}
