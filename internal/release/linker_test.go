package release

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"slipway/pkg/fileutil"
)

func writeSharedConfig(t *testing.T, store *Store, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(store.SharedDir(), SharedConfigFile), []byte(content), 0640); err != nil {
		t.Fatalf("Failed to write shared config: %v", err)
	}
}

func TestEnsureShared_MissingConfig(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)

	err := linker.EnsureShared()
	if !errors.Is(err, ErrConfigMissing) {
		t.Errorf("EnsureShared() error = %v, want ErrConfigMissing", err)
	}
}

func TestEnsureShared_EmptyConfig(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)
	writeSharedConfig(t, store, "")

	err := linker.EnsureShared()
	if !errors.Is(err, ErrConfigMissing) {
		t.Errorf("EnsureShared() error = %v, want ErrConfigMissing for empty config", err)
	}
}

func TestEnsureShared_Valid(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)
	writeSharedConfig(t, store, "APP_ENV=production\n")

	if err := linker.EnsureShared(); err != nil {
		t.Fatalf("EnsureShared() error = %v", err)
	}

	if !fileutil.DirExists(filepath.Join(store.SharedDir(), SharedLogDir)) {
		t.Error("EnsureShared() did not create shared log dir")
	}
}

func TestLink_SeedsStorageOnce(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)
	writeSharedConfig(t, store, "APP_ENV=production\n")

	// First release ships a default storage tree
	r1 := addRelease(t, store, "2026-03-01-10-00-00")
	seedFile := filepath.Join(r1, SharedStorageDir, "uploads", "seed.txt")
	if err := os.MkdirAll(filepath.Dir(seedFile), 0755); err != nil {
		t.Fatalf("Failed to create storage tree: %v", err)
	}
	if err := os.WriteFile(seedFile, []byte("seeded"), 0644); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}

	if err := linker.Link(r1); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	// Storage moved into shared, release got a symlink
	sharedSeed := filepath.Join(store.SharedDir(), SharedStorageDir, "uploads", "seed.txt")
	if !fileutil.FileExists(sharedSeed) {
		t.Error("Link() did not move storage tree into shared")
	}
	if !fileutil.IsSymlink(filepath.Join(r1, SharedStorageDir)) {
		t.Error("Link() did not replace release storage with a symlink")
	}

	// Second release links against the same instance; shared content
	// must not be overwritten
	r2 := addRelease(t, store, "2026-03-02-10-00-00")
	if err := linker.Link(r2); err != nil {
		t.Fatalf("Link() error = %v for second release", err)
	}
	if !fileutil.FileExists(sharedSeed) {
		t.Error("Link() for second release lost seeded shared content")
	}
	if !fileutil.IsSymlink(filepath.Join(r2, SharedStorageDir)) {
		t.Error("Link() did not link second release storage")
	}
}

func TestLink_ConfigSymlink(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)
	writeSharedConfig(t, store, "APP_ENV=production\n")

	r1 := addRelease(t, store, "2026-03-01-10-00-00")
	if err := linker.Link(r1); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	configLink := filepath.Join(r1, SharedConfigFile)
	if !fileutil.IsSymlink(configLink) {
		t.Fatal("Link() did not create config symlink")
	}

	content, err := os.ReadFile(configLink)
	if err != nil {
		t.Fatalf("Failed to read through config symlink: %v", err)
	}
	if string(content) != "APP_ENV=production\n" {
		t.Errorf("Config through symlink = %q, want shared content", content)
	}
}

func TestLink_Idempotent(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)
	writeSharedConfig(t, store, "APP_ENV=production\n")

	r1 := addRelease(t, store, "2026-03-01-10-00-00")

	if err := linker.Link(r1); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	// Write shared content between link runs
	marker := filepath.Join(store.SharedDir(), SharedStorageDir, "marker.txt")
	if err := os.WriteFile(marker, []byte("keep"), 0644); err != nil {
		t.Fatalf("Failed to write marker: %v", err)
	}

	// Re-running the linker is a no-op, not an error
	if err := linker.Link(r1); err != nil {
		t.Fatalf("Link() second run error = %v", err)
	}

	if !fileutil.FileExists(marker) {
		t.Error("Link() re-run destroyed shared content")
	}
}

func TestLink_ReplacesShippedConfig(t *testing.T) {
	store := newTestStore(t)
	linker := NewLinker(store)
	writeSharedConfig(t, store, "APP_ENV=production\n")

	r1 := addRelease(t, store, "2026-03-01-10-00-00")

	// Repo ships a stray .env; the shared baseline must win
	if err := os.WriteFile(filepath.Join(r1, SharedConfigFile), []byte("APP_ENV=local\n"), 0644); err != nil {
		t.Fatalf("Failed to write shipped config: %v", err)
	}

	if err := linker.Link(r1); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(r1, SharedConfigFile))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if string(content) != "APP_ENV=production\n" {
		t.Errorf("Config = %q, want shared baseline", content)
	}
}
