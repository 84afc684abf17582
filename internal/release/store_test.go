package release

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(t.TempDir(), testLogger())
	if err := store.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return store
}

// addRelease creates a release directory with the given id.
func addRelease(t *testing.T, store *Store, id string) string {
	t.Helper()
	path := store.ReleasePath(id)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create release %s: %v", id, err)
	}
	return path
}

func TestNewID_Sortable(t *testing.T) {
	earlier := NewID(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	later := NewID(time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC))

	if !(earlier < later) {
		t.Errorf("IDs not lexicographically ordered: %s >= %s", earlier, later)
	}
}

func TestAllocate(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rel, err := store.Allocate(now)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if rel.ID != "2026-03-01-10-00-00" {
		t.Errorf("Allocate() ID = %s, want 2026-03-01-10-00-00", rel.ID)
	}
	if rel.Status != StatusStaged {
		t.Errorf("Allocate() status = %s, want %s", rel.Status, StatusStaged)
	}
}

func TestAllocate_Collision(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	addRelease(t, store, NewID(now))

	if _, err := store.Allocate(now); err == nil {
		t.Error("Allocate() expected collision error for existing release id")
	}
}

func TestList_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	addRelease(t, store, "2026-03-01-10-00-00")
	addRelease(t, store, "2026-03-03-10-00-00")
	addRelease(t, store, "2026-03-02-10-00-00")

	// Stray files must not be listed as releases
	if err := os.WriteFile(filepath.Join(store.ReleasesDir(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create stray file: %v", err)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	want := []string{"2026-03-03-10-00-00", "2026-03-02-10-00-00", "2026-03-01-10-00-00"}
	if len(ids) != len(want) {
		t.Fatalf("List() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestList_NoReleasesDir(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger())

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v for missing releases dir", err)
	}
	if len(ids) != 0 {
		t.Errorf("List() = %v, want empty", ids)
	}
}

func TestCurrent_NoPointer(t *testing.T) {
	store := newTestStore(t)

	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current != "" {
		t.Errorf("Current() = %q, want empty before first deployment", current)
	}
}

func TestSwitch(t *testing.T) {
	store := newTestStore(t)
	r1 := addRelease(t, store, "2026-03-01-10-00-00")
	r2 := addRelease(t, store, "2026-03-02-10-00-00")

	t.Run("first switch captures empty previous", func(t *testing.T) {
		previous, err := store.Switch(r1)
		if err != nil {
			t.Fatalf("Switch() error = %v", err)
		}
		if previous != "" {
			t.Errorf("Switch() previous = %q, want empty on first deployment", previous)
		}

		current, err := store.Current()
		if err != nil {
			t.Fatalf("Current() error = %v", err)
		}
		if filepath.Base(current) != "2026-03-01-10-00-00" {
			t.Errorf("Current() = %s, want r1", current)
		}
	})

	t.Run("second switch captures previous target", func(t *testing.T) {
		previous, err := store.Switch(r2)
		if err != nil {
			t.Fatalf("Switch() error = %v", err)
		}
		if filepath.Base(previous) != "2026-03-01-10-00-00" {
			t.Errorf("Switch() previous = %s, want r1", previous)
		}

		id, err := store.CurrentID()
		if err != nil {
			t.Fatalf("CurrentID() error = %v", err)
		}
		if id != "2026-03-02-10-00-00" {
			t.Errorf("CurrentID() = %s, want r2", id)
		}
	})

	t.Run("rejects target outside root", func(t *testing.T) {
		outside := t.TempDir()
		if _, err := store.Switch(outside); err == nil {
			t.Error("Switch() expected error for path outside app root")
		}
	})
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)

	ids := []string{
		"2026-03-01-10-00-00",
		"2026-03-02-10-00-00",
		"2026-03-03-10-00-00",
		"2026-03-04-10-00-00",
		"2026-03-05-10-00-00",
		"2026-03-06-10-00-00",
		"2026-03-07-10-00-00",
	}
	for _, id := range ids {
		addRelease(t, store, id)
	}

	// Newest release is live
	if _, err := store.Switch(store.ReleasePath("2026-03-07-10-00-00")); err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	if err := store.Prune(5); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	remaining, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(remaining) != 5 {
		t.Fatalf("Prune() left %d releases, want 5: %v", len(remaining), remaining)
	}
	for _, id := range []string{"2026-03-01-10-00-00", "2026-03-02-10-00-00"} {
		if store.hasRelease(id) {
			t.Errorf("Prune() kept old release %s", id)
		}
	}
}

func TestPrune_NeverRemovesCurrent(t *testing.T) {
	store := newTestStore(t)

	ids := []string{
		"2026-03-01-10-00-00",
		"2026-03-02-10-00-00",
		"2026-03-03-10-00-00",
		"2026-03-04-10-00-00",
	}
	for _, id := range ids {
		addRelease(t, store, id)
	}

	// Current points at the OLDEST release (post-rollback situation)
	if _, err := store.Switch(store.ReleasePath("2026-03-01-10-00-00")); err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	if err := store.Prune(1); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	if !store.hasRelease("2026-03-01-10-00-00") {
		t.Error("Prune() removed the current release")
	}

	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v after prune", err)
	}
	if current == "" {
		t.Error("Current() resolves to nothing after prune")
	}
}

func TestPrune_KeepsRollbackTarget(t *testing.T) {
	store := newTestStore(t)

	ids := []string{
		"2026-03-01-10-00-00",
		"2026-03-02-10-00-00",
		"2026-03-03-10-00-00",
	}
	for _, id := range ids {
		addRelease(t, store, id)
	}

	if _, err := store.Switch(store.ReleasePath("2026-03-03-10-00-00")); err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	if err := store.Prune(1); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	// keep=1 would normally leave only current, but the immediate
	// predecessor stays as rollback target
	if !store.hasRelease("2026-03-02-10-00-00") {
		t.Error("Prune() removed the rollback target")
	}
	if store.hasRelease("2026-03-01-10-00-00") {
		t.Error("Prune() kept a release beyond current and rollback target")
	}
}

func TestPruneBackups(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{
		"2026-03-01-10-00-00",
		"2026-03-02-10-00-00",
		"2026-03-03-10-00-00",
	} {
		if err := os.MkdirAll(store.BackupPath(id), 0755); err != nil {
			t.Fatalf("Failed to create backup: %v", err)
		}
	}

	if err := store.PruneBackups(2); err != nil {
		t.Fatalf("PruneBackups() error = %v", err)
	}

	backups, err := store.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(backups) != 2 {
		t.Errorf("PruneBackups() left %d backups, want 2", len(backups))
	}
	if len(backups) > 0 && backups[0] != "2026-03-03-10-00-00" {
		t.Errorf("PruneBackups() removed the newest backup")
	}
}

func TestPrevious(t *testing.T) {
	store := newTestStore(t)

	t.Run("no current", func(t *testing.T) {
		if _, _, err := store.Previous(); err == nil {
			t.Error("Previous() expected error with no current symlink")
		}
	})

	addRelease(t, store, "2026-03-01-10-00-00")
	if _, err := store.Switch(store.ReleasePath("2026-03-01-10-00-00")); err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	t.Run("single release", func(t *testing.T) {
		if _, _, err := store.Previous(); err == nil {
			t.Error("Previous() expected error with single release")
		}
	})

	addRelease(t, store, "2026-03-02-10-00-00")
	if _, err := store.Switch(store.ReleasePath("2026-03-02-10-00-00")); err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	t.Run("finds predecessor", func(t *testing.T) {
		currentID, previousID, err := store.Previous()
		if err != nil {
			t.Fatalf("Previous() error = %v", err)
		}
		if currentID != "2026-03-02-10-00-00" {
			t.Errorf("Previous() current = %s", currentID)
		}
		if previousID != "2026-03-01-10-00-00" {
			t.Errorf("Previous() previous = %s", previousID)
		}
	})
}

// hasRelease reports whether a release directory exists.
func (s *Store) hasRelease(id string) bool {
	_, err := os.Stat(s.ReleasePath(id))
	return err == nil
}
