package release

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"slipway/internal/security"
	"slipway/pkg/fileutil"
)

// Store manages the on-disk release layout under one application base
// path:
//
//	<root>/releases/<id>   immutable release trees
//	<root>/backups/<id>    snapshots taken by the in-place strategy
//	<root>/shared/         state outliving any single release
//	<root>/current         symlink to the serving release
type Store struct {
	Root   string
	Logger *slog.Logger
}

// NewStore creates a store rooted at the application base path.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Root: root, Logger: logger}
}

func (s *Store) ReleasesDir() string { return filepath.Join(s.Root, "releases") }
func (s *Store) BackupsDir() string  { return filepath.Join(s.Root, "backups") }
func (s *Store) SharedDir() string   { return filepath.Join(s.Root, "shared") }
func (s *Store) CurrentLink() string { return filepath.Join(s.Root, "current") }

// ReleasePath returns the directory for a release identifier.
func (s *Store) ReleasePath(id string) string {
	return filepath.Join(s.ReleasesDir(), id)
}

// BackupPath returns the directory for a backup identifier.
func (s *Store) BackupPath(id string) string {
	return filepath.Join(s.BackupsDir(), id)
}

// Init creates the layout directories (releases, backups, shared).
// Existing directories are left untouched.
func (s *Store) Init() error {
	for _, dir := range []string{s.ReleasesDir(), s.BackupsDir()} {
		if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
			return err
		}
	}
	if err := security.CreateSecureDir(s.SharedDir(), security.PermSharedDir); err != nil {
		return err
	}
	return nil
}

// Allocate reserves a new release identifier. The directory itself is
// created by the materializer; Allocate only detects collisions.
func (s *Store) Allocate(now time.Time) (*Release, error) {
	id := NewID(now)
	path := s.ReleasePath(id)

	if err := ensureAbsent(path, id); err != nil {
		return nil, err
	}

	return &Release{
		ID:        id,
		Path:      path,
		Status:    StatusStaged,
		CreatedAt: now,
	}, nil
}

// List returns release identifiers sorted newest first.
func (s *Store) List() ([]string, error) {
	return listDir(s.ReleasesDir())
}

// ListBackups returns backup identifiers sorted newest first.
func (s *Store) ListBackups() ([]string, error) {
	return listDir(s.BackupsDir())
}

func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Current resolves the current symlink to the serving release path.
// Returns "" with no error when no deployment has happened yet.
func (s *Store) Current() (string, error) {
	link := s.CurrentLink()
	if !fileutil.SymlinkExists(link) {
		return "", nil
	}

	resolved, err := fileutil.ResolveSymlink(link)
	if err != nil {
		return "", fmt.Errorf("failed to resolve current symlink: %w", err)
	}

	if _, err := security.ContainPath(s.Root, resolved); err != nil {
		return "", fmt.Errorf("current symlink points outside app root: %w", err)
	}

	return resolved, nil
}

// CurrentID returns the identifier of the serving release, or "".
func (s *Store) CurrentID() (string, error) {
	current, err := s.Current()
	if err != nil || current == "" {
		return "", err
	}
	return filepath.Base(current), nil
}

// Switch atomically repoints current at the given release path and
// returns the previous target. The previous target is captured
// unconditionally, even on the very first deployment where it is empty.
func (s *Store) Switch(releasePath string) (previous string, err error) {
	if _, err := security.ContainPath(s.Root, releasePath); err != nil {
		return "", fmt.Errorf("release directory outside app root: %w", err)
	}

	previous, err = s.Current()
	if err != nil {
		return "", err
	}

	// Relative target keeps the layout relocatable
	relPath, err := filepath.Rel(s.Root, releasePath)
	if err != nil {
		return "", fmt.Errorf("failed to calculate relative path: %w", err)
	}

	if err := fileutil.UpdateSymlinkAtomic(s.CurrentLink(), relPath); err != nil {
		return "", fmt.Errorf("failed to update current symlink: %w", err)
	}

	return previous, nil
}

// Remove deletes a release directory. Used for half-built releases on
// the pre-switch rollback path; removing an already-absent release is
// a no-op (a clone can fail before the directory exists).
func (s *Store) Remove(id string) error {
	path := s.ReleasePath(id)
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := security.ContainPath(s.Root, path); err != nil {
		return fmt.Errorf("refusing to remove release outside app root: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove release %s: %w", id, err)
	}
	return nil
}

// RemoveBackup deletes a backup directory. Absent backups are a no-op.
func (s *Store) RemoveBackup(id string) error {
	path := s.BackupPath(id)
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := security.ContainPath(s.Root, path); err != nil {
		return fmt.Errorf("refusing to remove backup outside app root: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove backup %s: %w", id, err)
	}
	return nil
}

// Prune deletes releases beyond the retention count, newest first.
// The serving release and its immediate predecessor (the rollback
// target) are never pruned, regardless of their position in the order.
// Deletion failures are logged and skipped: pruning is housekeeping,
// not a deployment blocker.
func (s *Store) Prune(keep int) error {
	if keep < 1 {
		keep = 1
	}

	ids, err := s.List()
	if err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}

	currentID, err := s.CurrentID()
	if err != nil {
		return err
	}

	protected := map[string]bool{}
	if currentID != "" {
		protected[currentID] = true
		// The next-newest after current is the rollback target
		for i, id := range ids {
			if id == currentID && i+1 < len(ids) {
				protected[ids[i+1]] = true
				break
			}
		}
	}

	kept := 0
	for _, id := range ids {
		if kept < keep || protected[id] {
			kept++
			continue
		}
		if err := s.Remove(id); err != nil {
			s.Logger.Warn("Failed to prune release, skipping", "release", id, "error", err)
			continue
		}
		s.Logger.Info("Pruned release", "release", id, "status", string(StatusRetired))
	}

	return nil
}

// PruneBackups deletes backups beyond the retention count, newest first.
func (s *Store) PruneBackups(keep int) error {
	if keep < 1 {
		keep = 1
	}

	ids, err := s.ListBackups()
	if err != nil {
		return err
	}

	for i, id := range ids {
		if i < keep {
			continue
		}
		if err := s.RemoveBackup(id); err != nil {
			s.Logger.Warn("Failed to prune backup, skipping", "backup", id, "error", err)
			continue
		}
		s.Logger.Info("Pruned backup", "backup", id)
	}

	return nil
}

// Previous returns the identifier of the release immediately preceding
// the serving one, for manual rollback. Errors when fewer than two
// releases exist or current is already the oldest.
func (s *Store) Previous() (currentID, previousID string, err error) {
	currentID, err = s.CurrentID()
	if err != nil {
		return "", "", err
	}
	if currentID == "" {
		return "", "", fmt.Errorf("no current release found (current symlink missing)")
	}

	ids, err := s.List()
	if err != nil {
		return "", "", err
	}
	if len(ids) < 2 {
		return "", "", fmt.Errorf("cannot roll back: only one release exists")
	}

	for i, id := range ids {
		if id == currentID {
			if i+1 >= len(ids) {
				return "", "", fmt.Errorf("cannot roll back: release '%s' is already the oldest", currentID)
			}
			return currentID, ids[i+1], nil
		}
	}

	return "", "", fmt.Errorf("current release '%s' not found in releases directory", currentID)
}
