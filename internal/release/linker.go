package release

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"slipway/pkg/fileutil"
)

// ErrConfigMissing signals that the shared configuration baseline is
// absent. The orchestrator never fabricates production configuration,
// so this fails the deployment before anything is linked.
var ErrConfigMissing = errors.New("shared config missing")

const (
	// SharedConfigFile is the configuration baseline every release
	// links against.
	SharedConfigFile = ".env"

	// SharedStorageDir is the durable storage directory shared across
	// releases (uploads, caches, generated files).
	SharedStorageDir = "storage"

	// SharedLogDir collects log output across releases.
	SharedLogDir = "log"
)

// Linker wires a materialized release to shared state without copying
// it. Exactly one shared state instance exists per application.
type Linker struct {
	store *Store
}

// NewLinker creates a linker for the given store.
func NewLinker(store *Store) *Linker {
	return &Linker{store: store}
}

// EnsureShared verifies the shared state baseline exists before any
// release is linked. The configuration file must be present and
// populated; storage and log directories are created when absent.
func (l *Linker) EnsureShared() error {
	shared := l.store.SharedDir()

	configPath := filepath.Join(shared, SharedConfigFile)
	info, err := os.Stat(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigMissing, configPath)
		}
		return fmt.Errorf("failed to stat shared config: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrConfigMissing, configPath)
	}

	if err := os.MkdirAll(filepath.Join(shared, SharedLogDir), 0770); err != nil {
		return fmt.Errorf("failed to create shared log dir: %w", err)
	}

	return nil
}

// Link makes a release reference shared state. Re-running against an
// already-linked release is a no-op.
//
// Storage is seeded exactly once: the first release's default storage
// tree is moved into shared, and every release from then on gets a
// symlink. Configuration is always a symlink, never a copy.
func (l *Linker) Link(releasePath string) error {
	shared := l.store.SharedDir()

	sharedStorage := filepath.Join(shared, SharedStorageDir)
	releaseStorage := filepath.Join(releasePath, SharedStorageDir)

	if !fileutil.DirExists(sharedStorage) {
		if fileutil.DirExists(releaseStorage) && !fileutil.IsSymlink(releaseStorage) {
			// Seed once, move semantics
			if err := os.Rename(releaseStorage, sharedStorage); err != nil {
				return fmt.Errorf("failed to seed shared storage: %w", err)
			}
		} else {
			if err := os.MkdirAll(sharedStorage, 0770); err != nil {
				return fmt.Errorf("failed to create shared storage: %w", err)
			}
		}
	}

	if err := l.linkInto(releasePath, SharedStorageDir, sharedStorage); err != nil {
		return err
	}

	sharedConfig := filepath.Join(shared, SharedConfigFile)
	if err := l.linkInto(releasePath, SharedConfigFile, sharedConfig); err != nil {
		return err
	}

	return nil
}

// linkInto replaces releasePath/name with a symlink to target.
// Already-correct symlinks are left alone so re-linking is a no-op.
func (l *Linker) linkInto(releasePath, name, target string) error {
	linkPath := filepath.Join(releasePath, name)

	if fileutil.IsSymlink(linkPath) {
		existing, err := fileutil.ReadSymlink(linkPath)
		if err == nil && existing == target {
			return nil
		}
	}

	// Whatever sits there (tree shipped in the repo, stale link) makes
	// way for the shared instance.
	if err := os.RemoveAll(linkPath); err != nil {
		return fmt.Errorf("failed to clear %s before linking: %w", linkPath, err)
	}

	if err := os.Symlink(target, linkPath); err != nil {
		return fmt.Errorf("failed to link %s to shared state: %w", name, err)
	}

	return nil
}
