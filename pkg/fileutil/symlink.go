package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// UpdateSymlinkAtomic atomically repoints a symlink at a new target.
// It uses the "create temp, then rename" pattern: readers either see the
// old target or the new one, never a missing or half-written link.
//
// Steps:
// 1. Create a temporary symlink with .tmp suffix
// 2. Atomically rename it over the final name
func UpdateSymlinkAtomic(linkPath, targetPath string) error {
	tmpLink := linkPath + ".tmp"

	// Remove temp link if it exists from a previous failed attempt
	_ = os.Remove(tmpLink)

	if err := os.Symlink(targetPath, tmpLink); err != nil {
		return fmt.Errorf("failed to create temporary symlink: %w", err)
	}

	// rename(2) over an existing symlink is atomic on Unix
	if err := os.Rename(tmpLink, linkPath); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("failed to rename symlink atomically: %w", err)
	}

	return nil
}

// IsSymlink checks if a path is a symlink.
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// SymlinkExists checks if a symlink exists at the given path.
// Returns true only if the path is a symlink (not a regular file).
func SymlinkExists(path string) bool {
	return IsSymlink(path)
}

// ReadSymlink reads the immediate target of a symlink without resolving
// the full chain.
func ReadSymlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("failed to read symlink: %w", err)
	}
	return target, nil
}

// ResolveSymlink resolves a symlink to its final target.
// If the path is not a symlink, returns the path itself.
func ResolveSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlink: %w", err)
	}
	return resolved, nil
}

// ValidateSymlink checks that a symlink exists and points to an existing
// target. Returns an error if the path is not a symlink or the link is
// broken.
func ValidateSymlink(path string) error {
	if !IsSymlink(path) {
		return fmt.Errorf("path is not a symlink: %s", path)
	}

	target, err := ResolveSymlink(path)
	if err != nil {
		return fmt.Errorf("symlink is broken: %w", err)
	}

	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("symlink target does not exist: %s", target)
	}

	return nil
}
