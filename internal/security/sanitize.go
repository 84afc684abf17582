package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	httpsRepoPattern = regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+(?:\.git)?$`)
	sshRepoPattern   = regexp.MustCompile(`^git@[a-zA-Z0-9.-]+:[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+(?:\.git)?$`)
	refPattern       = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	appPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRepoURL ensures a repository URL is safe for git operations.
// Only HTTPS URLs and git@host:owner/repo SSH remotes are accepted, to
// prevent command injection through crafted remotes.
func ValidateRepoURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}

	if sshRepoPattern.MatchString(rawURL) {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS or SSH git remotes allowed, got scheme %q", u.Scheme)
	}

	if !httpsRepoPattern.MatchString(rawURL) {
		return fmt.Errorf("repository URL contains invalid characters or format")
	}

	return nil
}

// ValidateBranchName ensures a branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !refPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateRef ensures a git ref (branch, tag or commit) is safe to pass
// to git on the command line.
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("ref cannot be empty")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("ref cannot start with '-'")
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("ref cannot contain '..'")
	}
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("ref contains invalid characters")
	}
	return nil
}

// ValidateAppName ensures an application name is safe for use in paths
// and URLs.
func ValidateAppName(name string) error {
	if name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("app name cannot start with '-' or '.'")
	}
	if !appPattern.MatchString(name) {
		return fmt.Errorf("app name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ContainPath prevents path traversal when operating on release and
// backup directories. Ensures target path is within the base directory
// after resolving symlinks.
func ContainPath(basePath, targetPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	cleanBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate base path symlinks: %w", err)
	}

	cleanTarget, err := filepath.EvalSymlinks(absTarget)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate target path symlinks: %w", err)
	}

	relPath, err := filepath.Rel(cleanBase, cleanTarget)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: target '%s' is outside base '%s'", cleanTarget, cleanBase)
	}

	return cleanTarget, nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal
// attempts. This is used for general path validation.
func SanitizePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains traversal elements: %s", path)
	}

	return filepath.Clean(path), nil
}
