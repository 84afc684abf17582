// Package source talks to the source-control collaborator: fetching and
// pinning release trees to a revision, and resolving refs ahead of time
// through the GitHub API when a token is available.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slipway/internal/security"
	"slipway/pkg/cmdutil"
)

// Git performs fetch-by-revision and reset-to-revision operations
// against a single named remote. Any failure (network, auth, unknown
// ref) is surfaced to the caller as a hard stage failure.
type Git struct {
	Repo    string
	Timeout time.Duration
}

// NewGit creates a git collaborator for the given repository URL.
func NewGit(repo string, timeout time.Duration) (*Git, error) {
	if err := security.ValidateRepoURL(repo); err != nil {
		return nil, fmt.Errorf("invalid repository URL: %w", err)
	}
	return &Git{Repo: repo, Timeout: timeout}, nil
}

// Clone materializes a fresh working tree at dest, checked out at the
// given branch. Used only for the very first deployment of an app.
func (g *Git) Clone(ctx context.Context, dest, branch string) ([]byte, error) {
	if err := security.ValidateBranchName(branch); err != nil {
		return nil, fmt.Errorf("invalid branch name: %w", err)
	}

	return cmdutil.RunWithTimeout(ctx, "", g.Timeout,
		[]string{"git", "clone", "--branch", branch, g.Repo, dest})
}

// Sync fast-forwards an existing working tree to the target revision.
// Local changes are discarded: releases are immutable snapshots, so a
// dirty tree only ever means a previous deployment was interrupted.
func (g *Git) Sync(ctx context.Context, dir, ref string) ([]byte, error) {
	if err := security.ValidateRef(ref); err != nil {
		return nil, fmt.Errorf("invalid ref: %w", err)
	}

	output, err := cmdutil.RunWithTimeout(ctx, dir, g.Timeout,
		[]string{"git", "fetch", "origin", ref})
	if err != nil {
		return output, fmt.Errorf("git fetch failed: %w", err)
	}

	resetOutput, err := cmdutil.RunWithTimeout(ctx, dir, g.Timeout,
		[]string{"git", "reset", "--hard", "FETCH_HEAD"})
	output = append(output, resetOutput...)
	if err != nil {
		return output, fmt.Errorf("git reset failed: %w", err)
	}

	return output, nil
}

// Head returns the commit hash the working tree is checked out at.
func (g *Git) Head(ctx context.Context, dir string) (string, error) {
	output, err := cmdutil.RunWithTimeout(ctx, dir, g.Timeout,
		[]string{"git", "rev-parse", "HEAD"})
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// OwnerRepo extracts "owner", "repo" from a GitHub remote URL.
// Returns ok=false for non-GitHub remotes.
func OwnerRepo(repoURL string) (owner, repo string, ok bool) {
	var path string
	switch {
	case strings.HasPrefix(repoURL, "https://github.com/"):
		path = strings.TrimPrefix(repoURL, "https://github.com/")
	case strings.HasPrefix(repoURL, "git@github.com:"):
		path = strings.TrimPrefix(repoURL, "git@github.com:")
	default:
		return "", "", false
	}

	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	return parts[0], parts[1], true
}
