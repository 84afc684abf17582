package source

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// RefResolver resolves branches to commit hashes through the GitHub
// API before anything is materialized on disk. An unknown ref or a
// failing token is caught here, while rolling back still costs nothing.
type RefResolver struct {
	client *github.Client
}

// NewRefResolver creates a resolver. With an empty token the client is
// unauthenticated, which is sufficient for public repositories.
func NewRefResolver(ctx context.Context, token string) *RefResolver {
	if token == "" {
		return &RefResolver{client: github.NewClient(nil)}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &RefResolver{client: github.NewClient(tc)}
}

// ResolveBranch returns the commit SHA at the tip of a branch.
func (r *RefResolver) ResolveBranch(ctx context.Context, repoURL, branch string) (string, error) {
	owner, repo, ok := OwnerRepo(repoURL)
	if !ok {
		return "", fmt.Errorf("not a GitHub remote: %s", repoURL)
	}

	ref, _, err := r.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("resolving branch %s: %w", branch, err)
	}

	if ref.Object == nil || ref.Object.SHA == nil {
		return "", fmt.Errorf("branch %s has no commit object", branch)
	}

	return *ref.Object.SHA, nil
}
