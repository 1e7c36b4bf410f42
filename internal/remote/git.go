package remote

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/panel-updater/internal/logger"
)

// GitFetcher obtains a subsystem's payload tree with a shallow,
// single-branch checkout of its upstream repository.
type GitFetcher struct{}

// NewGitFetcher creates a payload fetcher backed by the git binary.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{}
}

// Checkout clones one branch of repoURL at depth 1 into dest.
// dest must not exist; git creates it.
func (f *GitFetcher) Checkout(ctx context.Context, repoURL, branch, dest string) error {
	logger.InfoKV(ctx, "Checking out payload",
		"repo", repoURL, "branch", branch, "dest", dest)

	cmd := exec.CommandContext(ctx, "git", "clone",
		"--depth", "1", "--branch", branch, "--single-branch", repoURL, dest)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s: %s: %w",
			repoURL, strings.TrimSpace(string(output)), err)
	}

	return nil
}
