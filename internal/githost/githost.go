// Package githost talks to the hosting service that receives documentation
// pull requests: branch creation, file reads and commits, and opening the
// pull (or merge) request.
package githost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docpilot/internal/config"
)

// ErrFileNotFound is returned by GetFile when the path does not exist on the
// requested ref.
var ErrFileNotFound = errors.New("file not found")

// File is a repository file at a ref.
type File struct {
	Path    string
	Content string
	// SHA identifies the blob (GitHub) or last commit (GitLab); hosts use it
	// to reject stale writes.
	SHA string
}

// PullRequestInput describes the pull request to open. Head is a branch of
// SourceRepo; Base a branch of TargetRepo.
type PullRequestInput struct {
	TargetRepo string
	SourceRepo string
	Head       string
	Base       string
	Title      string
	Body       string
}

// PullRequest is an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Host is the subset of a git hosting API the changeset service needs.
type Host interface {
	CreateBranch(ctx context.Context, repo, branch, base string) error
	GetFile(ctx context.Context, repo, path, ref string) (File, error)
	CommitFile(ctx context.Context, repo, branch string, file File, message string) error
	OpenPullRequest(ctx context.Context, in PullRequestInput) (PullRequest, error)
}

// New builds the host selected by the git configuration.
func New(cfg config.GitConfig) (Host, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch cfg.Provider {
	case "github", "":
		return NewGitHub(GitHubOptions{
			URL:               cfg.URL,
			Token:             cfg.Token,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           timeout,
		}), nil
	case "gitlab":
		url := cfg.URL
		if url == defaultGitHubURL {
			url = ""
		}
		return NewGitLab(url, cfg.Token, timeout)
	}
	return nil, fmt.Errorf("unsupported git provider %q", cfg.Provider)
}
