package githost

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLab implements Host with merge requests. Repos are project paths
// ("group/project") or numeric ids.
type GitLab struct {
	client *gitlab.Client
}

// NewGitLab creates a client for the instance at baseURL (the web root; the
// /api/v4 suffix is added when missing).
func NewGitLab(baseURL, token string, timeout time.Duration) (*GitLab, error) {
	opts := []gitlab.ClientOptionFunc{
		gitlab.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		apiURL := strings.TrimRight(baseURL, "/")
		if !strings.HasSuffix(apiURL, "/api/v4") {
			apiURL += "/api/v4"
		}
		opts = append(opts, gitlab.WithBaseURL(apiURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return &GitLab{client: client}, nil
}

func (g *GitLab) CreateBranch(ctx context.Context, repo, branch, base string) error {
	_, resp, err := g.client.Branches.CreateBranch(repo, &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(branch),
		Ref:    gitlab.Ptr(base),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest && strings.Contains(err.Error(), "already exists") {
			log.Info().Str("project", repo).Str("branch", branch).Msg("Branch already exists, reusing it")
			return nil
		}
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

func (g *GitLab) GetFile(ctx context.Context, repo, path, ref string) (File, error) {
	f, resp, err := g.client.RepositoryFiles.GetFile(repo, path, &gitlab.GetFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return File{}, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return File{}, err
	}
	content := f.Content
	if f.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return File{}, fmt.Errorf("decode %s: %w", path, err)
		}
		content = string(raw)
	}
	return File{Path: path, Content: content, SHA: f.LastCommitID}, nil
}

func (g *GitLab) CommitFile(ctx context.Context, repo, branch string, file File, message string) error {
	opt := &gitlab.UpdateFileOptions{
		Branch:        gitlab.Ptr(branch),
		Content:       gitlab.Ptr(file.Content),
		CommitMessage: gitlab.Ptr(message),
	}
	if file.SHA != "" {
		opt.LastCommitID = gitlab.Ptr(file.SHA)
	}
	_, _, err := g.client.RepositoryFiles.UpdateFile(repo, file.Path, opt, gitlab.WithContext(ctx))
	return err
}

func (g *GitLab) OpenPullRequest(ctx context.Context, in PullRequestInput) (PullRequest, error) {
	source := in.SourceRepo
	if source == "" {
		source = in.TargetRepo
	}
	opt := &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(in.Title),
		Description:  gitlab.Ptr(in.Body),
		SourceBranch: gitlab.Ptr(in.Head),
		TargetBranch: gitlab.Ptr(in.Base),
	}
	if source != in.TargetRepo {
		target, _, err := g.client.Projects.GetProject(in.TargetRepo, nil, gitlab.WithContext(ctx))
		if err != nil {
			return PullRequest{}, fmt.Errorf("resolve target project %s: %w", in.TargetRepo, err)
		}
		opt.TargetProjectID = gitlab.Ptr(target.ID)
	}
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(source, opt, gitlab.WithContext(ctx))
	if err != nil {
		return PullRequest{}, err
	}
	log.Info().Str("project", source).Int("iid", mr.IID).Msg("Opened GitLab merge request")
	return PullRequest{Number: mr.IID, URL: mr.WebURL}, nil
}
