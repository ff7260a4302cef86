package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultGitHubURL = "https://api.github.com"

// GitHubOptions configures the REST client.
type GitHubOptions struct {
	URL               string
	Token             string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// GitHub implements Host over the GitHub REST API. Every request waits on a
// shared rate limiter.
type GitHub struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGitHub constructs a GitHub client with sensible defaults.
func NewGitHub(opts GitHubOptions) *GitHub {
	base := strings.TrimRight(opts.URL, "/")
	if base == "" {
		base = defaultGitHubURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &GitHub{
		baseURL:    base,
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// APIError is a non-2xx GitHub response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API request failed with status %d: %s", e.Status, e.Body)
}

func (g *GitHub) CreateBranch(ctx context.Context, repo, branch, base string) error {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/git/ref/heads/%s", repo, escapePath(base)), nil, &ref); err != nil {
		return fmt.Errorf("resolve base branch %s: %w", base, err)
	}
	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": ref.Object.SHA,
	}
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", repo), body, nil); err != nil {
		// A retried submission reuses the branch of the earlier attempt.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity && strings.Contains(apiErr.Body, "already exists") {
			log.Info().Str("repo", repo).Str("branch", branch).Msg("Branch already exists, reusing it")
			return nil
		}
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

func (g *GitHub) GetFile(ctx context.Context, repo, path, ref string) (File, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		SHA      string `json:"sha"`
	}
	endpoint := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, escapePath(path), url.QueryEscape(ref))
	if err := g.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return File{}, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return File{}, err
	}
	content := out.Content
	if out.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
		if err != nil {
			return File{}, fmt.Errorf("decode %s: %w", path, err)
		}
		content = string(raw)
	}
	return File{Path: path, Content: content, SHA: out.SHA}, nil
}

func (g *GitHub) CommitFile(ctx context.Context, repo, branch string, file File, message string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(file.Content)),
		"branch":  branch,
	}
	if file.SHA != "" {
		body["sha"] = file.SHA
	}
	return g.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/contents/%s", repo, escapePath(file.Path)), body, nil)
}

func (g *GitHub) OpenPullRequest(ctx context.Context, in PullRequestInput) (PullRequest, error) {
	head := in.Head
	if in.SourceRepo != "" && in.SourceRepo != in.TargetRepo {
		owner, _, _ := strings.Cut(in.SourceRepo, "/")
		head = owner + ":" + in.Head
	}
	body := map[string]string{
		"title": in.Title,
		"body":  in.Body,
		"head":  head,
		"base":  in.Base,
	}
	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", in.TargetRepo), body, &out); err != nil {
		return PullRequest{}, err
	}
	return PullRequest{Number: out.Number, URL: out.HTMLURL}, nil
}

func (g *GitHub) do(ctx context.Context, method, endpoint string, requestBody, target interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "token "+g.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "DocPilot-Bot")

	log.Debug().Str("method", method).Str("endpoint", endpoint).Msg("GitHub API call")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("GitHub API request failed")
		return fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode GitHub response: %w", err)
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
