package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// PullRequest describes a remediation PR draft.
type PullRequest struct {
	Repo  string
	Title string
	Body  string
	Head  string
	Base  string
}

// GitHubClient creates pull requests. With no token it operates in mock
// mode and only reports what it would have drafted, so the sensitive path
// stays demoable without credentials.
type GitHubClient struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewGitHubClient builds a client; an empty token selects mock mode.
func NewGitHubClient(token, baseURL string) *GitHubClient {
	if baseURL == "" {
		baseURL = defaultGitHubAPI
	}
	return &GitHubClient{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type createPullBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

type createPullResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Message string `json:"message"`
}

// CreatePull drafts the PR and returns an operator-readable summary.
func (c *GitHubClient) CreatePull(ctx context.Context, pr PullRequest) (string, error) {
	if c.token == "" {
		return fmt.Sprintf("[mock] drafted PR %q in %s from %s to %s (no token configured)",
			pr.Title, pr.Repo, pr.Head, pr.Base), nil
	}

	payload, err := json.Marshal(createPullBody{
		Title: pr.Title,
		Body:  pr.Body,
		Head:  pr.Head,
		Base:  pr.Base,
	})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/repos/%s/pulls", c.baseURL, pr.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read github response: %w", err)
	}
	var parsed createPullResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode github response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("github api %s: %s", resp.Status, parsed.Message)
	}
	return fmt.Sprintf("Created PR #%d: %s", parsed.Number, parsed.HTMLURL), nil
}
