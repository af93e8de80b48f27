// Package githubapi is the code-hosting client. Every request goes
// through the shared gateway, and rate-limit headers from each response
// feed the gateway's budget for the "github" service.
package githubapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/gateway"
)

// Service is the gateway budget key for all code-hosting calls.
const Service = "github"

// Client calls the code-hosting REST API.
type Client struct {
	baseURL string
	token   string
	gw      *gateway.Gateway
	http    *http.Client
	log     *slog.Logger
}

// New creates a client. The token may be empty for public-only access.
func New(cfg config.GitHub, token string, gw *gateway.Gateway, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		gw:      gw,
		http:    &http.Client{},
		log:     log,
	}
}

// ListRepositories returns all non-fork repositories for the owner,
// following pagination until the API returns an empty page.
func (c *Client) ListRepositories(ctx context.Context, owner string) ([]Repo, error) {
	var all []Repo
	for page := 1; ; page++ {
		var batch []Repo
		path := fmt.Sprintf("/users/%s/repos?per_page=100&page=%d", url.PathEscape(owner), page)
		if err := c.do(ctx, "list_repos", http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// GetTree returns the full recursive file tree for a ref.
func (c *Client) GetTree(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error) {
	var out struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))
	if err := c.do(ctx, "get_tree", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Truncated {
		c.log.Debug("file tree truncated by API", "repo", owner+"/"+repo)
	}
	return out.Tree, nil
}

// GetContent fetches one file's decoded content.
func (c *Client) GetContent(ctx context.Context, owner, repo, path, ref string) (*FileContent, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		SHA      string `json:"sha"`
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s",
		url.PathEscape(owner), url.PathEscape(repo), escapePath(path), url.QueryEscape(ref))
	if err := c.do(ctx, "get_content", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}

	data := []byte(out.Content)
	if out.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", path, err)
		}
		data = decoded
	}
	return &FileContent{Path: path, Content: data, SHA: out.SHA}, nil
}

// GetRef resolves a branch ref to its commit SHA.
func (c *Client) GetRef(ctx context.Context, owner, repo, branch string) (*Ref, error) {
	var out Ref
	p := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(branch))
	if err := c.do(ctx, "get_ref", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBranch creates a branch pointing at fromSHA.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": fromSHA,
	}
	p := fmt.Sprintf("/repos/%s/%s/git/refs", url.PathEscape(owner), url.PathEscape(repo))
	return c.do(ctx, "create_branch", http.MethodPost, p, body, nil)
}

// PutFile creates or updates a file on a branch, producing one commit.
// sha must be the current blob SHA when updating an existing file.
func (c *Client) PutFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}
	if sha != "" {
		body["sha"] = sha
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(owner), url.PathEscape(repo), escapePath(path))
	return c.do(ctx, "put_file", http.MethodPut, p, body, nil)
}

// FindOpenPullRequest returns the open pull request whose head is the
// given branch, or nil when none exists.
func (c *Client) FindOpenPullRequest(ctx context.Context, owner, repo, head string) (*PullRequest, error) {
	var out []PullRequest
	p := fmt.Sprintf("/repos/%s/%s/pulls?state=open&head=%s",
		url.PathEscape(owner), url.PathEscape(repo), url.QueryEscape(owner+":"+head))
	if err := c.do(ctx, "find_pull_request", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// OpenPullRequest opens a change request from head onto base.
func (c *Client) OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	req := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	var out PullRequest
	p := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.do(ctx, "open_pull_request", http.MethodPost, p, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one API request through the gateway and decodes the JSON
// response into v when v is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, v any) error {
	return c.gw.Call(ctx, Service, op, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return gateway.Permanent(fmt.Errorf("marshal request body: %w", err))
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return gateway.Permanent(fmt.Errorf("new request: %w", err))
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return gateway.Transient(err)
		}
		defer resp.Body.Close()

		remaining, resetAt := rateLimitHints(resp.Header)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.gw.Observe(Service, remaining, resetAt)
			if v == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return gateway.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}

		return classifyStatus(resp, remaining, resetAt)
	})
}

// classifyStatus maps an error response to the gateway taxonomy.
func classifyStatus(resp *http.Response, remaining int, resetAt time.Time) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	base := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && remaining == 0:
		ge := gateway.RateLimited(base)
		ge.Remaining = remaining
		ge.ResetAt = resetAt
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				ge.RetryAfter = time.Duration(secs) * time.Second
			}
		} else if !resetAt.IsZero() {
			if d := time.Until(resetAt); d > 0 {
				ge.RetryAfter = d
			}
		}
		return ge
	case resp.StatusCode >= 500:
		return gateway.Transient(base)
	default:
		// 401, 403 (non-quota), 404, 422 and the rest: the request
		// itself is wrong, retrying cannot help.
		return gateway.Permanent(base)
	}
}

// rateLimitHints parses the standard quota headers. remaining is -1
// when the header is absent.
func rateLimitHints(h http.Header) (remaining int, resetAt time.Time) {
	remaining = -1
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			resetAt = time.Unix(epoch, 0)
		}
	}
	return remaining, resetAt
}

// escapePath escapes each path segment while preserving separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
