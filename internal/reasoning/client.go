// Package reasoning is the analysis-service client. Requests go through
// the shared gateway with a generous timeout; streamed responses are
// accumulated into a single buffered result before the caller sees them,
// so a pipeline stage completes atomically or not at all.
package reasoning

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/gateway"
)

// Service is the gateway budget key for all reasoning calls.
const Service = "reasoning"

// Request carries everything the reasoning service needs for one
// repository assessment.
type Request struct {
	RepoFullName string            `json:"repo_full_name"`
	Profile      map[string]string `json:"profile"` // structure metadata: project type, counts, flags
	Files        map[string]string `json:"files"`   // path -> content excerpt
}

// Assessment is the parsed result of one analysis call. Ratings are the
// model's raw 0-100 category judgments; deterministic scoring happens
// later in the pipeline.
type Assessment struct {
	Summary         string             `json:"summary"`
	Ratings         map[string]float64 `json:"ratings"`
	StuckAreas      []string           `json:"stuck_areas"`
	NextSteps       []string           `json:"next_steps"`
	Recommendations []string           `json:"recommendations"`
	Issues          []string           `json:"issues"`
	Raw             string             `json:"raw,omitempty"`
}

// Client calls a chat-completions style reasoning API.
type Client struct {
	cfg    config.Reasoning
	apiKey string
	gw     *gateway.Gateway
	cache  *Cache
	http   *http.Client
	log    *slog.Logger
}

// New creates a client. cache may be nil to disable response caching.
func New(cfg config.Reasoning, apiKey string, gw *gateway.Gateway, cache *Cache, log *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		gw:     gw,
		cache:  cache,
		http:   &http.Client{},
		log:    log,
	}
}

// Analyze submits the request and returns the accumulated assessment.
func (c *Client) Analyze(ctx context.Context, req *Request) (*Assessment, error) {
	prompt := buildPrompt(req)

	if cached, ok := c.cache.Get(prompt); ok {
		c.log.Debug("reasoning cache hit", "repo", req.RepoFullName)
		return parseAssessment(string(cached)), nil
	}

	var text string
	err := c.gw.Call(ctx, Service, "analyze", func(ctx context.Context) error {
		out, err := c.complete(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	}, gateway.WithTimeout(c.cfg.AnalyzeTimeout))
	if err != nil {
		return nil, err
	}

	c.cache.Set(prompt, []byte(text))
	return parseAssessment(text), nil
}

// complete performs one streaming completion call and accumulates the
// chunks into the full response text.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  c.cfg.Model,
		"stream": true,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", gateway.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", gateway.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", gateway.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		base := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", gateway.RateLimited(base)
		case resp.StatusCode >= 500:
			return "", gateway.Transient(base)
		default:
			return "", gateway.Permanent(base)
		}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return accumulateStream(resp.Body)
	}

	// Non-streaming fallback for providers that ignore the stream flag.
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", gateway.Transient(fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", gateway.Transient(fmt.Errorf("empty response"))
	}
	return out.Choices[0].Message.Content, nil
}

// accumulateStream buffers server-sent completion chunks until the
// stream finishes, returning the concatenated text. The stream either
// completes once or fails once; partial output is never surfaced.
func accumulateStream(r io.Reader) (string, error) {
	var buf strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return buf.String(), nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // keep-alives and unknown event shapes
		}
		for _, ch := range chunk.Choices {
			buf.WriteString(ch.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", gateway.Transient(fmt.Errorf("read stream: %w", err))
	}
	return buf.String(), nil
}

// parseAssessment converts the raw model output into an Assessment,
// keeping the raw text when structured parsing fails.
func parseAssessment(text string) *Assessment {
	var parsed struct {
		Summary         string             `json:"summary"`
		Ratings         map[string]float64 `json:"ratings"`
		QualityScores   map[string]float64 `json:"quality_scores"`
		StuckAreas      []string           `json:"stuck_areas"`
		NextSteps       []string           `json:"next_steps"`
		Recommendations []string           `json:"recommendations"`
		Issues          []string           `json:"issues"`
	}
	if !extractJSON(text, &parsed) {
		return &Assessment{
			Summary: strings.TrimSpace(text),
			Ratings: map[string]float64{},
			Raw:     text,
		}
	}

	ratings := parsed.Ratings
	if len(ratings) == 0 {
		ratings = parsed.QualityScores
	}
	if ratings == nil {
		ratings = map[string]float64{}
	}

	return &Assessment{
		Summary:         parsed.Summary,
		Ratings:         ratings,
		StuckAreas:      parsed.StuckAreas,
		NextSteps:       parsed.NextSteps,
		Recommendations: parsed.Recommendations,
		Issues:          parsed.Issues,
		Raw:             text,
	}
}

const systemPrompt = `You are a senior engineer reviewing a code repository.
Respond with a single JSON object with the keys: summary (string),
ratings (object with 0-100 numbers for code_quality, documentation,
structure, testing), stuck_areas (array of strings), next_steps (array
of strings), recommendations (array of strings), issues (array of strings).`

// buildPrompt renders the request deterministically: files in sorted
// order so the same input always produces the same prompt (and the same
// cache key).
func buildPrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n\n", req.RepoFullName)

	if len(req.Profile) > 0 {
		b.WriteString("Profile:\n")
		keys := make([]string, 0, len(req.Profile))
		for k := range req.Profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Profile[k])
		}
		b.WriteString("\n")
	}

	paths := make([]string, 0, len(req.Files))
	for p := range req.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", p, req.Files[p])
	}

	return b.String()
}
