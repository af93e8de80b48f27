package githubapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/gateway"
	"github.com/reviewpilot/reviewpilot/internal/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *gateway.Gateway) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw := gateway.New(config.Gateway{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         10 * time.Millisecond,
		CallTimeout:      5 * time.Second,
		BreakerThreshold: 10,
		BreakerCooldown:  time.Minute,
	}, logger.Discard())
	c := New(config.GitHub{BaseURL: srv.URL}, "test-token", gw, logger.Discard())
	return c, gw
}

func TestListRepositoriesPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")

		switch page {
		case "1":
			repos := make([]Repo, 100)
			for i := range repos {
				repos[i].Name = fmt.Sprintf("repo-%03d", i)
			}
			json.NewEncoder(w).Encode(repos)
		case "2":
			json.NewEncoder(w).Encode([]Repo{{Name: "last"}})
		default:
			t.Errorf("unexpected page %q", page)
			json.NewEncoder(w).Encode([]Repo{})
		}
	})

	c, _ := newTestClient(t, mux)
	repos, err := c.ListRepositories(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(repos) != 101 {
		t.Errorf("repos = %d, want 101", len(repos))
	}
	if repos[100].Name != "last" {
		t.Errorf("last repo = %q", repos[100].Name)
	}
}

func TestGetContentDecodesBase64(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/contents/cmd/main.go", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ref"); got != "main" {
			t.Errorf("ref = %q, want main", got)
		}
		// The API wraps base64 at 60 columns; the client must tolerate
		// embedded newlines.
		enc := base64.StdEncoding.EncodeToString([]byte("package main"))
		fmt.Fprintf(w, `{"content": "%s\n", "encoding": "base64", "sha": "abc123"}`, enc)
	})

	c, _ := newTestClient(t, mux)
	fc, err := c.GetContent(context.Background(), "acme", "widgets", "cmd/main.go", "main")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if string(fc.Content) != "package main" {
		t.Errorf("Content = %q", fc.Content)
	}
	if fc.SHA != "abc123" {
		t.Errorf("SHA = %q", fc.SHA)
	}
}

func TestDoClassifies429AsRateLimited(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"message": "rate limited"}`)
			return
		}
		w.Write([]byte("[]"))
	})

	c, _ := newTestClient(t, mux)
	_, err := c.ListRepositories(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListRepositories after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one rate-limited, one retry)", calls.Load())
	}
}

func TestDoClassifiesQuotaForbiddenAsRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	})

	c, gw := newTestClient(t, mux)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.ListRepositories(ctx, "acme")
	if err == nil {
		t.Fatal("expected error")
	}
	// The budget learned the exhausted quota and its reset time.
	snap := gw.Snapshot(Service)
	if snap.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", snap.Remaining)
	}
	if snap.ResetAt.IsZero() {
		t.Error("ResetAt should be set from headers")
	}
}

func TestDoDoesNotRetry404(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.GetContent(context.Background(), "acme", "widgets", "missing.go", "main")
	if !gateway.IsPermanent(err) {
		t.Errorf("KindOf(err) = %s, want permanent", gateway.KindOf(err))
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDoRetries500(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("[]"))
	})

	c, _ := newTestClient(t, mux)
	if _, err := c.ListRepositories(context.Background(), "acme"); err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestObserveFeedsBudgetOnSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "37")
		w.Write([]byte("[]"))
	})

	c, gw := newTestClient(t, mux)
	if _, err := c.ListRepositories(context.Background(), "acme"); err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	// Observe recorded 37; the successful call then consumed one.
	if snap := gw.Snapshot(Service); snap.Remaining != 36 {
		t.Errorf("Remaining = %d, want 36", snap.Remaining)
	}
}

func TestFindOpenPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Errorf("state = %q, want open", got)
		}
		switch head := r.URL.Query().Get("head"); head {
		case "acme:review-branch":
			fmt.Fprint(w, `[{"number": 7, "html_url": "https://example.com/pr/7"}]`)
		case "acme:other-branch":
			fmt.Fprint(w, `[]`)
		default:
			t.Errorf("unexpected head %q", head)
			fmt.Fprint(w, `[]`)
		}
	})

	c, _ := newTestClient(t, mux)
	pr, err := c.FindOpenPullRequest(context.Background(), "acme", "widgets", "review-branch")
	if err != nil {
		t.Fatalf("FindOpenPullRequest: %v", err)
	}
	if pr == nil || pr.HTMLURL != "https://example.com/pr/7" {
		t.Errorf("pr = %+v, want the open PR", pr)
	}

	pr, err = c.FindOpenPullRequest(context.Background(), "acme", "widgets", "other-branch")
	if err != nil {
		t.Fatalf("FindOpenPullRequest (none): %v", err)
	}
	if pr != nil {
		t.Errorf("pr = %+v, want nil when none open", pr)
	}
}

func TestOpenPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["head"] != "review-branch" || body["base"] != "main" {
			t.Errorf("head/base = %q/%q", body["head"], body["base"])
		}
		fmt.Fprint(w, `{"number": 7, "html_url": "https://example.com/pr/7"}`)
	})

	c, _ := newTestClient(t, mux)
	pr, err := c.OpenPullRequest(context.Background(), "acme", "widgets", "title", "body", "review-branch", "main")
	if err != nil {
		t.Fatalf("OpenPullRequest: %v", err)
	}
	if pr.Number != 7 || pr.HTMLURL != "https://example.com/pr/7" {
		t.Errorf("pr = %+v", pr)
	}
}
