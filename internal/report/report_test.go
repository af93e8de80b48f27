package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/gateway"
	"github.com/reviewpilot/reviewpilot/internal/githubapi"
	"github.com/reviewpilot/reviewpilot/internal/logger"
	"github.com/reviewpilot/reviewpilot/internal/pipeline"
	"github.com/reviewpilot/reviewpilot/internal/reasoning"
	"github.com/reviewpilot/reviewpilot/internal/scoring"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

func testRepo() *store.Repository {
	return &store.Repository{Owner: "acme", Name: "widgets", DefaultBranch: "main"}
}

func testAssessment() *reasoning.Assessment {
	return &reasoning.Assessment{
		Summary:         "A small but tidy widget library.",
		StuckAreas:      []string{"parser rewrite stalled"},
		Issues:          []string{"no input validation in api.go"},
		Recommendations: []string{"add integration tests"},
		NextSteps:       []string{"cut a v1 release"},
	}
}

func TestRenderIncludesScoresAndSections(t *testing.T) {
	w := NewWriter(t.TempDir())
	w.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC) }

	sc := scoring.Score{Overall: 72.5, CodeQuality: 80, Documentation: 60, Structure: 75, Testing: 65}
	st := pipeline.Structure{
		ProjectType:    "go",
		FileCount:      42,
		DirectoryCount: 7,
		HasTests:       true,
		HasCI:          true,
		FilesByType:    map[string]int{"go": 30, "md": 5, "yaml": 2},
	}

	got, err := w.Render(testRepo(), testAssessment(), sc, st)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		"# Repository Status: acme/widgets",
		"_Generated 2026-03-14 09:26 UTC_",
		"| **Overall** | **72.5** |",
		"| Code Quality | 80.0 |",
		"A small but tidy widget library.",
		"- Type: go",
		"- Files: 42 across 7 directories",
		"- Tests: yes, Docs: no, CI: yes",
		"go (30), md (5), yaml (2)",
		"## Stuck Areas",
		"- parser rewrite stalled",
		"## Next Steps",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}

func TestRenderOmitsEmptySections(t *testing.T) {
	w := NewWriter(t.TempDir())
	a := &reasoning.Assessment{Summary: "fine"}

	got, err := w.Render(testRepo(), a, scoring.Score{}, pipeline.Structure{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, heading := range []string{"## Stuck Areas", "## Issues", "## Recommendations", "## Next Steps"} {
		if strings.Contains(got, heading) {
			t.Errorf("rendered report has %q for empty list", heading)
		}
	}
	if !strings.Contains(got, "- Type: unknown") {
		t.Error("empty project type not rendered as unknown")
	}
}

func TestRenderRequiresAssessment(t *testing.T) {
	w := NewWriter(t.TempDir())
	if _, err := w.Render(testRepo(), nil, scoring.Score{}, pipeline.Structure{}); err == nil {
		t.Fatal("Render with nil assessment succeeded, want error")
	}
}

func TestPublishWritesStatusFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	path, err := w.Publish(testRepo(), "# hello\n")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := filepath.Join(dir, "acme-widgets", StatusFileName)
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read published report: %v", err)
	}
	if string(data) != "# hello\n" {
		t.Errorf("published content = %q", data)
	}
}

func TestTopExtensionsOrderAndLimit(t *testing.T) {
	got := topExtensions(map[string]int{"go": 10, "md": 10, "py": 3, "js": 7, "ts": 7, "sh": 1}, 5)
	want := "go (10), md (10), js (7), ts (7), py (3)"
	if got != want {
		t.Errorf("topExtensions = %q, want %q", got, want)
	}
}

// fakeHost records the write path of a proposal. Opening a second pull
// request for the same head is rejected the way the real API does.
type fakeHost struct {
	refs     map[string]string // branch -> sha
	files    map[string]string // branch/path -> blob sha
	open     map[string]string // head branch -> open pr url
	branches []string          // CreateBranch calls
	puts     []putCall
	prs      []prCall
}

type putCall struct {
	branch, message, sha string
	content              string
}

type prCall struct {
	title, head, base string
}

func notFound(op string) error {
	return &gateway.Error{Kind: gateway.KindPermanent, Service: "github", Op: op, Err: errors.New("404")}
}

func (f *fakeHost) GetRef(ctx context.Context, owner, repo, branch string) (*githubapi.Ref, error) {
	sha, ok := f.refs[branch]
	if !ok {
		return nil, notFound("get ref")
	}
	ref := &githubapi.Ref{Ref: "refs/heads/" + branch}
	ref.Object.SHA = sha
	return ref, nil
}

func (f *fakeHost) GetContent(ctx context.Context, owner, repo, path, ref string) (*githubapi.FileContent, error) {
	sha, ok := f.files[ref+"/"+path]
	if !ok {
		return nil, notFound("get content")
	}
	return &githubapi.FileContent{Path: path, SHA: sha}, nil
}

func (f *fakeHost) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	f.branches = append(f.branches, branch)
	f.refs[branch] = fromSHA
	return nil
}

func (f *fakeHost) PutFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) error {
	f.puts = append(f.puts, putCall{branch: branch, message: message, sha: sha, content: string(content)})
	return nil
}

func (f *fakeHost) FindOpenPullRequest(ctx context.Context, owner, repo, head string) (*githubapi.PullRequest, error) {
	url, ok := f.open[head]
	if !ok {
		return nil, nil
	}
	return &githubapi.PullRequest{Number: 7, HTMLURL: url}, nil
}

func (f *fakeHost) OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*githubapi.PullRequest, error) {
	if _, ok := f.open[head]; ok {
		return nil, &gateway.Error{Kind: gateway.KindPermanent, Service: "github", Op: "open_pull_request",
			Err: errors.New("422 a pull request already exists for " + head)}
	}
	f.prs = append(f.prs, prCall{title: title, head: head, base: base})
	if f.open == nil {
		f.open = map[string]string{}
	}
	f.open[head] = "https://example.test/pr/7"
	return &githubapi.PullRequest{Number: 7, HTMLURL: "https://example.test/pr/7"}, nil
}

func testProposer(host *fakeHost, at time.Time) *Proposer {
	p := NewProposer(host, logger.Discard())
	p.now = func() time.Time { return at }
	return p
}

func TestProposeCreatesBranchAndOpensPR(t *testing.T) {
	host := &fakeHost{refs: map[string]string{"main": "base-sha"}}
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	p := testProposer(host, day)

	prop, err := p.Propose(context.Background(), testRepo(), "doc body")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	wantBranch := "reviewpilot/review-20260314"
	if prop.Branch != wantBranch {
		t.Errorf("branch = %q, want %q", prop.Branch, wantBranch)
	}
	if prop.PullRequestURL != "https://example.test/pr/7" {
		t.Errorf("pr url = %q", prop.PullRequestURL)
	}
	if len(host.branches) != 1 || host.branches[0] != wantBranch {
		t.Errorf("CreateBranch calls = %v, want [%s]", host.branches, wantBranch)
	}
	if len(host.puts) != 1 {
		t.Fatalf("PutFile calls = %d, want 1", len(host.puts))
	}
	put := host.puts[0]
	if put.sha != "" {
		t.Errorf("new file committed with sha %q, want empty", put.sha)
	}
	if put.message != "Add repository status report" {
		t.Errorf("commit message = %q", put.message)
	}
	if len(host.prs) != 1 {
		t.Fatalf("OpenPullRequest calls = %d, want 1", len(host.prs))
	}
	pr := host.prs[0]
	if pr.head != wantBranch || pr.base != "main" {
		t.Errorf("pr head/base = %s/%s, want %s/main", pr.head, pr.base, wantBranch)
	}
	if pr.title != "Automated review: acme/widgets" {
		t.Errorf("pr title = %q", pr.title)
	}
}

func TestProposeReusesExistingBranchAndFile(t *testing.T) {
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	branch := "reviewpilot/review-20260314"
	host := &fakeHost{
		refs:  map[string]string{"main": "base-sha", branch: "branch-sha"},
		files: map[string]string{branch + "/" + StatusFileName: "blob-sha"},
	}
	p := testProposer(host, day)

	if _, err := p.Propose(context.Background(), testRepo(), "doc body"); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if len(host.branches) != 0 {
		t.Errorf("CreateBranch called for existing branch: %v", host.branches)
	}
	if len(host.puts) != 1 {
		t.Fatalf("PutFile calls = %d, want 1", len(host.puts))
	}
	put := host.puts[0]
	if put.sha != "blob-sha" {
		t.Errorf("update committed with sha %q, want blob-sha", put.sha)
	}
	if put.message != "Update repository status report" {
		t.Errorf("commit message = %q", put.message)
	}
}

func TestProposeReusesOpenPullRequest(t *testing.T) {
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	branch := "reviewpilot/review-20260314"
	host := &fakeHost{
		refs:  map[string]string{"main": "base-sha", branch: "branch-sha"},
		files: map[string]string{branch + "/" + StatusFileName: "blob-sha"},
		open:  map[string]string{branch: "https://example.test/pr/3"},
	}
	p := testProposer(host, day)

	// A crash after PR creation, or a same-day rerun: the open PR is
	// returned instead of a duplicate create the host would reject.
	prop, err := p.Propose(context.Background(), testRepo(), "doc body")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if prop.PullRequestURL != "https://example.test/pr/3" {
		t.Errorf("pr url = %q, want the existing PR", prop.PullRequestURL)
	}
	if len(host.prs) != 0 {
		t.Errorf("OpenPullRequest calls = %d, want 0", len(host.prs))
	}
	if len(host.puts) != 1 {
		t.Errorf("PutFile calls = %d, want 1 (report still refreshed)", len(host.puts))
	}
}

func TestProposeRerunAfterProposeDoesNotFail(t *testing.T) {
	host := &fakeHost{refs: map[string]string{"main": "base-sha"}}
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	p := testProposer(host, day)

	first, err := p.Propose(context.Background(), testRepo(), "doc body")
	if err != nil {
		t.Fatalf("first Propose: %v", err)
	}
	second, err := p.Propose(context.Background(), testRepo(), "doc body v2")
	if err != nil {
		t.Fatalf("second Propose: %v", err)
	}
	if second.PullRequestURL != first.PullRequestURL {
		t.Errorf("second pr url = %q, want %q", second.PullRequestURL, first.PullRequestURL)
	}
	if len(host.prs) != 1 {
		t.Errorf("OpenPullRequest calls = %d, want 1", len(host.prs))
	}
}

func TestProposeFallsBackToMainBase(t *testing.T) {
	host := &fakeHost{refs: map[string]string{"main": "base-sha"}}
	p := testProposer(host, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	repo := testRepo()
	repo.DefaultBranch = ""
	if _, err := p.Propose(context.Background(), repo, "doc"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if host.prs[0].base != "main" {
		t.Errorf("base = %q, want main", host.prs[0].base)
	}
}

func TestProposeFailsWhenBaseMissing(t *testing.T) {
	host := &fakeHost{refs: map[string]string{}}
	p := testProposer(host, time.Now())

	_, err := p.Propose(context.Background(), testRepo(), "doc")
	if err == nil {
		t.Fatal("Propose with missing base branch succeeded, want error")
	}
	if want := fmt.Sprintf("resolve base branch %s", "main"); !strings.Contains(err.Error(), want) {
		t.Errorf("err = %v, want mention of %q", err, want)
	}
}
