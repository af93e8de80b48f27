// Package report renders finished reviews as markdown status documents
// and publishes them, either to the local report directory or back to
// the reviewed repository as a pull request.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/pipeline"
	"github.com/reviewpilot/reviewpilot/internal/reasoning"
	"github.com/reviewpilot/reviewpilot/internal/scoring"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// StatusFileName is the document name used both locally and in
// proposed change branches.
const StatusFileName = "REPO_STATUS.md"

// Writer renders review documents and writes them under dir, one file
// per repository.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a Writer publishing into dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Render produces the markdown status document for one review.
func (w *Writer) Render(repo *store.Repository, a *reasoning.Assessment, sc scoring.Score, st pipeline.Structure) (string, error) {
	if a == nil {
		return "", fmt.Errorf("render %s: missing assessment", repo.FullName())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Repository Status: %s\n\n", repo.FullName())
	fmt.Fprintf(&b, "_Generated %s_\n\n", w.now().UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Quality Scores\n\n")
	b.WriteString("| Category | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| **Overall** | **%.1f** |\n", sc.Overall)
	fmt.Fprintf(&b, "| Code Quality | %.1f |\n", sc.CodeQuality)
	fmt.Fprintf(&b, "| Documentation | %.1f |\n", sc.Documentation)
	fmt.Fprintf(&b, "| Structure | %.1f |\n", sc.Structure)
	fmt.Fprintf(&b, "| Testing | %.1f |\n\n", sc.Testing)

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(a.Summary))
	b.WriteString("\n\n")

	b.WriteString("## Project Shape\n\n")
	fmt.Fprintf(&b, "- Type: %s\n", orUnknown(st.ProjectType))
	fmt.Fprintf(&b, "- Files: %d across %d directories\n", st.FileCount, st.DirectoryCount)
	fmt.Fprintf(&b, "- Tests: %s, Docs: %s, CI: %s\n", yesNo(st.HasTests), yesNo(st.HasDocs), yesNo(st.HasCI))
	if len(st.FilesByType) > 0 {
		fmt.Fprintf(&b, "- Languages by extension: %s\n", topExtensions(st.FilesByType, 5))
	}
	b.WriteString("\n")

	writeList(&b, "Stuck Areas", a.StuckAreas)
	writeList(&b, "Issues", a.Issues)
	writeList(&b, "Recommendations", a.Recommendations)
	writeList(&b, "Next Steps", a.NextSteps)

	return b.String(), nil
}

// Publish writes the rendered document to
// <dir>/<owner>-<name>/REPO_STATUS.md and returns that path.
func (w *Writer) Publish(repo *store.Repository, rendered string) (string, error) {
	dir := filepath.Join(w.dir, repo.Owner+"-"+repo.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(dir, StatusFileName)
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", strings.TrimSpace(it))
	}
	b.WriteString("\n")
}

// topExtensions formats the n most common extensions, count-descending
// with name as tiebreak so output is stable.
func topExtensions(byType map[string]int, n int) string {
	type kv struct {
		ext   string
		count int
	}
	all := make([]kv, 0, len(byType))
	for ext, c := range byType {
		all = append(all, kv{ext, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].ext < all[j].ext
	})
	if len(all) > n {
		all = all[:n]
	}
	parts := make([]string, len(all))
	for i, e := range all {
		parts[i] = fmt.Sprintf("%s (%d)", e.ext, e.count)
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
