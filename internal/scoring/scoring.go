// Package scoring turns an analysis result into a fixed-category numeric
// assessment. Pure computation: no I/O, deterministic for identical
// input, so a resumed pipeline can replay it without re-calling the
// reasoning service.
package scoring

import "math"

// Input is everything scoring is allowed to look at.
type Input struct {
	// Ratings are the model's raw 0-100 category judgments.
	Ratings map[string]float64
	// Structure signals derived from the fetched file tree.
	HasTests  bool
	HasDocs   bool
	HasCI     bool
	FileCount int
	// IssueCount is the number of findings the analysis surfaced.
	IssueCount int
}

// Score is the final fixed-category assessment, each value in [0,100].
type Score struct {
	Overall       float64 `json:"overall"`
	CodeQuality   float64 `json:"code_quality"`
	Documentation float64 `json:"documentation"`
	Structure     float64 `json:"structure"`
	Testing       float64 `json:"testing"`
}

// Category weights for the overall score. Code quality dominates.
const (
	weightCodeQuality   = 0.4
	weightDocumentation = 0.2
	weightStructure     = 0.2
	weightTesting       = 0.2
)

// Compute derives the final score. Model ratings are clamped and then
// adjusted by hard structural evidence: a repository without tests
// cannot score high on testing no matter what the model said, and
// documented/CI-equipped repositories get a floor on the relevant
// category.
func Compute(in Input) Score {
	s := Score{
		CodeQuality:   clamp(rating(in.Ratings, "code_quality")),
		Documentation: clamp(rating(in.Ratings, "documentation")),
		Structure:     clamp(rating(in.Ratings, "structure")),
		Testing:       clamp(rating(in.Ratings, "testing")),
	}

	if !in.HasTests {
		s.Testing = math.Min(s.Testing, 25)
	}
	if !in.HasDocs {
		s.Documentation = math.Min(s.Documentation, 40)
	}
	if in.HasCI {
		s.Structure = math.Max(s.Structure, 50)
	}
	if in.IssueCount > 10 {
		s.CodeQuality = math.Max(0, s.CodeQuality-10)
	}

	s.Overall = round1(s.CodeQuality*weightCodeQuality +
		s.Documentation*weightDocumentation +
		s.Structure*weightStructure +
		s.Testing*weightTesting)
	s.CodeQuality = round1(s.CodeQuality)
	s.Documentation = round1(s.Documentation)
	s.Structure = round1(s.Structure)
	s.Testing = round1(s.Testing)
	return s
}

// rating reads a category with a neutral default for absent keys, so a
// sparse model response still yields a usable score.
func rating(m map[string]float64, key string) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return 50
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
