package pipeline

import (
	"github.com/reviewpilot/reviewpilot/internal/reasoning"
	"github.com/reviewpilot/reviewpilot/internal/scoring"
)

// FetchOutput is the persisted result of the fetching stage.
type FetchOutput struct {
	Files      map[string]string `json:"files"`
	Structure  Structure         `json:"structure"`
	TotalBytes int64             `json:"total_bytes"`
	Sampled    bool              `json:"sampled"`
}

// AnalyzeOutput is the persisted result of the analyzing stage.
type AnalyzeOutput struct {
	Assessment *reasoning.Assessment `json:"assessment"`
}

// ScoreOutput is the persisted result of the scoring stage.
type ScoreOutput struct {
	Score scoring.Score `json:"score"`
}

// ReportOutput is the persisted result of the reporting stage.
type ReportOutput struct {
	ArtifactLocation string `json:"artifact_location"`
	Rendered         string `json:"rendered"`
}

// ProposeOutput is the persisted result of the proposing-change stage.
type ProposeOutput struct {
	Branch         string `json:"branch"`
	PullRequestURL string `json:"pull_request_url"`
}

// outputs accumulates stage results as a run progresses, whether they
// were just computed or replayed from the store on resume.
type outputs struct {
	Fetch   *FetchOutput
	Analyze *AnalyzeOutput
	Score   *ScoreOutput
	Report  *ReportOutput
	Propose *ProposeOutput
}
