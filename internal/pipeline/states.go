// Package pipeline drives one repository through the multi-stage review
// workflow: fetch, analyze, score, report, and optionally propose a
// change. Every stage transition is checkpointed to the store, so an
// interrupted run resumes at the beginning of its last incomplete stage.
package pipeline

// State is the authoritative pipeline position of a repository. Exactly
// one value holds per repository at any time.
type State string

const (
	StateQueued          State = "queued"
	StateFetching        State = "fetching"
	StateAnalyzing       State = "analyzing"
	StateScoring         State = "scoring"
	StateReporting       State = "reporting"
	StateProposingChange State = "proposing_change"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// stageOrder is the execution order of the working stages. Transitions
// are monotonic through this list; the only backward edge in the whole
// machine is failed -> queued on requeue.
var stageOrder = []State{
	StateFetching,
	StateAnalyzing,
	StateScoring,
	StateReporting,
	StateProposingChange,
}
