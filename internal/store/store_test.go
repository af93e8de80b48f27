package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addRepo(t *testing.T, s *Store, owner, name string) *Repository {
	t.Helper()
	r := &Repository{Owner: owner, Name: name, DefaultBranch: "main", Language: "Go"}
	if err := s.UpsertRepository(context.Background(), r); err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}
	return r
}

func TestUpsertRepositoryPreservesState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := addRepo(t, s, "acme", "widgets")
	if r.PipelineState != "queued" {
		t.Errorf("PipelineState = %q, want queued", r.PipelineState)
	}
	if err := s.SetPipelineState(ctx, r.ID, "analyzing"); err != nil {
		t.Fatalf("SetPipelineState: %v", err)
	}

	// A later discovery sweep refreshes metadata only.
	again := &Repository{Owner: "acme", Name: "widgets", DefaultBranch: "trunk", Language: "Rust"}
	if err := s.UpsertRepository(ctx, again); err != nil {
		t.Fatalf("UpsertRepository again: %v", err)
	}
	if again.ID != r.ID {
		t.Errorf("ID = %d, want %d", again.ID, r.ID)
	}
	if again.DefaultBranch != "trunk" {
		t.Errorf("DefaultBranch = %q, want trunk", again.DefaultBranch)
	}
	if again.PipelineState != "analyzing" {
		t.Errorf("PipelineState = %q, want analyzing (preserved)", again.PipelineState)
	}
}

func TestSetPipelineStateCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := addRepo(t, s, "acme", "widgets")

	if err := s.SetPipelineState(ctx, r.ID, "fetching", "queued"); err != nil {
		t.Fatalf("queued -> fetching: %v", err)
	}
	err := s.SetPipelineState(ctx, r.ID, "analyzing", "queued")
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("err = %v, want ErrStateConflict", err)
	}

	got, err := s.GetRepositoryByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRepositoryByID: %v", err)
	}
	if got.PipelineState != "fetching" {
		t.Errorf("PipelineState = %q, want fetching", got.PipelineState)
	}
}

func TestGetRepositoryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRepository(context.Background(), "nobody", "nothing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRepositoriesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := addRepo(t, s, "acme", "alpha")
	addRepo(t, s, "acme", "beta")
	archived := &Repository{Owner: "acme", Name: "old", Archived: true}
	if err := s.UpsertRepository(ctx, archived); err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}

	if err := s.SetPipelineState(ctx, a.ID, "failed"); err != nil {
		t.Fatalf("SetPipelineState: %v", err)
	}

	all, err := s.ListRepositories(ctx, RepoFilter{})
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unarchived count = %d, want 2", len(all))
	}

	withArchived, err := s.ListRepositories(ctx, RepoFilter{IncludeArchived: true})
	if err != nil {
		t.Fatalf("ListRepositories archived: %v", err)
	}
	if len(withArchived) != 3 {
		t.Errorf("total count = %d, want 3", len(withArchived))
	}

	failed, err := s.ListRepositories(ctx, RepoFilter{States: []string{"failed"}})
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Name != "alpha" {
		t.Errorf("failed = %v, want [alpha]", names(failed))
	}
}

func TestListRepositoriesStaleBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh := addRepo(t, s, "acme", "fresh")
	addRepo(t, s, "acme", "never")
	stale := addRepo(t, s, "acme", "stale")

	now := time.Now()
	if err := s.MarkReviewed(ctx, fresh.ID, now); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}
	if err := s.MarkReviewed(ctx, stale.ID, now.Add(-30*24*time.Hour)); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}

	due, err := s.ListRepositories(ctx, RepoFilter{StaleBefore: now.Add(-7 * 24 * time.Hour)})
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	got := names(due)
	if len(got) != 2 || got[0] != "never" || got[1] != "stale" {
		t.Errorf("due = %v, want [never stale]", got)
	}
}

func TestMarkReviewedClearsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := addRepo(t, s, "acme", "widgets")

	if err := s.SetLastError(ctx, r.ID, "analyzing", "transient"); err != nil {
		t.Fatalf("SetLastError: %v", err)
	}
	if err := s.MarkReviewed(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}

	got, err := s.GetRepositoryByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRepositoryByID: %v", err)
	}
	if got.LastErrorKind != "" || got.LastErrorStage != "" {
		t.Errorf("last error = (%q, %q), want cleared", got.LastErrorKind, got.LastErrorStage)
	}
	if got.LastReviewedAt.IsZero() {
		t.Error("LastReviewedAt should be set")
	}
}

func TestStageAttemptNumbering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := addRepo(t, s, "acme", "widgets")

	n, err := s.NextAttemptNumber(ctx, r.ID, "fetching")
	if err != nil {
		t.Fatalf("NextAttemptNumber: %v", err)
	}
	if n != 1 {
		t.Errorf("first attempt = %d, want 1", n)
	}

	for i := 1; i <= 2; i++ {
		err := s.AppendStageAttempt(ctx, &StageAttempt{
			RepoID: r.ID, Stage: "fetching", Attempt: i,
			Outcome: "error", ErrorKind: "transient",
			StartedAt: time.Now(), Latency: 120 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("AppendStageAttempt %d: %v", i, err)
		}
	}

	n, err = s.NextAttemptNumber(ctx, r.ID, "fetching")
	if err != nil {
		t.Fatalf("NextAttemptNumber: %v", err)
	}
	if n != 3 {
		t.Errorf("next attempt = %d, want 3", n)
	}

	attempts, err := s.ListStageAttempts(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListStageAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Attempt != 2 {
		t.Errorf("newest attempt = %d, want 2", attempts[0].Attempt)
	}
}

func TestStageOutputRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := addRepo(t, s, "acme", "widgets")

	if _, err := s.GetStageOutput(ctx, r.ID, "fetching"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing output err = %v, want ErrNotFound", err)
	}

	if err := s.SaveStageOutput(ctx, r.ID, "fetching", []byte(`{"files":{}}`)); err != nil {
		t.Fatalf("SaveStageOutput: %v", err)
	}
	// Upsert replaces.
	if err := s.SaveStageOutput(ctx, r.ID, "fetching", []byte(`{"files":{"a":"b"}}`)); err != nil {
		t.Fatalf("SaveStageOutput again: %v", err)
	}

	out, err := s.GetStageOutput(ctx, r.ID, "fetching")
	if err != nil {
		t.Fatalf("GetStageOutput: %v", err)
	}
	if string(out) != `{"files":{"a":"b"}}` {
		t.Errorf("output = %s", out)
	}

	if err := s.ClearStageOutputs(ctx, r.ID); err != nil {
		t.Fatalf("ClearStageOutputs: %v", err)
	}
	if _, err := s.GetStageOutput(ctx, r.ID, "fetching"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clear err = %v, want ErrNotFound", err)
	}
}

func TestClaimTaskOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	enqueue := func(id string, priority int, offset time.Duration) {
		t.Helper()
		err := s.CreateTask(ctx, &Task{
			ID: id, Kind: "noop", Priority: priority, EnqueuedAt: base.Add(offset),
		})
		if err != nil {
			t.Fatalf("CreateTask %s: %v", id, err)
		}
	}

	enqueue("t1", 5, 0)
	enqueue("t2", 1, time.Millisecond)
	enqueue("t3", 5, 2*time.Millisecond)
	enqueue("t4", 3, 3*time.Millisecond)

	var order []string
	for {
		task, err := s.ClaimTask(ctx, "w1")
		if err != nil {
			t.Fatalf("ClaimTask: %v", err)
		}
		if task == nil {
			break
		}
		order = append(order, task.ID)
		if task.State != TaskRunning {
			t.Errorf("claimed state = %q, want running", task.State)
		}
		if err := s.FinishTask(ctx, task.ID, TaskSucceeded, "ok", ""); err != nil {
			t.Fatalf("FinishTask: %v", err)
		}
	}

	want := []string{"t1", "t3", "t4", "t2"}
	if len(order) != len(want) {
		t.Fatalf("claimed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("claimed %v, want %v", order, want)
		}
	}
}

func TestFinishTaskRequiresRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, &Task{ID: "t1", Kind: "noop"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	err := s.FinishTask(ctx, "t1", TaskSucceeded, "", "")
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("finish pending err = %v, want ErrStateConflict", err)
	}
}

func TestCancelPendingTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, &Task{ID: "t1", Kind: "noop"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	ok, err := s.CancelPendingTask(ctx, "t1")
	if err != nil {
		t.Fatalf("CancelPendingTask: %v", err)
	}
	if !ok {
		t.Fatal("cancel of pending task should succeed")
	}

	task, err := s.ClaimTask(ctx, "w1")
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if task != nil {
		t.Errorf("claimed cancelled task %s", task.ID)
	}

	ok, err = s.CancelPendingTask(ctx, "t1")
	if err != nil {
		t.Fatalf("CancelPendingTask again: %v", err)
	}
	if ok {
		t.Error("second cancel should report false")
	}
}

func TestArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := addRepo(t, s, "acme", "widgets")

	if err := s.SaveArtifact(ctx, r.ID, "review_report", "/tmp/report.md"); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if err := s.SaveArtifact(ctx, r.ID, "review_report", "/tmp/report2.md"); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}

	arts, err := s.ListArtifacts(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(arts))
	}
	if arts[0].Location != "/tmp/report2.md" {
		t.Errorf("newest artifact = %q, want /tmp/report2.md", arts[0].Location)
	}
}

func names(repos []Repository) []string {
	out := make([]string, len(repos))
	for i, r := range repos {
		out[i] = r.Name
	}
	return out
}
