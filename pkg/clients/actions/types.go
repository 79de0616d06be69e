package actions

import (
	"time"

	"github.com/google/go-github/v57/github"
)

// Status is the lifecycle state reported for a workflow run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusWaiting    Status = "waiting"
	StatusRequested  Status = "requested"
	StatusPending    Status = "pending"
)

// Conclusion is the final result of a completed workflow run. It stays
// ConclusionNone until the run reaches the completed status.
type Conclusion string

const (
	ConclusionNone           Conclusion = ""
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionCancelled      Conclusion = "cancelled"
	ConclusionSkipped        Conclusion = "skipped"
	ConclusionTimedOut       Conclusion = "timed_out"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionStale          Conclusion = "stale"
)

// RunSummary is the read-only view of a workflow run this tool cares about.
type RunSummary struct {
	ID         int64
	Status     Status
	Conclusion Conclusion
	CreatedAt  time.Time
	HTMLURL    string
}

// Done reports whether the run reached a terminal state. A run is terminal
// only once the API reports both the completed status and a conclusion.
func (r RunSummary) Done() bool {
	return r.Status == StatusCompleted && r.Conclusion != ConclusionNone
}

// Valid reports whether the summary identifies a real run. The runs listing
// can momentarily surface entries with a missing or zero id; those must
// never be treated as a correlation match.
func (r RunSummary) Valid() bool {
	return r.ID > 0 && !r.CreatedAt.IsZero()
}

func newRunSummary(run *github.WorkflowRun) RunSummary {
	if run == nil {
		return RunSummary{}
	}

	return RunSummary{
		ID:         run.GetID(),
		Status:     Status(run.GetStatus()),
		Conclusion: Conclusion(run.GetConclusion()),
		CreatedAt:  run.GetCreatedAt().Time,
		HTMLURL:    run.GetHTMLURL(),
	}
}

// DispatchRequest carries the parameters of a single workflow_dispatch call.
type DispatchRequest struct {
	Ref    string
	Inputs map[string]interface{}
}

// ListRunsOptions narrows a runs listing. The listing is always filtered to
// the workflow_dispatch event and ordered most-recent-first by the API.
type ListRunsOptions struct {
	Actor        string
	CreatedSince time.Time
	PerPage      int
}
