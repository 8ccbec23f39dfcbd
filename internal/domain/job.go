package domain

import (
	"strings"
	"time"
)

// JobKind selects which artifact a generation produces and which
// result-extraction rules apply.
type JobKind string

const (
	JobKindStill  JobKind = "still"
	JobKindMotion JobKind = "motion"
)

// Job tracks one asynchronous generation request from submission to a
// terminal state. It is mutated only by the orchestration loop that owns it.
type Job struct {
	ID           string
	Kind         JobKind
	Status       string
	RequestBody  map[string]any
	ProgressText string
	ScanLines    []string
	Result       *JobResult
	CreatedAt    time.Time
}

// JobResult is populated only on terminal success.
type JobResult struct {
	URL         string
	Prompt      string
	CreditDelta int
}

// Default terminal vocabularies. The backend's status strings were observed
// to vary across deployments, so both sets stay configurable on the
// orchestrator; these are the known values.
var (
	DefaultTerminalSuccess = []string{"done", "succeeded", "success", "completed", "cancelled", "suggested"}
	DefaultTerminalFailure = []string{"error", "failed"}
)

// StatusIn reports whether status matches any of the given vocabulary,
// case-insensitively.
func StatusIn(status string, vocab []string) bool {
	for _, v := range vocab {
		if strings.EqualFold(status, v) {
			return true
		}
	}
	return false
}
