// Package jobstream implements the client side of the background job
// protocol: submitting a job, consuming its server-sent progress stream,
// classifying progress messages into a log timeline, and tracking job
// state until the stream ends.
package jobstream

// Status represents the lifecycle state of a background job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Event names carried on the job stream
const (
	EventJobProgress = "job_progress"
	EventDone        = "done"
)

// Payload is the decoded JSON body of a stream frame. ProgressPct is a
// pointer because zero is a meaningful reported value.
type Payload struct {
	Status          string `json:"status,omitempty"`
	ProgressPct     *int   `json:"progress_pct,omitempty"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Event is one decoded frame from a job's progress stream
type Event struct {
	Kind    string
	Payload Payload
}

// clampPct bounds a reported percentage to the displayable [0,100] range
func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
