package jobstream

import (
	"sync"
	"time"
)

// LogEntry is one classified, deduplicated progress message in a job's
// timeline. Entries are immutable once created and ordered by arrival.
type LogEntry struct {
	Message   string    `json:"message"`
	Pct       int       `json:"pct"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
}

// Timeline is an append-only, duplicate-free list of log entries for one job
type Timeline struct {
	entries []LogEntry
	seen    map[string]struct{}
}

// AddIfNew appends a new entry unless an entry with the exact same message
// text already exists. Returns nil for duplicates.
func (t *Timeline) AddIfNew(message string, pct int, category Category) *LogEntry {
	if t.seen == nil {
		t.seen = make(map[string]struct{})
	}
	if _, dup := t.seen[message]; dup {
		return nil
	}
	t.seen[message] = struct{}{}

	entry := LogEntry{
		Message:   message,
		Pct:       pct,
		Timestamp: time.Now(),
		Category:  category,
	}
	t.entries = append(t.entries, entry)
	return &entry
}

// Snapshot is a copied-out view of a job's state, safe for callers to keep
type Snapshot struct {
	JobID       string     `json:"job_id"`
	Status      Status     `json:"status"`
	ProgressPct int        `json:"progress_pct"`
	Log         []LogEntry `json:"log"`
}

// State is the progress state machine for a single job. It is mutated only
// by stream events (via Apply) and the end-of-stream finalizer; observers
// read it through copied snapshots or change listeners.
type State struct {
	mu         sync.Mutex
	jobID      string
	status     Status
	pct        int
	timeline   Timeline
	classifier *Classifier
	listeners  []func(Snapshot)
}

// NewState creates a state machine seeded from a job submission response
func NewState(jobID string, status Status, pct int) *State {
	if status == "" {
		status = StatusPending
	}
	return &State{
		jobID:      jobID,
		status:     status,
		pct:        clampPct(pct),
		classifier: NewClassifier(),
	}
}

// SetClassifier replaces the default classifier. Call before the stream
// delivers any messages.
func (s *State) SetClassifier(c *Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = c
}

// OnChange registers a listener invoked with a fresh snapshot after every
// applied event.
func (s *State) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Apply folds one stream event into the job state under the transition
// rules: terminal statuses are sticky, percentages are clamped to [0,100],
// and progress messages are classified and deduplicated into the timeline.
// Percentage regressions are accepted as reported.
func (s *State) Apply(ev Event) {
	s.mu.Lock()

	switch ev.Kind {
	case EventJobProgress:
		if ev.Payload.Status != "" && !s.status.Terminal() {
			s.status = Status(ev.Payload.Status)
		}
		if ev.Payload.ProgressPct != nil && !s.status.Terminal() {
			s.pct = clampPct(*ev.Payload.ProgressPct)
		}
		if ev.Payload.ProgressMessage != "" {
			// Trailing messages are still recorded after a terminal status
			s.appendLocked(ev.Payload.ProgressMessage)
		}

	case EventDone:
		if ev.Payload.Error != "" {
			s.status = StatusFailed
			// Synthetic entry, always error-category regardless of wording
			s.timeline.AddIfNew(ev.Payload.Error, s.pct, CategoryError)
		} else if s.status != StatusFailed && s.status != StatusCancelled {
			s.status = StatusCompleted
		}
	}

	snapshot := s.snapshotLocked()
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// finalize resolves an ambiguous end of stream: a stream that closed
// without ever reporting a terminal status is treated as completed.
func (s *State) finalize() {
	s.mu.Lock()
	if !s.status.Terminal() {
		s.status = StatusCompleted
	}
	snapshot := s.snapshotLocked()
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// markCancelled records a caller-initiated cancellation, unless the job
// already reached a terminal status.
func (s *State) markCancelled() {
	s.mu.Lock()
	if !s.status.Terminal() {
		s.status = StatusCancelled
	}
	s.mu.Unlock()
}

func (s *State) appendLocked(message string) {
	s.timeline.AddIfNew(message, s.pct, s.classifier.Classify(message))
}

// Snapshot returns a copy of the current job state
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	logCopy := make([]LogEntry, len(s.timeline.entries))
	copy(logCopy, s.timeline.entries)
	return Snapshot{
		JobID:       s.jobID,
		Status:      s.status,
		ProgressPct: s.pct,
		Log:         logCopy,
	}
}
