package jobstream

import (
	"context"
	"log"
	"sync"

	"opsatlas/internal/telemetry"
)

// Monitor ties the pieces together for one feature: it submits a job,
// watches its progress stream into a state machine, and runs a refresh
// callback once the stream ends. Each Start call produces an independent
// session; concurrent sessions share nothing.
type Monitor struct {
	client     *Client
	feature    string
	refresh    func()
	classifier *Classifier
}

// NewMonitor creates a monitor for one feature. refresh is invoked exactly
// once per session when its stream closes; it may be nil.
func NewMonitor(client *Client, feature string, refresh func()) *Monitor {
	return &Monitor{client: client, feature: feature, refresh: refresh}
}

// SetClassifier overrides the built-in classification rules for sessions
// started after the call.
func (m *Monitor) SetClassifier(c *Classifier) {
	m.classifier = c
}

// Session is one monitored job: its state machine plus the handle that
// releases the underlying stream.
type Session struct {
	JobID string

	state  *State
	cancel CancelFunc

	mu        sync.Mutex
	streamErr error

	finalize sync.Once
	done     chan struct{}
}

// Start submits a job and begins consuming its progress stream. A failed
// submission returns a *SubmissionError and opens no stream.
func (m *Monitor) Start(ctx context.Context) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "jobstream.monitor."+m.feature)

	job, err := m.client.Submit(ctx, m.feature)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}
	telemetry.SetAttribute(span, "job.id", job.ID)

	state := NewState(job.ID, job.Status, job.ProgressPct)
	if m.classifier != nil {
		state.SetClassifier(m.classifier)
	}

	session := &Session{
		JobID: job.ID,
		state: state,
		done:  make(chan struct{}),
	}

	refresh := m.refresh
	session.cancel = m.client.Watch(ctx, job.ID, Handlers{
		OnMessage: state.Apply,
		OnError: func(err error) {
			log.Printf("jobstream: connection lost for %s job %s: %v", m.feature, job.ID, err)
			session.mu.Lock()
			session.streamErr = err
			session.mu.Unlock()
		},
		OnClose: func() {
			session.finalize.Do(func() {
				// A clean close with no terminal status means the server
				// finished without a done frame; treat it as completed. A
				// lost connection leaves the status as last reported, since
				// the job may still be running server-side.
				if session.StreamErr() == nil {
					state.finalize()
				}
				if refresh != nil {
					refresh()
				}
				span.End()
				close(session.done)
			})
		},
	})

	return session, nil
}

// State returns a copy of the session's current job state
func (s *Session) State() Snapshot {
	return s.state.Snapshot()
}

// OnChange registers a listener notified after every applied event
func (s *Session) OnChange(fn func(Snapshot)) {
	s.state.OnChange(fn)
}

// StreamErr returns the transport error that ended the stream, if any.
// This is a connection-level failure, not a job failure.
func (s *Session) StreamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

// Cancel marks the job cancelled and releases the stream. Idempotent; the
// session's close path (and refresh callback) still runs.
func (s *Session) Cancel() {
	s.state.markCancelled()
	s.cancel()
}

// Done is closed once the stream has ended and the finalizer has run
func (s *Session) Done() <-chan struct{} {
	return s.done
}
