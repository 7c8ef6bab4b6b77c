package jobstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Handlers are the callbacks a subscriber provides. OnMessage fires once
// per decoded event in arrival order. OnError fires at most once, on an
// irrecoverable transport failure; no OnMessage calls follow it. OnClose
// fires exactly once when the stream ends for any reason, always last.
// Any handler may be nil.
type Handlers struct {
	OnMessage func(Event)
	OnError   func(error)
	OnClose   func()
}

// CancelFunc releases a subscription's underlying connection. Safe to call
// more than once; calls after the first are no-ops.
type CancelFunc func()

// Subscribe opens a one-way push subscription to the given stream URL and
// dispatches decoded events to the handlers from a background goroutine.
// No handler is ever invoked synchronously from Subscribe itself. The
// returned CancelFunc releases the connection; OnClose still fires after
// cancellation so cleanup logic can run.
func Subscribe(ctx context.Context, httpClient *http.Client, url string, h Handlers) CancelFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{handlers: h, cancel: cancel}

	go sub.run(ctx, httpClient, url)

	return sub.Cancel
}

// subscription owns the lifecycle of one stream connection
type subscription struct {
	handlers Handlers
	cancel   context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	closeOnce sync.Once
	errorOnce sync.Once
}

// Cancel releases the connection. Idempotent.
func (s *subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

func (s *subscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// run connects, reads the stream until it ends, and dispatches callbacks.
// The connection is released on every exit path.
func (s *subscription) run(ctx context.Context, httpClient *http.Client, url string) {
	defer s.close()
	defer s.cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.fail(fmt.Errorf("failed to create stream request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := httpClient.Do(req)
	if err != nil {
		if !s.isCancelled() {
			s.fail(fmt.Errorf("failed to open stream: %w", err))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.fail(fmt.Errorf("stream endpoint returned status %d", resp.StatusCode))
		return
	}

	parser := NewParser()
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				if s.isCancelled() {
					return
				}
				if s.handlers.OnMessage != nil {
					s.handlers.OnMessage(ev)
				}
			}
		}
		if err != nil {
			// EOF is the server finishing the stream; a cancelled context
			// is the caller releasing it. Neither is a transport error.
			if errors.Is(err, io.EOF) || s.isCancelled() || ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("stream read failed: %w", err))
			return
		}
	}
}

// fail reports a transport error, at most once
func (s *subscription) fail(err error) {
	s.errorOnce.Do(func() {
		if s.handlers.OnError != nil {
			s.handlers.OnError(err)
		}
	})
}

// close fires OnClose, exactly once
func (s *subscription) close() {
	s.closeOnce.Do(func() {
		if s.handlers.OnClose != nil {
			s.handlers.OnClose()
		}
	})
}
