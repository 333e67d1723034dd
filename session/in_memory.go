package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

var (
	// ErrSessionNotFound is returned for unknown or already ended request ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when a request id already has a live session.
	ErrSessionExists = errors.New("session already exists")
)

// DefaultStatusMessage is sent when a status policy lists no messages.
const DefaultStatusMessage = "Still working on it..."

// SummarySink receives periodic status summaries for a request.
type SummarySink interface {
	WriteSummary(ctx context.Context, requestID string, ev core.SummaryEvent) error
}

// Options configures a Registry.
type Options struct {
	// Sink receives status updates. Without a sink status policies are
	// recorded but never tick.
	Sink   SummarySink
	Logger logging.Logger
}

type entry struct {
	session *core.Session
	stop    context.CancelFunc
}

// Registry is a process local SessionRegistry keyed by request id. Sessions
// live from CreateSession until EndSession and are never persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	opts     Options
	wg       sync.WaitGroup
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Registry{sessions: make(map[string]*entry), opts: opts}
}

// CreateSession starts bookkeeping for requestID.
func (r *Registry) CreateSession(_ context.Context, requestID, conversationID string) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[requestID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, requestID)
	}
	sess := core.NewSession(requestID, conversationID)
	r.sessions[requestID] = &entry{session: sess}
	return sess, nil
}

// GetSession returns the live session for requestID. The session guards its
// own state, so callers may cache artifacts on it directly.
func (r *Registry) GetSession(requestID string) (*core.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, requestID)
	}
	return e.session, nil
}

// EndSession stops status updates, marks the session ended and forgets it.
func (r *Registry) EndSession(requestID string) error {
	r.mu.Lock()
	e, ok := r.sessions[requestID]
	delete(r.sessions, requestID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, requestID)
	}
	if e.stop != nil {
		e.stop()
	}
	e.session.End()
	return nil
}

// EnableEmitOperations turns on operation emission for requestID.
func (r *Registry) EnableEmitOperations(requestID string) error {
	sess, err := r.GetSession(requestID)
	if err != nil {
		return err
	}
	sess.SetEmitOperations(true)
	return nil
}

// InitializeStatusUpdates records policy on the session and, when enabled
// and a sink is configured, sends a summary every policy.Interval until the
// session ends or ctx is done.
func (r *Registry) InitializeStatusUpdates(ctx context.Context, requestID string, policy core.StatusUpdatePolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, requestID)
	}
	e.session.SetStatusUpdates(policy)
	if !policy.Enabled || policy.Interval <= 0 || r.opts.Sink == nil {
		return nil
	}
	if e.stop != nil {
		e.stop()
	}
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stop = cancel
	r.wg.Add(1)
	go r.tick(tickCtx, ctx.Done(), requestID, policy)
	return nil
}

func (r *Registry) tick(ctx context.Context, parentDone <-chan struct{}, requestID string, policy core.StatusUpdatePolicy) {
	defer r.wg.Done()
	messages := policy.Messages
	if len(messages) == 0 {
		messages = []string{DefaultStatusMessage}
	}
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-parentDone:
			return
		case <-ticker.C:
		}
		ev := core.NewSummary("status", messages[i%len(messages)])
		if err := r.opts.Sink.WriteSummary(ctx, requestID, ev); err != nil {
			r.opts.Logger.Debug("Status update not delivered", "request_id", requestID, "error", err)
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Wait blocks until every status update goroutine has exited.
func (r *Registry) Wait() { r.wg.Wait() }
