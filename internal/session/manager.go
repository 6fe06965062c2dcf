package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/models"
)

// ErrNoSession is returned when an operation needs a session that was never started.
var ErrNoSession = errors.New("no session has been started")

// Status is a point-in-time view of the managed session.
type Status struct {
	SessionID    string           `json:"session_id,omitempty"`
	Phase        models.Phase     `json:"phase"`
	Done         int              `json:"done"`
	Total        int              `json:"total"`
	Error        string           `json:"error,omitempty"`
	ErrorKind    models.ErrorKind `json:"error_kind,omitempty"`
	Photos       int              `json:"photos"`
	Classes      int              `json:"classes"`
	ModelVersion string           `json:"model_version,omitempty"`
	StartedAt    time.Time        `json:"started_at,omitempty"`
	FinishedAt   time.Time        `json:"finished_at,omitempty"`
}

// Manager owns the single session of a process. Starting a new session cancels and
// waits for the previous one, so the engine never runs two sessions at once.
type Manager struct {
	engine *Engine
	logger *zap.Logger

	startMu sync.Mutex // serializes Start, Reset and Close

	mu      sync.RWMutex
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
	outcome *Outcome
	lastCfg *models.SessionConfig
	onDone  func(*Outcome)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithOnComplete registers a callback run after each successful session.
func WithOnComplete(fn func(*Outcome)) ManagerOption {
	return func(m *Manager) {
		m.onDone = fn
	}
}

// NewManager wraps an engine.
func NewManager(engine *Engine, opts ...ManagerOption) *Manager {
	m := &Manager{engine: engine, status: Status{Phase: models.PhaseIdle}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start cancels any running session and starts a new one in the background.
// It returns the generation number of the new session.
func (m *Manager) Start(cfg models.SessionConfig) uint64 {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.done = done
	m.outcome = nil
	c := cfg
	m.lastCfg = &c
	m.status = Status{Phase: models.PhaseIdle, StartedAt: time.Now()}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("session starting",
			zap.Uint64("generation", gen),
			zap.String("incoming", cfg.IncomingRoot),
			zap.String("reference", cfg.ReferenceRoot))
	}

	go func() {
		defer close(done)
		defer cancel()
		out, err := m.engine.Run(ctx, cfg, func(p models.Progress) { m.observe(gen, p) })
		m.finish(gen, out, err)
	}()
	return gen
}

// Restart starts a new session with the last configuration.
func (m *Manager) Restart() (uint64, error) {
	m.mu.RLock()
	cfg := m.lastCfg
	m.mu.RUnlock()
	if cfg == nil {
		return 0, ErrNoSession
	}
	return m.Start(*cfg), nil
}

func (m *Manager) observe(gen uint64, p models.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.status.Phase = p.Phase()
	m.status.Done, m.status.Total = models.Counters(p)
}

func (m *Manager) finish(gen uint64, out *Outcome, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.status.FinishedAt = time.Now()
	if err != nil {
		m.status.Error = err.Error()
		m.status.ErrorKind = models.KindOf(err)
		if m.status.ErrorKind == models.KindCancelled {
			m.status.Phase = models.PhaseCancelled
		} else {
			m.status.Phase = models.PhaseFailed
		}
		m.mu.Unlock()
		return
	}
	m.outcome = out
	m.status.Phase = models.PhaseDone
	m.status.SessionID = out.ID
	m.status.Photos = out.Total
	m.status.Classes = len(out.Prototypes)
	m.status.ModelVersion = out.ModelVersion
	m.status.Done, m.status.Total = out.Total, out.Total
	onDone := m.onDone
	m.mu.Unlock()

	if onDone != nil {
		onDone(out)
	}
}

// Cancel requests cancellation of the running session, if any.
func (m *Manager) Cancel() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current session finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) stopLocked() {
	m.Cancel()
	_ = m.Wait(context.Background())
}

// Reset cancels any running session and discards the current result.
func (m *Manager) Reset() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stopLocked()
	m.mu.Lock()
	m.gen++
	m.outcome = nil
	m.cancel = nil
	m.done = nil
	m.status = Status{Phase: models.PhaseIdle}
	m.mu.Unlock()
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Current returns the outcome of the last completed session, or nil.
func (m *Manager) Current() *Outcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcome
}

// Close cancels the running session and waits for it.
func (m *Manager) Close() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stopLocked()
	return nil
}
