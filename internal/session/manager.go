package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/runner"
	"algo-trading-engine/internal/types"
)

// Mode labels what kind of session is running.
type Mode string

const (
	ModeBacktest Mode = "BACKTEST"
	ModePaper    Mode = "PAPER"
	ModeLive     Mode = "LIVE"
)

// controller is the slice of runner behavior the manager needs; all
// three runners satisfy it.
type controller interface {
	Pause() error
	Resume() error
	Snapshot() types.StateSnapshot
}

// Session is one tracked run with its control handle.
type Session struct {
	ID        string
	RunID     string
	Mode      Mode
	Strategy  string
	CreatedAt time.Time

	ctl  controller
	stop func(ctx context.Context)

	mu     sync.Mutex
	result *runner.Result // backtest only, set when the run finishes
	done   chan struct{}  // closed when the backtest result lands
}

// Result returns the backtest result, nil while running or for
// paper/live sessions.
func (s *Session) Result() *runner.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Wait blocks until a backtest result is available or the context ends.
// Paper and live sessions have no result; Wait returns nil immediately.
func (s *Session) Wait(ctx context.Context) *runner.Result {
	if s.done == nil {
		return nil
	}
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		return nil
	}
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() types.StateSnapshot { return s.ctl.Snapshot() }

// Manager owns all sessions in a process. Handles stay queryable after
// stopping until Remove.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// StartBacktest creates and launches a backtest session; the run
// proceeds in the background and the result lands on the session.
func (m *Manager) StartBacktest(ctx context.Context, cfg runner.BacktestConfig, bars map[string][]types.Bar, progress runner.ProgressFunc) (*Session, error) {
	sessionID := newID()
	if cfg.RunID == "" {
		cfg.RunID = newID()
	}
	cfg.SessionID = sessionID

	bt, err := runner.NewBacktest(cfg, bars)
	if err != nil {
		return nil, err
	}
	if err := bt.Initialize(ctx); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        sessionID,
		RunID:     cfg.RunID,
		Mode:      ModeBacktest,
		Strategy:  cfg.StrategyName,
		CreatedAt: time.Now(),
		ctl:       bt,
		stop:      func(context.Context) { bt.Stop() },
		done:      make(chan struct{}),
	}
	m.add(s)

	go func() {
		result := bt.Run(ctx, progress)
		s.mu.Lock()
		s.result = result
		s.mu.Unlock()
		close(s.done)
		logger.Info(ctx, "Backtest finished",
			"session_id", sessionID, "run_id", cfg.RunID, "status", result.Status)
	}()
	return s, nil
}

// StartPaper creates and launches a paper session against the feed.
func (m *Manager) StartPaper(ctx context.Context, cfg runner.PaperConfig, feed interfaces.QuoteFeed, onTick func(types.StateSnapshot)) (*Session, error) {
	sessionID := newID()
	if cfg.RunID == "" {
		cfg.RunID = newID()
	}
	cfg.SessionID = sessionID

	p, err := runner.NewPaper(cfg, feed)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := p.Start(ctx, onTick); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        sessionID,
		RunID:     cfg.RunID,
		Mode:      ModePaper,
		Strategy:  cfg.StrategyName,
		CreatedAt: time.Now(),
		ctl:       p,
		stop:      func(ctx context.Context) { p.Stop(ctx) },
	}
	m.add(s)
	return s, nil
}

// StartLive creates and launches a real-money session.
func (m *Manager) StartLive(ctx context.Context, cfg runner.LiveConfig, feed interfaces.QuoteFeed, broker interfaces.Executor, notifier interfaces.Notifier, onTick func(types.StateSnapshot)) (*Session, error) {
	sessionID := newID()
	if cfg.RunID == "" {
		cfg.RunID = newID()
	}
	cfg.SessionID = sessionID

	l, err := runner.NewLive(cfg, feed, broker, notifier)
	if err != nil {
		return nil, err
	}
	if err := l.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := l.Start(ctx, onTick); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        sessionID,
		RunID:     cfg.RunID,
		Mode:      ModeLive,
		Strategy:  cfg.StrategyName,
		CreatedAt: time.Now(),
		ctl:       l,
		stop:      func(ctx context.Context) { l.Stop(ctx) },
	}
	m.add(s)
	return s, nil
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get returns the session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns all sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Pause suspends callback dispatch on a running session.
func (m *Manager) Pause(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return s.ctl.Pause()
}

// Resume restarts a paused session.
func (m *Manager) Resume(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return s.ctl.Resume()
}

// Stop terminates the session. The handle remains queryable.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	s.stop(ctx)
	return nil
}

// Remove stops and forgets a session.
func (m *Manager) Remove(ctx context.Context, sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	s.stop(ctx)
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// StopAll stops every session, used at process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, s := range m.List() {
		s.stop(ctx)
	}
}
