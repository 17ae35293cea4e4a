// Package status tracks the progress of pipeline runs.
package status

import (
	"context"
	"sync"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// Terminal reports whether a run in this state will not be written again.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

type Status struct {
	RunID     string    `json:"run_id,omitempty"`
	State     State     `json:"status"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Idle is reported for runs that have no record, and when no run exists yet.
func Idle(runID string) Status {
	return Status{RunID: runID, State: StateIdle, Message: "No processing in progress", UpdatedAt: time.Now().UTC()}
}

// Store keeps one status per run. Reads never fail on a missing record: they
// return Idle instead.
type Store interface {
	SetStatus(ctx context.Context, s Status) error
	GetStatus(ctx context.Context, runID string) (Status, error)
	LatestStatus(ctx context.Context) (Status, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	runs   map[string]Status
	latest string
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]Status)}
}

func (m *Memory) SetStatus(_ context.Context, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	if _, ok := m.runs[s.RunID]; !ok {
		m.latest = s.RunID
	}
	m.runs[s.RunID] = s
	return nil
}

func (m *Memory) GetStatus(_ context.Context, runID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.runs[runID]; ok {
		return s, nil
	}
	return Idle(runID), nil
}

func (m *Memory) LatestStatus(ctx context.Context) (Status, error) {
	m.mu.RLock()
	latest := m.latest
	m.mu.RUnlock()
	if latest == "" {
		return Idle(""), nil
	}
	return m.GetStatus(ctx, latest)
}

// Publisher is told about every status write. Delivery is best-effort.
type Publisher interface {
	PublishStatus(s Status) error
}

type publishing struct {
	Store
	pub Publisher
}

// WithPublisher returns a Store that forwards successful writes to pub.
// Publish failures are ignored; the stored record is authoritative.
func WithPublisher(store Store, pub Publisher) Store {
	if pub == nil {
		return store
	}
	return &publishing{Store: store, pub: pub}
}

func (p *publishing) SetStatus(ctx context.Context, s Status) error {
	if err := p.Store.SetStatus(ctx, s); err != nil {
		return err
	}
	_ = p.pub.PublishStatus(s)
	return nil
}
