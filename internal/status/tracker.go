package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Phase is one ordered stage of a run and the progress range it owns.
type Phase struct {
	Name    string
	From    int
	To      int
	Message string
}

var (
	PhaseParse   = Phase{Name: "parse", From: 0, To: 10, Message: "Parsing conversations"}
	PhaseEnrich  = Phase{Name: "enrich", From: 10, To: 30, Message: "Enriching conversations with LLM summaries and tags"}
	PhaseEmbed   = Phase{Name: "embed", From: 30, To: 55, Message: "Generating conversation embeddings"}
	PhaseCluster = Phase{Name: "cluster", From: 55, To: 75, Message: "Clustering conversations"}
	PhaseLabel   = Phase{Name: "label", From: 75, To: 100, Message: "Labeling clusters"}
)

// Phases lists every phase in run order.
var Phases = []Phase{PhaseParse, PhaseEnrich, PhaseEmbed, PhaseCluster, PhaseLabel}

// Tracker writes the status of a single run. Writes are best-effort: a
// failed write is logged and the run carries on. While processing, the
// reported progress never decreases.
type Tracker struct {
	store  Store
	runID  string
	logger *slog.Logger

	mu   sync.Mutex
	last int
}

func NewTracker(store Store, runID string, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, runID: runID, logger: logger}
}

func (t *Tracker) RunID() string { return t.runID }

// Progress sets a processing status. Values below the last reported
// progress are raised to it.
func (t *Tracker) Progress(ctx context.Context, progress int, message string) {
	t.mu.Lock()
	if progress < t.last {
		progress = t.last
	}
	t.last = progress
	t.mu.Unlock()
	t.write(ctx, StateProcessing, progress, message)
}

func (t *Tracker) Complete(ctx context.Context, message string) {
	t.mu.Lock()
	t.last = 100
	t.mu.Unlock()
	t.write(ctx, StateComplete, 100, message)
}

// Fail records err as the run's terminal state with progress reset to 0.
func (t *Tracker) Fail(ctx context.Context, err error) {
	t.write(ctx, StateError, 0, err.Error())
}

func (t *Tracker) write(ctx context.Context, state State, progress int, message string) {
	s := Status{RunID: t.runID, State: state, Message: message, Progress: progress, UpdatedAt: time.Now().UTC()}
	if err := t.store.SetStatus(ctx, s); err != nil {
		t.logger.Warn("status write failed", "run_id", t.runID, "status", state, "error", err)
	}
}

// Begin reports the start of p and returns an emitter for its items.
func (t *Tracker) Begin(ctx context.Context, p Phase, total int) *Emitter {
	t.Progress(ctx, p.From, p.Message)
	return &Emitter{tracker: t, ctx: ctx, phase: p, total: total, lastPct: p.From}
}

// Emitter maps completed item counts of one phase onto its progress range.
// A status is written only when the integer percentage advances, so a phase
// with many items produces at most To-From writes.
type Emitter struct {
	tracker *Tracker
	ctx     context.Context
	phase   Phase
	total   int

	mu      sync.Mutex
	lastPct int
}

// Advance records that done items have completed. It has the signature of
// the item-level progress callbacks and is safe for concurrent use.
func (e *Emitter) Advance(done int) {
	if e.total <= 0 {
		return
	}
	done = min(max(done, 0), e.total)
	pct := e.phase.From + done*(e.phase.To-e.phase.From)/e.total

	e.mu.Lock()
	defer e.mu.Unlock()
	if pct <= e.lastPct {
		return
	}
	e.lastPct = pct
	e.tracker.Progress(e.ctx, pct, fmt.Sprintf("%s (%d/%d)", e.phase.Message, done, e.total))
}
