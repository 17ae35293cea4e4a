// Package pipeline runs an uploaded export through parsing, enrichment,
// embedding, projection, clustering and labelling.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/cartographer/internal/cluster"
	"github.com/MikeSquared-Agency/cartographer/internal/embedding"
	"github.com/MikeSquared-Agency/cartographer/internal/enrich"
	"github.com/MikeSquared-Agency/cartographer/internal/llm"
	"github.com/MikeSquared-Agency/cartographer/internal/projection"
	"github.com/MikeSquared-Agency/cartographer/internal/status"
	"github.com/MikeSquared-Agency/cartographer/internal/store"
)

// Repository persists the rows of a run. Every method is one transaction.
type Repository interface {
	InsertConversations(ctx context.Context, runID string, convs []store.Conversation) error
	UpdateEnrichments(ctx context.Context, runID string, rows []store.Enrichment) error
	UpdateEmbeddings(ctx context.Context, runID string, rows []store.Embedding) error
	InsertClusters(ctx context.Context, runID, solutionID string, clusters []store.Cluster) error
	PruneRuns(ctx context.Context, keep string) (int64, error)
}

type Enricher interface {
	Enrich(ctx context.Context, transcripts []string, progress func(int)) ([]llm.Result[enrich.Enrichment], error)
}

type Labeler interface {
	Label(ctx context.Context, inputs []enrich.LabelInput, progress func(int)) ([]llm.Result[enrich.Label], error)
}

// Notifier is told about every completed run.
type Notifier interface {
	RunCompleted(ctx context.Context, summary Summary) error
}

// Observer receives run and phase measurements.
type Observer interface {
	RunStarted()
	RunFinished(state status.State)
	PhaseCompleted(phase string, elapsed time.Duration)
	ItemFailed(kind string)
}

// Deps are the collaborators of a Pipeline. Notifier and Observer are
// optional.
type Deps struct {
	Repo                  Repository
	Status                status.Store
	Enricher              Enricher
	Labeler               Labeler
	Embedder              embedding.Embedder
	ConversationProjector projection.Projector
	CentroidProjector     projection.Projector
	Partitioner           cluster.Partitioner
	Notifier              Notifier
	Observer              Observer
	Logger                *slog.Logger
}

type Options struct {
	MaxClusters     int
	CentroidDocs    int
	MaxTags         int
	MaxContextChars int
}

type Pipeline struct {
	deps Deps
	opts Options
	wg   sync.WaitGroup
}

func New(deps Deps, opts Options) *Pipeline {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = cluster.DefaultMaxClusters
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = enrich.DefaultMaxContextChars
	}
	return &Pipeline{deps: deps, opts: opts}
}

// Start records a new run and processes data in the background. It returns
// as soon as the run's initial status is stored. The run does not stop when
// ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, data []byte) (status.Status, error) {
	st, err := p.begin(ctx)
	if err != nil {
		return status.Status{}, err
	}

	runCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.Run(runCtx, st.RunID, data)
	}()
	return st, nil
}

// Process records a new run and processes data before returning its id.
// The run's error, if any, is also recorded in its status.
func (p *Pipeline) Process(ctx context.Context, data []byte) (string, error) {
	st, err := p.begin(ctx)
	if err != nil {
		return "", err
	}
	return st.RunID, p.Run(ctx, st.RunID, data)
}

func (p *Pipeline) begin(ctx context.Context) (status.Status, error) {
	st := status.Status{
		RunID:     uuid.NewString(),
		State:     status.StateProcessing,
		Message:   "Started processing conversations",
		UpdatedAt: time.Now().UTC(),
	}
	if err := p.deps.Status.SetStatus(ctx, st); err != nil {
		return status.Status{}, fmt.Errorf("record run: %w", err)
	}
	return st, nil
}

// Wait blocks until every run started by Start has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Run processes one export under runID and leaves the run complete or
// failed. Rows committed by earlier phases are kept when a later phase
// fails.
func (p *Pipeline) Run(ctx context.Context, runID string, data []byte) error {
	logger := p.deps.Logger.With("run_id", runID)
	tracker := status.NewTracker(p.deps.Status, runID, logger)
	p.deps.Observer.RunStarted()
	started := time.Now()

	r := &run{p: p, id: runID, tracker: tracker, logger: logger}
	summary, err := r.execute(ctx, data)
	if err != nil {
		logger.Error("run failed", "error", err)
		tracker.Fail(ctx, err)
		p.deps.Observer.RunFinished(status.StateError)
		return err
	}

	tracker.Complete(ctx, "Processing complete")
	p.deps.Observer.RunFinished(status.StateComplete)
	summary.Duration = time.Since(started)
	logger.Info("run complete",
		"conversations", summary.Conversations,
		"solution", summary.SolutionID,
		"clusters", len(summary.Clusters),
		"duration", summary.Duration,
	)

	if pruned, err := p.deps.Repo.PruneRuns(ctx, runID); err != nil {
		logger.Warn("failed to prune old runs", "error", err)
	} else if pruned > 0 {
		logger.Info("pruned old runs", "count", pruned)
	}

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.RunCompleted(ctx, summary); err != nil {
			logger.Warn("run notification failed", "error", err)
		}
	}
	return nil
}

type nopObserver struct{}

func (nopObserver) RunStarted()                          {}
func (nopObserver) RunFinished(status.State)             {}
func (nopObserver) PhaseCompleted(string, time.Duration) {}
func (nopObserver) ItemFailed(string)                    {}
