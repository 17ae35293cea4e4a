package pipeline

import (
	"context"
	"errors"
	"time"
)

// Summary describes a completed run.
type Summary struct {
	RunID              string           `json:"run_id"`
	Conversations      int              `json:"conversations"`
	SolutionID         string           `json:"cluster_solution_id"`
	Clusters           []ClusterSummary `json:"clusters"`
	EnrichmentFailures int              `json:"enrichment_failures"`
	LabelFailures      int              `json:"label_failures"`
	Duration           time.Duration    `json:"duration_ns"`
}

type ClusterSummary struct {
	ClusterID string `json:"cluster_id"`
	Label     string `json:"cluster_label"`
	Size      int    `json:"cluster_size"`
}

// Notifiers fans a completed run out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) RunCompleted(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.RunCompleted(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
