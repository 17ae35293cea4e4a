package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/cartographer/internal/cluster"
	"github.com/MikeSquared-Agency/cartographer/internal/enrich"
	"github.com/MikeSquared-Agency/cartographer/internal/export"
	"github.com/MikeSquared-Agency/cartographer/internal/status"
	"github.com/MikeSquared-Agency/cartographer/internal/store"
)

var ErrEmptyUpload = errors.New("upload contains no conversations")

// run holds the in-memory state of one run as it moves through the phases.
type run struct {
	p       *Pipeline
	id      string
	tracker *status.Tracker
	logger  *slog.Logger

	convs       []store.Conversation
	enrichments []store.Enrichment
	vectors     [][]float32
	metrics     []cluster.Metrics
	centroidsXY [][2]float64
	k           int

	summary Summary
}

func (r *run) execute(ctx context.Context, data []byte) (Summary, error) {
	r.summary.RunID = r.id
	steps := []struct {
		phase status.Phase
		fn    func(context.Context) error
	}{
		{status.PhaseParse, func(ctx context.Context) error { return r.parse(ctx, data) }},
		{status.PhaseEnrich, r.enrichConversations},
		{status.PhaseEmbed, r.embedConversations},
		{status.PhaseCluster, r.clusterConversations},
		{status.PhaseLabel, r.labelClusters},
	}
	for _, s := range steps {
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			return Summary{}, err
		}
		elapsed := time.Since(start)
		r.p.deps.Observer.PhaseCompleted(s.phase.Name, elapsed)
		r.logger.Debug("phase complete", "phase", s.phase.Name, "elapsed", elapsed)
	}
	return r.summary, nil
}

func (r *run) parse(ctx context.Context, data []byte) error {
	convs, err := export.Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		return ErrEmptyUpload
	}

	e := r.tracker.Begin(ctx, status.PhaseParse, len(convs))
	r.convs = make([]store.Conversation, len(convs))
	for i, c := range convs {
		t := c.Flatten()
		raw, err := json.Marshal(t.Messages)
		if err != nil {
			return fmt.Errorf("encode messages of %s: %w", c.ConversationID, err)
		}
		r.convs[i] = store.Conversation{
			ConversationID:   c.ConversationID,
			Title:            c.Title,
			CreateTime:       c.CreateTime,
			DefaultModelSlug: c.DefaultModelSlug,
			RawMessages:      raw,
			Markdown:         t.Markdown,
		}
		e.Advance(i + 1)
	}
	r.summary.Conversations = len(r.convs)
	r.logger.Info("parsed conversations", "count", len(r.convs))

	if err := r.p.deps.Repo.InsertConversations(ctx, r.id, r.convs); err != nil {
		return fmt.Errorf("store conversations: %w", err)
	}
	return nil
}

func (r *run) enrichConversations(ctx context.Context) error {
	e := r.tracker.Begin(ctx, status.PhaseEnrich, len(r.convs))
	transcripts := make([]string, len(r.convs))
	for i, c := range r.convs {
		transcripts[i] = c.Markdown
	}
	results, err := r.p.deps.Enricher.Enrich(ctx, transcripts, e.Advance)
	if err != nil {
		return err
	}
	if len(results) != len(r.convs) {
		return fmt.Errorf("enrichment returned %d results for %d conversations", len(results), len(r.convs))
	}

	r.enrichments = make([]store.Enrichment, len(r.convs))
	for i, res := range results {
		row := store.Enrichment{ConversationID: r.convs[i].ConversationID, Tags: []string{}}
		if res.OK() {
			summary := res.Value.Summary
			row.Summary = &summary
			if res.Value.Tags != nil {
				row.Tags = res.Value.Tags
			}
		} else {
			r.summary.EnrichmentFailures++
			r.p.deps.Observer.ItemFailed("enrichment")
			r.logger.Warn("conversation not enriched", "conversation_id", row.ConversationID, "error", res.Err)
		}
		r.enrichments[i] = row
	}

	if err := r.p.deps.Repo.UpdateEnrichments(ctx, r.id, r.enrichments); err != nil {
		return fmt.Errorf("store enrichments: %w", err)
	}
	return nil
}

func (r *run) embedConversations(ctx context.Context) error {
	e := r.tracker.Begin(ctx, status.PhaseEmbed, len(r.convs))
	texts := make([]string, len(r.convs))
	for i, c := range r.convs {
		en := r.enrichments[i]
		var summary string
		if en.Summary != nil {
			summary = *en.Summary
		}
		texts[i] = enrich.EmbeddingText(c.Title, en.Tags, summary, c.Markdown, r.p.opts.MaxContextChars)
	}

	vectors, err := r.p.deps.Embedder.Embed(ctx, texts, e.Advance)
	if err != nil {
		return fmt.Errorf("embed conversations: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d conversations", len(vectors), len(texts))
	}
	r.vectors = vectors

	points, err := r.p.deps.ConversationProjector.Project(ctx, vectors)
	if err != nil {
		return fmt.Errorf("project conversations: %w", err)
	}

	rows := make([]store.Embedding, len(r.convs))
	for i, c := range r.convs {
		rows[i] = store.Embedding{ConversationID: c.ConversationID, Vector: vectors[i], X: points[i][0], Y: points[i][1]}
	}
	if err := r.p.deps.Repo.UpdateEmbeddings(ctx, r.id, rows); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}
	return nil
}

func (r *run) clusterConversations(ctx context.Context) error {
	r.tracker.Begin(ctx, status.PhaseCluster, 0)
	k, err := cluster.ChooseK(len(r.vectors), r.p.opts.MaxClusters)
	if err != nil {
		return err
	}
	r.k = k

	labels, err := r.p.deps.Partitioner.Partition(ctx, r.vectors, k)
	if err != nil {
		return fmt.Errorf("cluster conversations: %w", err)
	}
	if len(labels) != len(r.vectors) {
		return fmt.Errorf("partitioner returned %d labels for %d conversations", len(labels), len(r.vectors))
	}
	members := make([]cluster.Member, len(r.convs))
	for i, c := range r.convs {
		members[i] = cluster.Member{
			ID:        c.ConversationID,
			ClusterID: labels[i],
			Embedding: r.vectors[i],
			Tags:      r.enrichments[i].Tags,
		}
	}
	r.metrics = cluster.ComputeMetrics(members, cluster.Options{
		CentroidDocs: r.p.opts.CentroidDocs,
		MaxTags:      r.p.opts.MaxTags,
	})

	centroids := make([][]float32, len(r.metrics))
	for i, m := range r.metrics {
		centroids[i] = m.Centroid
	}
	if r.centroidsXY, err = r.p.deps.CentroidProjector.Project(ctx, centroids); err != nil {
		return fmt.Errorf("project centroids: %w", err)
	}
	r.logger.Info("clustered conversations", "k", k, "clusters", len(r.metrics))
	return nil
}

func (r *run) labelClusters(ctx context.Context) error {
	e := r.tracker.Begin(ctx, status.PhaseLabel, len(r.metrics))

	byID := make(map[string]int, len(r.convs))
	for i, c := range r.convs {
		byID[c.ConversationID] = i
	}
	inputs := make([]enrich.LabelInput, len(r.metrics))
	for i, m := range r.metrics {
		in := enrich.LabelInput{TagCounts: m.TagCounts}
		for _, id := range m.CentroidIDs {
			j := byID[id]
			ex := enrich.Exemplar{Title: r.convs[j].Title}
			if s := r.enrichments[j].Summary; s != nil {
				ex.Summary = *s
			}
			in.Exemplars = append(in.Exemplars, ex)
		}
		inputs[i] = in
	}

	results, err := r.p.deps.Labeler.Label(ctx, inputs, e.Advance)
	if err != nil {
		return err
	}
	if len(results) != len(r.metrics) {
		return fmt.Errorf("labeler returned %d results for %d clusters", len(results), len(r.metrics))
	}

	solutionID := cluster.SolutionID(r.k)
	rows := make([]store.Cluster, len(r.metrics))
	for i, m := range r.metrics {
		row := store.Cluster{
			ClusterID:               m.ClusterID,
			ConversationIDs:         m.MemberIDs,
			CentroidConversationIDs: m.CentroidIDs,
			CentroidEmbedding:       m.Centroid,
			Size:                    m.Size,
			TagCounts:               m.TagCounts,
			MeanCosineSimilarity:    m.MeanCosineSimilarity,
			Radius:                  m.Radius,
			Silhouette:              m.Silhouette,
			CentroidX:               r.centroidsXY[i][0],
			CentroidY:               r.centroidsXY[i][1],
		}
		cs := ClusterSummary{ClusterID: m.ClusterID, Size: m.Size}
		if res := results[i]; res.OK() {
			title, desc := res.Value.Title, res.Value.Description
			row.Label, row.Description = &title, &desc
			cs.Label = title
		} else {
			r.summary.LabelFailures++
			r.p.deps.Observer.ItemFailed("label")
			r.logger.Warn("cluster not labelled", "cluster_id", m.ClusterID, "error", res.Err)
		}
		rows[i] = row
		r.summary.Clusters = append(r.summary.Clusters, cs)
	}

	if err := r.p.deps.Repo.InsertClusters(ctx, r.id, solutionID, rows); err != nil {
		return fmt.Errorf("store clusters: %w", err)
	}
	r.summary.SolutionID = solutionID
	return nil
}
