package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/cartographer/internal/cluster"
	"github.com/MikeSquared-Agency/cartographer/internal/embedding"
)

// Cluster is one labelled cluster of a solution. A nil Label or Description
// means labelling failed for that cluster.
type Cluster struct {
	ClusterID               string            `json:"cluster_id"`
	ConversationIDs         []string          `json:"conversation_ids"`
	CentroidConversationIDs []string          `json:"centroid_conversation_ids"`
	CentroidEmbedding       []float32         `json:"-"`
	Size                    int               `json:"cluster_size"`
	Label                   *string           `json:"cluster_label"`
	Description             *string           `json:"cluster_description"`
	TagCounts               cluster.TagCounts `json:"tag_counts"`
	MeanCosineSimilarity    float64           `json:"mean_cosine_similarity"`
	Radius                  float64           `json:"cluster_radius"`
	Silhouette              float64           `json:"silhouette_score"`
	CentroidX               float64           `json:"centroid_umap_x"`
	CentroidY               float64           `json:"centroid_umap_y"`
}

type Solution struct {
	SolutionID string    `json:"cluster_solution_id"`
	Clusters   []Cluster `json:"clusters"`
}

type SolutionSummary struct {
	SolutionID string `json:"cluster_solution_id"`
	NClusters  int    `json:"n_clusters"`
}

// InsertClusters writes every cluster of a solution in one transaction.
func (s *Store) InsertClusters(ctx context.Context, runID, solutionID string, clusters []Cluster) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, c := range clusters {
		tags := c.TagCounts
		if tags == nil {
			tags = cluster.TagCounts{}
		}
		batch.Queue(`
			INSERT INTO clusters (
				run_id, cluster_solution_id, cluster_id, conversation_ids, centroid_conversation_ids,
				centroid_embedding, cluster_size, cluster_label, cluster_description, tag_counts,
				mean_cosine_similarity, cluster_radius, silhouette_score, centroid_umap_x, centroid_umap_y
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			id, solutionID, c.ClusterID, nonNil(c.ConversationIDs), nonNil(c.CentroidConversationIDs),
			embedding.Encode(c.CentroidEmbedding), c.Size, c.Label, c.Description, tags,
			c.MeanCosineSimilarity, c.Radius, c.Silhouette, c.CentroidX, c.CentroidY,
		)
	}
	return s.sendBatch(ctx, batch, "insert cluster")
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// ListSolutions lists the solutions of the latest completed run, greatest id
// first. Ids compare bytewise, so kmeans_3 sorts after kmeans_24.
func (s *Store) ListSolutions(ctx context.Context) ([]SolutionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cluster_solution_id, COUNT(DISTINCT cluster_id)
		FROM clusters
		WHERE run_id = (`+latestCompleteRun+`)
		GROUP BY cluster_solution_id
		ORDER BY cluster_solution_id COLLATE "C" DESC`)
	if err != nil {
		return nil, fmt.Errorf("list solutions: %w", err)
	}
	defer rows.Close()

	out := []SolutionSummary{}
	for rows.Next() {
		var sol SolutionSummary
		if err := rows.Scan(&sol.SolutionID, &sol.NClusters); err != nil {
			return nil, fmt.Errorf("scan solution: %w", err)
		}
		out = append(out, sol)
	}
	return out, rows.Err()
}

// LatestSolution returns the solution with the greatest id, or ErrNotFound.
func (s *Store) LatestSolution(ctx context.Context) (Solution, error) {
	sols, err := s.ListSolutions(ctx)
	if err != nil {
		return Solution{}, err
	}
	if len(sols) == 0 {
		return Solution{}, ErrNotFound
	}
	return s.GetSolution(ctx, sols[0].SolutionID)
}

// GetSolution returns the clusters of a solution in the latest completed
// run, ordered by cluster id. An unknown solution has no clusters.
func (s *Store) GetSolution(ctx context.Context, solutionID string) (Solution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cluster_id, conversation_ids, centroid_conversation_ids, centroid_embedding, cluster_size,
			cluster_label, cluster_description, tag_counts, mean_cosine_similarity, cluster_radius,
			silhouette_score, centroid_umap_x, centroid_umap_y
		FROM clusters
		WHERE run_id = (`+latestCompleteRun+`) AND cluster_solution_id = $1
		ORDER BY cluster_id COLLATE "C"`,
		solutionID,
	)
	if err != nil {
		return Solution{}, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	sol := Solution{SolutionID: solutionID, Clusters: []Cluster{}}
	for rows.Next() {
		var (
			c        Cluster
			centroid []byte
			x, y     *float64
		)
		if err := rows.Scan(&c.ClusterID, &c.ConversationIDs, &c.CentroidConversationIDs, &centroid, &c.Size,
			&c.Label, &c.Description, &c.TagCounts, &c.MeanCosineSimilarity, &c.Radius,
			&c.Silhouette, &x, &y); err != nil {
			return Solution{}, fmt.Errorf("scan cluster: %w", err)
		}
		if c.CentroidEmbedding, err = embedding.Decode(centroid); err != nil {
			return Solution{}, fmt.Errorf("cluster %s: %w", c.ClusterID, err)
		}
		if x != nil && y != nil {
			c.CentroidX, c.CentroidY = *x, *y
		}
		sol.Clusters = append(sol.Clusters, c)
	}
	return sol, rows.Err()
}
