package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/MikeSquared-Agency/cartographer/internal/embedding"
)

// Conversation is the parsed form of one uploaded conversation.
type Conversation struct {
	ConversationID   string
	Title            string
	CreateTime       *float64
	DefaultModelSlug string
	RawMessages      json.RawMessage
	Markdown         string
}

// Enrichment holds the LLM output for one conversation. A nil Summary marks
// a failed enrichment.
type Enrichment struct {
	ConversationID string
	Summary        *string
	Tags           []string
}

type Embedding struct {
	ConversationID string
	Vector         []float32
	X, Y           float64
}

// ConversationPoint is a conversation placed on the 2-D map.
type ConversationPoint struct {
	ConversationID string   `json:"conversation_id"`
	Title          string   `json:"title"`
	ClusterID      *string  `json:"cluster_id"`
	X              *float64 `json:"umap_x"`
	Y              *float64 `json:"umap_y"`
}

type SimilarConversation struct {
	ConversationID string  `json:"conversation_id"`
	Title          string  `json:"title"`
	Similarity     float64 `json:"similarity"`
}

// InsertConversations writes the base rows of a run in one transaction.
func (s *Store) InsertConversations(ctx context.Context, runID string, convs []Conversation) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, c := range convs {
		raw := c.RawMessages
		if len(raw) == 0 {
			raw = json.RawMessage("[]")
		}
		batch.Queue(`
			INSERT INTO conversations (run_id, conversation_id, title, create_time, default_model_slug, raw_messages_data, messages_markdown)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, c.ConversationID, c.Title, c.CreateTime, c.DefaultModelSlug, raw, c.Markdown,
		)
	}
	return s.sendBatch(ctx, batch, "insert conversation")
}

// UpdateEnrichments stores summaries and tags in one transaction.
func (s *Store) UpdateEnrichments(ctx context.Context, runID string, rows []Enrichment) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(`
			UPDATE conversations SET summary = $3, tags = $4
			WHERE run_id = $1 AND conversation_id = $2`,
			id, r.ConversationID, r.Summary, tags,
		)
	}
	return s.sendBatch(ctx, batch, "update enrichment")
}

// UpdateEmbeddings stores vectors and map coordinates in one transaction.
func (s *Store) UpdateEmbeddings(ctx context.Context, runID string, rows []Embedding) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			UPDATE conversations SET embedding = $3, embedding_vec = $4, umap_x = $5, umap_y = $6
			WHERE run_id = $1 AND conversation_id = $2`,
			id, r.ConversationID, embedding.Encode(r.Vector), pgvector.NewVector(r.Vector), r.X, r.Y,
		)
	}
	return s.sendBatch(ctx, batch, "update embedding")
}

// sendBatch runs every queued statement inside a single transaction.
func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := range batch.Len() {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%s %d: %w", what, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// HasData reports whether a completed run has stored any conversations.
func (s *Store) HasData(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversations WHERE run_id = (`+latestCompleteRun+`)
		)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check data: %w", err)
	}
	return exists, nil
}

// ConversationsBySolution lists every conversation of the latest completed
// run with its cluster in the given solution, if any.
func (s *Store) ConversationsBySolution(ctx context.Context, solutionID string) ([]ConversationPoint, error) {
	rows, err := s.pool.Query(ctx, `
		WITH latest AS (`+latestCompleteRun+`),
		members AS (
			SELECT k.cluster_id, jsonb_array_elements_text(k.conversation_ids) AS conversation_id
			FROM clusters k JOIN latest l ON k.run_id = l.run_id
			WHERE k.cluster_solution_id = $1
		)
		SELECT c.conversation_id, c.title, m.cluster_id, c.umap_x, c.umap_y
		FROM conversations c
		JOIN latest l ON c.run_id = l.run_id
		LEFT JOIN members m ON m.conversation_id = c.conversation_id
		ORDER BY c.conversation_id`,
		solutionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	points := []ConversationPoint{}
	for rows.Next() {
		var p ConversationPoint
		if err := rows.Scan(&p.ConversationID, &p.Title, &p.ClusterID, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SimilarConversations returns the nearest conversations to conversationID
// by cosine distance within the latest completed run.
func (s *Store) SimilarConversations(ctx context.Context, conversationID string, limit int) ([]SimilarConversation, error) {
	var target pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT embedding_vec FROM conversations
		WHERE run_id = (`+latestCompleteRun+`) AND conversation_id = $1 AND embedding_vec IS NOT NULL`,
		conversationID,
	).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load embedding: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, title, 1 - (embedding_vec <=> $2) AS similarity
		FROM conversations
		WHERE run_id = (`+latestCompleteRun+`)
			AND conversation_id <> $1
			AND embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $2
		LIMIT $3`,
		conversationID, target, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	out := []SimilarConversation{}
	for rows.Next() {
		var c SimilarConversation
		if err := rows.Scan(&c.ConversationID, &c.Title, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
