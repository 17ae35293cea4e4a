package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/cartographer/internal/status"
)

// SetStatus upserts the status row of a run.
func (s *Store) SetStatus(ctx context.Context, st status.Status) error {
	id, err := parseRunID(st.RunID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, status, message, progress, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			progress = EXCLUDED.progress,
			updated_at = now()`,
		id, string(st.State), st.Message, st.Progress,
	)
	if err != nil {
		return fmt.Errorf("upsert run status: %w", err)
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, runID string) (status.Status, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return status.Idle(runID), nil
	}
	return s.scanStatus(runID, s.pool.QueryRow(ctx, `
		SELECT run_id, status, message, progress, updated_at
		FROM runs WHERE run_id = $1`, id))
}

// LatestStatus returns the status of the most recently started run.
func (s *Store) LatestStatus(ctx context.Context) (status.Status, error) {
	return s.scanStatus("", s.pool.QueryRow(ctx, `
		SELECT run_id, status, message, progress, updated_at
		FROM runs ORDER BY started_at DESC LIMIT 1`))
}

func (s *Store) scanStatus(runID string, row pgx.Row) (status.Status, error) {
	var (
		st    status.Status
		id    uuid.UUID
		state string
	)
	err := row.Scan(&id, &state, &st.Message, &st.Progress, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return status.Idle(runID), nil
	}
	if err != nil {
		return status.Status{}, fmt.Errorf("read run status: %w", err)
	}
	st.RunID = id.String()
	st.State = status.State(state)
	return st, nil
}

// PruneRuns deletes every finished run other than keep, along with its
// conversations and clusters. Runs still processing are left alone.
func (s *Store) PruneRuns(ctx context.Context, keep string) (int64, error) {
	id, err := parseRunID(keep)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM runs
		WHERE run_id <> $1 AND status IN ('complete', 'error')`, id)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
