package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RecordStageRun inserts a stage run. An empty ID is generated and an empty
// status defaults to pending.
func (s *SQLiteStore) RecordStageRun(ctx context.Context, sr *StageRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if sr.ID == "" {
		sr.ID = generateID()
	}
	if sr.Status == "" {
		sr.Status = StageStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_runs (id, run_id, stage, position, status, started_at, completed_at, duration_ms, detail, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RunID, sr.Stage, sr.Position, string(sr.Status),
		nullTime(sr.StartedAt), nullTime(sr.CompletedAt), sr.Duration.Milliseconds(),
		nullString(sr.Detail), nullString(sr.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record stage run: %w", err)
	}
	return nil
}

// UpdateStageRun moves a stage run to status. Moving to running stamps the
// start time; moving to a terminal status stamps the completion time and
// the duration since start.
func (s *SQLiteStore) UpdateStageRun(ctx context.Context, id string, status StageStatus, detail, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	s.logger.Debug("updating stage run", slog.String("id", id), slog.String("status", string(status)))

	var err error
	switch {
	case status == StageStatusRunning:
		_, err = s.db.ExecContext(ctx,
			`UPDATE stage_runs SET status = ?, started_at = ? WHERE id = ?`,
			string(status), formatTime(now), id)
	case status.Terminal():
		var started sql.NullString
		if qerr := s.db.QueryRowContext(ctx, `SELECT started_at FROM stage_runs WHERE id = ?`, id).Scan(&started); qerr != nil {
			if errors.Is(qerr, sql.ErrNoRows) {
				return fmt.Errorf("stage run not found: %s", id)
			}
			return fmt.Errorf("failed to read stage run: %w", qerr)
		}
		var duration time.Duration
		if st, perr := parseTime(started); perr == nil && st != nil {
			duration = now.Sub(*st)
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE stage_runs SET status = ?, completed_at = ?, duration_ms = ?, detail = ?, error = ?
			WHERE id = ?`,
			string(status), formatTime(now), duration.Milliseconds(), nullString(detail), nullString(errMsg), id)
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE stage_runs SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update stage run: %w", err)
	}
	return nil
}

// GetStageRuns returns the stage runs of a run in pipeline order.
func (s *SQLiteStore) GetStageRuns(ctx context.Context, runID string) ([]*StageRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, stage, position, status, started_at, completed_at, duration_ms, detail, error
		FROM stage_runs WHERE run_id = ? ORDER BY position, stage`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*StageRun
	for rows.Next() {
		var (
			sr          StageRun
			status      string
			startedAt   sql.NullString
			completedAt sql.NullString
			durationMS  int64
			detail      sql.NullString
			errMsg      sql.NullString
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &sr.Position, &status,
			&startedAt, &completedAt, &durationMS, &detail, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		sr.Status = StageStatus(status)
		if sr.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if sr.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		sr.Duration = time.Duration(durationMS) * time.Millisecond
		sr.Detail = detail.String
		sr.Error = errMsg.String
		out = append(out, &sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get stage runs: %w", err)
	}
	return out, nil
}
