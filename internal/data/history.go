package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Deliberation is one history row.
type Deliberation struct {
	ID             int64
	RequestID      string
	Mode           string
	Prompt         string
	Verdict        *string
	Confidence     *float64
	WinnerModel    string
	Chairman       string
	TranscriptPath string
	StartedAt      time.Time
	EndedAt        time.Time
}

// SaveDeliberation records a completed run.
func (s *Store) SaveDeliberation(ctx context.Context, d *Deliberation) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deliberations
			(request_id, mode, prompt, verdict, confidence, winner_model, chairman, transcript_path, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RequestID, d.Mode, d.Prompt, d.Verdict, d.Confidence,
		d.WinnerModel, d.Chairman, d.TranscriptPath,
		d.StartedAt.UTC().Format(time.RFC3339Nano),
		d.EndedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save deliberation: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// ListRecent returns the newest runs, most recent first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Deliberation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, mode, prompt, verdict, confidence, winner_model, chairman, transcript_path, started_at, ended_at
		FROM deliberations
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliberations: %w", err)
	}
	defer rows.Close()

	var out []*Deliberation
	for rows.Next() {
		d, err := scanDeliberation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetByRequestID looks one run up by its request id.
func (s *Store) GetByRequestID(ctx context.Context, requestID string) (*Deliberation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, mode, prompt, verdict, confidence, winner_model, chairman, transcript_path, started_at, ended_at
		FROM deliberations
		WHERE request_id = ?`, requestID)
	return scanDeliberation(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliberation(row rowScanner) (*Deliberation, error) {
	var d Deliberation
	var verdict sql.NullString
	var confidence sql.NullFloat64
	var winner, transcript sql.NullString
	var startedAt, endedAt string

	err := row.Scan(&d.ID, &d.RequestID, &d.Mode, &d.Prompt, &verdict, &confidence,
		&winner, &d.Chairman, &transcript, &startedAt, &endedAt)
	if err != nil {
		return nil, fmt.Errorf("scan deliberation: %w", err)
	}
	if verdict.Valid {
		d.Verdict = &verdict.String
	}
	if confidence.Valid {
		d.Confidence = &confidence.Float64
	}
	d.WinnerModel = winner.String
	d.TranscriptPath = transcript.String
	if d.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if d.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return nil, fmt.Errorf("parse ended_at: %w", err)
	}
	return &d, nil
}
