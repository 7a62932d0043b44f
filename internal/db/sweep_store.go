package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/treegraph/internal/sweep"
)

// ErrNotFound is returned when a sweep does not exist.
var ErrNotFound = errors.New("not found")

// SweepRecord is a stored sweep without its results.
type SweepRecord struct {
	ID          string
	Status      sweep.Status
	Request     sweep.Request
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SweepStore implements sweep.Store on a DB.
type SweepStore struct {
	db *DB
}

// NewSweepStore returns a store backed by db. The schema must already be
// migrated.
func NewSweepStore(db *DB) *SweepStore {
	return &SweepStore{db: db}
}

var _ sweep.Store = (*SweepStore)(nil)

// InsertSweep records a new running sweep.
func (s *SweepStore) InsertSweep(ctx context.Context, id string, req sweep.Request, startedAt time.Time) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode sweep request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweeps (sweep_id, status, request_json, started_at_ns)
		VALUES (?, ?, ?, ?)
	`, id, string(sweep.StatusRunning), string(reqJSON), startedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert sweep %s: %w", id, err)
	}
	return nil
}

// CompleteSweep sets the terminal status of a sweep.
func (s *SweepStore) CompleteSweep(ctx context.Context, id string, status sweep.Status, errMsg string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sweeps SET status = ?, error = ?, completed_at_ns = ?
		WHERE sweep_id = ?
	`, string(status), errMsg, completedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to complete sweep %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete sweep %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertComboResult records the summary of one combination.
func (s *SweepStore) InsertComboResult(ctx context.Context, sweepID string, r sweep.ComboResult) error {
	angles, err := json.Marshal(r.StartAngles)
	if err != nil {
		return fmt.Errorf("failed to encode start angles: %w", err)
	}
	failures, err := json.Marshal(r.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweep_results (
			sweep_id, combo_index, edge_length, min_points, remove_sparse, start_angles_json,
			kept_points, voxels, reassigned, stranded, base_index, reduction_ratio,
			fitted, radius_mean, radius_stddev, fit_error_mean, failures_json, error, elapsed_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sweepID, r.Index, r.EdgeLength, r.MinPoints, r.RemoveSparse, string(angles),
		r.KeptPoints, r.Voxels, r.Reassigned, r.Stranded, r.BaseIndex, r.ReductionRatio,
		r.Fitted, r.RadiusMean, r.RadiusStddev, r.FitErrorMean, string(failures), r.Error, int64(r.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result %d of sweep %s: %w", r.Index, sweepID, err)
	}
	return nil
}

// GetSweep returns the sweep with the given id, or an error wrapping
// ErrNotFound.
func (s *SweepStore) GetSweep(ctx context.Context, id string) (*SweepRecord, error) {
	var (
		rec       SweepRecord
		status    string
		reqJSON   string
		started   int64
		completed sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sweep_id, status, request_json, error, started_at_ns, completed_at_ns
		FROM sweeps WHERE sweep_id = ?
	`, id).Scan(&rec.ID, &status, &reqJSON, &rec.Error, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(reqJSON), &rec.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request of sweep %s: %w", id, err)
	}
	rec.Status = sweep.Status(status)
	rec.StartedAt = time.Unix(0, started)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// ListComboResults returns the stored results of a sweep ordered by combo
// index.
func (s *SweepStore) ListComboResults(ctx context.Context, sweepID string) ([]sweep.ComboResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT combo_index, edge_length, min_points, remove_sparse, start_angles_json,
			kept_points, voxels, reassigned, stranded, base_index, reduction_ratio,
			fitted, radius_mean, radius_stddev, fit_error_mean, failures_json, error, elapsed_ns
		FROM sweep_results WHERE sweep_id = ?
		ORDER BY combo_index
	`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results of sweep %s: %w", sweepID, err)
	}
	defer rows.Close()

	var out []sweep.ComboResult
	for rows.Next() {
		var (
			r        sweep.ComboResult
			angles   string
			failures string
			elapsed  int64
		)
		if err := rows.Scan(
			&r.Index, &r.EdgeLength, &r.MinPoints, &r.RemoveSparse, &angles,
			&r.KeptPoints, &r.Voxels, &r.Reassigned, &r.Stranded, &r.BaseIndex, &r.ReductionRatio,
			&r.Fitted, &r.RadiusMean, &r.RadiusStddev, &r.FitErrorMean, &failures, &r.Error, &elapsed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(angles), &r.StartAngles); err != nil {
			return nil, fmt.Errorf("failed to decode start angles: %w", err)
		}
		if err := json.Unmarshal([]byte(failures), &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode failures: %w", err)
		}
		r.Elapsed = time.Duration(elapsed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSweeps returns up to limit sweeps, most recent first.
func (s *SweepStore) ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sweep_id FROM sweeps ORDER BY started_at_ns DESC, sweep_id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweeps: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sweep id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SweepRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetSweep(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}
