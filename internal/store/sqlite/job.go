package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/sap-automation-qa/internal/store"

	"github.com/mattn/go-sqlite3"
)

const jobColumns = `id, workspace_id, test_group, test_ids, status, schedule_id, log_path,
	exit_code, error, cancel_requested_at, cancel_reason, created_at, started_at, ended_at`

const (
	defaultJobLimit = 50
	maxJobLimit     = 200
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job     store.Job
		testIDs string
	)
	err := row.Scan(
		&job.ID, &job.WorkspaceID, &job.TestGroup, &testIDs, &job.Status,
		&job.ScheduleID, &job.LogPath, &job.ExitCode, &job.Error,
		&job.CancelRequestedAt, &job.CancelReason,
		&job.CreatedAt, &job.StartedAt, &job.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	if job.TestIDs, err = decodeList(testIDs); err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return &job, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid list column: %w", err)
	}
	return values, nil
}

// CreateJob inserts the job only if no other job holds the workspace. The
// check and the insert are one statement inside an immediate transaction; the
// partial unique index on jobs(workspace_id) backs it up.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	testIDs, err := encodeList(job.TestIDs)
	if err != nil {
		return err
	}
	job.Status = store.JobStatusPending
	job.CreatedAt = job.CreatedAt.UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, workspace_id, test_group, test_ids, status, schedule_id, log_path, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM jobs WHERE workspace_id = ? AND status IN ('pending', 'running')
			)`,
			job.ID, job.WorkspaceID, job.TestGroup, testIDs, job.Status, job.ScheduleID, job.LogPath, job.CreatedAt,
			job.WorkspaceID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return s.conflict(ctx, tx, job.WorkspaceID)
			}
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return s.conflict(ctx, tx, job.WorkspaceID)
		}

		return addJobEvent(ctx, tx, job.ID, store.EventCreated, "", job.CreatedAt)
	})
}

func (s *Store) conflict(ctx context.Context, tx store.DBTransaction, workspaceID string) error {
	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE workspace_id = ? AND status IN ('pending', 'running') LIMIT 1`,
		workspaceID,
	)
	active, err := scanJob(row)
	if err != nil {
		return fmt.Errorf("failed to load conflicting job: %w", err)
	}
	return &store.ConflictError{Active: active}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *Store) GetJob(ctx context.Context, id string) (*store.Job, error) {
	return s.getJob(ctx, nil, id)
}

func (s *Store) getJob(ctx context.Context, tx store.DBTransaction, id string) (*store.Job, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ActiveOnly {
		where = append(where, "status IN ('pending', 'running')")
	}
	if filter.ScheduleID != "" {
		where = append(where, "schedule_id = ?")
		args = append(args, filter.ScheduleID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit, defaultJobLimit, maxJobLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []store.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func (s *Store) CountActiveJobs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running')`,
	).Scan(&count)
	return count, err
}

func (s *Store) ListActiveJobs(ctx context.Context) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN ('pending', 'running') ORDER BY created_at ASC, rowid ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []store.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) ListJobEvents(ctx context.Context, jobID string) ([]store.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, event_type, detail, created_at FROM job_events WHERE job_id = ? ORDER BY id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.JobEvent{}
	for rows.Next() {
		var e store.JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Type, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func addJobEvent(ctx context.Context, tx store.DBTransaction, jobID string, typ store.EventType, detail string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, event_type, detail, created_at) VALUES (?, ?, ?, ?)`,
		jobID, typ, detail, at.UTC(),
	)
	return err
}

func (s *Store) MarkRunning(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status != store.JobStatusPending {
			return store.ErrNotActive
		}
		startedAt := notBefore(at, job.CreatedAt)

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			store.JobStatusRunning, startedAt, id, store.JobStatusPending,
		); err != nil {
			return err
		}
		return addJobEvent(ctx, tx, id, store.EventStarted, "", startedAt)
	})
}

func (s *Store) FailDispatch(ctx context.Context, id, detail string, at time.Time) (*store.Job, error) {
	var out *store.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status != store.JobStatusPending {
			out = job
			return store.ErrNotActive
		}
		endedAt := notBefore(at, job.CreatedAt)

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, ended_at = ? WHERE id = ?`,
			store.JobStatusFailed, detail, endedAt, id,
		); err != nil {
			return err
		}
		if err := addJobEvent(ctx, tx, id, store.EventDispatchError, detail, endedAt); err != nil {
			return err
		}
		if err := addJobEvent(ctx, tx, id, store.EventFailed, detail, endedAt); err != nil {
			return err
		}
		out, err = s.getJob(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *Store) CancelJob(ctx context.Context, id, reason string, at time.Time) (*store.Job, error) {
	var out *store.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}

		switch job.Status {
		case store.JobStatusPending:
			endedAt := notBefore(at, job.CreatedAt)
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, error = ?, cancel_requested_at = ?, cancel_reason = ?, ended_at = ? WHERE id = ?`,
				store.JobStatusCancelled, reason, endedAt, reason, endedAt, id,
			); err != nil {
				return err
			}
			if err := addJobEvent(ctx, tx, id, store.EventCancelled, reason, endedAt); err != nil {
				return err
			}

		case store.JobStatusRunning:
			// The first reason wins; later requests only add an event.
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET cancel_requested_at = COALESCE(cancel_requested_at, ?),
					cancel_reason = COALESCE(cancel_reason, ?) WHERE id = ?`,
				at.UTC(), reason, id,
			); err != nil {
				return err
			}
			if err := addJobEvent(ctx, tx, id, store.EventCancelRequested, reason, at); err != nil {
				return err
			}

		default:
			out = job
			return store.ErrNotActive
		}

		out, err = s.getJob(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *Store) FinishJob(ctx context.Context, id string, exitCode *int, detail string, at time.Time) (*store.Job, error) {
	var out *store.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status != store.JobStatusRunning {
			out = job
			return store.ErrNotActive
		}

		status, errMsg, eventType, eventDetail := finalOutcome(job, exitCode, detail)
		endedAt, err := finalize(ctx, tx, job, status, exitCode, errMsg, at)
		if err != nil {
			return err
		}
		if err := addJobEvent(ctx, tx, id, eventType, eventDetail, endedAt); err != nil {
			return err
		}
		out, err = s.getJob(ctx, tx, id)
		return err
	})
	return out, err
}

func finalOutcome(job *store.Job, exitCode *int, detail string) (store.JobStatus, *string, store.EventType, string) {
	if job.CancelRequestedAt != nil {
		reason := ""
		if job.CancelReason != nil {
			reason = *job.CancelReason
		}
		return store.JobStatusCancelled, &reason, store.EventCancelled, reason
	}
	if exitCode != nil && *exitCode == 0 {
		return store.JobStatusCompleted, nil, store.EventCompleted, detail
	}
	return store.JobStatusFailed, &detail, store.EventFailed, detail
}

func finalize(ctx context.Context, tx *sql.Tx, job *store.Job, status store.JobStatus, exitCode *int, errMsg *string, at time.Time) (time.Time, error) {
	endedAt := notBefore(at, job.CreatedAt)
	if job.StartedAt != nil {
		endedAt = notBefore(endedAt, *job.StartedAt)
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, exit_code = ?, error = ?, ended_at = ? WHERE id = ? AND status = ?`,
		status, exitCode, errMsg, endedAt, job.ID, store.JobStatusRunning,
	)
	return endedAt, err
}

func (s *Store) RecoverJob(ctx context.Context, id string, at time.Time) (*store.Job, error) {
	var out *store.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status != store.JobStatusRunning {
			out = job
			return store.ErrNotActive
		}

		const detail = "job was running when the scheduler stopped"
		status, errMsg, eventType, eventDetail := finalOutcome(job, nil, detail)
		endedAt, err := finalize(ctx, tx, job, status, nil, errMsg, at)
		if err != nil {
			return err
		}
		if err := addJobEvent(ctx, tx, id, store.EventRecoveredAfterRestart, detail, endedAt); err != nil {
			return err
		}
		if err := addJobEvent(ctx, tx, id, eventType, eventDetail, endedAt); err != nil {
			return err
		}
		out, err = s.getJob(ctx, tx, id)
		return err
	})
	return out, err
}

// notBefore clamps t so recorded timestamps never run backwards.
func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor.UTC()
	}
	return t.UTC()
}
