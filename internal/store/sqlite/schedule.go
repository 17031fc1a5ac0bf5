package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/sap-automation-qa/internal/store"
)

const scheduleColumns = `id, name, description, cron_expression, timezone, enabled, workspace_ids,
	test_group, test_ids, last_fired_minute, next_run_time, last_run_time, last_run_job_ids,
	total_runs, created_at, updated_at`

func scanSchedule(row rowScanner) (*store.Schedule, error) {
	var (
		sc                                store.Schedule
		workspaceIDs, testIDs, lastJobIDs string
	)
	err := row.Scan(
		&sc.ID, &sc.Name, &sc.Description, &sc.CronExpression, &sc.Timezone, &sc.Enabled,
		&workspaceIDs, &sc.TestGroup, &testIDs, &sc.LastFiredMinute, &sc.NextRunTime,
		&sc.LastRunTime, &lastJobIDs, &sc.TotalRuns, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sc.WorkspaceIDs, err = decodeList(workspaceIDs); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
	}
	if sc.TestIDs, err = decodeList(testIDs); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
	}
	if sc.LastRunJobIDs, err = decodeList(lastJobIDs); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
	}
	return &sc, nil
}

type scheduleLists struct {
	workspaceIDs, testIDs, lastJobIDs string
}

func encodeScheduleLists(sc *store.Schedule) (scheduleLists, error) {
	var (
		l   scheduleLists
		err error
	)
	if l.workspaceIDs, err = encodeList(sc.WorkspaceIDs); err != nil {
		return l, err
	}
	if l.testIDs, err = encodeList(sc.TestIDs); err != nil {
		return l, err
	}
	l.lastJobIDs, err = encodeList(sc.LastRunJobIDs)
	return l, err
}

func (s *Store) CreateSchedule(ctx context.Context, sc *store.Schedule) error {
	lists, err := encodeScheduleLists(sc)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.Description, sc.CronExpression, sc.Timezone, sc.Enabled,
		lists.workspaceIDs, sc.TestGroup, lists.testIDs, sc.LastFiredMinute, utcPtr(sc.NextRunTime),
		utcPtr(sc.LastRunTime), lists.lastJobIDs, sc.TotalRuns, sc.CreatedAt.UTC(), sc.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*store.Schedule, error) {
	return s.getSchedule(ctx, nil, id)
}

func (s *Store) getSchedule(ctx context.Context, tx store.DBTransaction, id string) (*store.Schedule, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Store) ListSchedules(ctx context.Context, enabledOnly bool) ([]store.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []store.Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

func (s *Store) UpdateSchedule(ctx context.Context, id string, fn func(*store.Schedule) error) (*store.Schedule, error) {
	var out *store.Schedule
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sc, err := s.getSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			return err
		}
		lists, err := encodeScheduleLists(sc)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE schedules SET name = ?, description = ?, cron_expression = ?, timezone = ?,
				enabled = ?, workspace_ids = ?, test_group = ?, test_ids = ?, next_run_time = ?,
				updated_at = ?
			WHERE id = ?`,
			sc.Name, sc.Description, sc.CronExpression, sc.Timezone, sc.Enabled,
			lists.workspaceIDs, sc.TestGroup, lists.testIDs, utcPtr(sc.NextRunTime),
			sc.UpdatedAt.UTC(), id,
		); err != nil {
			return err
		}

		out, err = s.getSchedule(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClaimScheduleMinute(ctx context.Context, id string, minute int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_fired_minute = ?
		WHERE id = ? AND enabled = 1 AND (last_fired_minute IS NULL OR last_fired_minute < ?)`,
		minute, id, minute,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) RecordScheduleRun(ctx context.Context, id string, at time.Time, jobIDs []string, next *time.Time) error {
	encoded, err := encodeList(jobIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_run_time = ?, last_run_job_ids = ?, total_runs = total_runs + 1,
			next_run_time = ?
		WHERE id = ?`,
		at.UTC(), encoded, utcPtr(next), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddScheduleEvent(ctx context.Context, e *store.ScheduleEvent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_events (schedule_id, workspace_id, event_type, job_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ScheduleID, e.WorkspaceID, e.Type, e.JobID, e.Detail, e.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListScheduleEvents(ctx context.Context, scheduleID string, limit int) ([]store.ScheduleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, workspace_id, event_type, job_id, detail, created_at
		FROM schedule_events WHERE schedule_id = ?
		ORDER BY id DESC LIMIT ?`,
		scheduleID, clampLimit(limit, defaultJobLimit, maxJobLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.ScheduleEvent{}
	for rows.Next() {
		var e store.ScheduleEvent
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.WorkspaceID, &e.Type, &e.JobID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
