package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Azure/sap-automation-qa/internal/errors"
	"github.com/Azure/sap-automation-qa/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// CreateRequest holds the fields of a new schedule. Zero values take the
// defaults: UTC, enabled, CONFIG_CHECKS.
type CreateRequest struct {
	Name           string
	Description    string
	CronExpression string
	Timezone       string
	Enabled        *bool
	WorkspaceIDs   []string
	TestGroup      store.TestGroup
	TestIDs        []string
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	Name           *string
	Description    *string
	CronExpression *string
	Timezone       *string
	Enabled        *bool
	WorkspaceIDs   []string
	TestGroup      *store.TestGroup
	TestIDs        []string
}

func (r UpdateRequest) apply(sc *store.Schedule) {
	if r.Name != nil {
		sc.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		sc.Description = *r.Description
	}
	if r.CronExpression != nil {
		sc.CronExpression = strings.TrimSpace(*r.CronExpression)
	}
	if r.Timezone != nil {
		sc.Timezone = *r.Timezone
	}
	if r.Enabled != nil {
		sc.Enabled = *r.Enabled
	}
	if r.WorkspaceIDs != nil {
		sc.WorkspaceIDs = dedupe(r.WorkspaceIDs)
	}
	if r.TestGroup != nil {
		sc.TestGroup = *r.TestGroup
	}
	if r.TestIDs != nil {
		sc.TestIDs = r.TestIDs
	}
}

func validateSchedule(sc *store.Schedule) error {
	groups := make([]interface{}, len(store.TestGroups))
	for i, g := range store.TestGroups {
		groups[i] = g
	}
	return validation.ValidateStruct(sc,
		validation.Field(&sc.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&sc.CronExpression, validation.Required, validation.By(validCron)),
		validation.Field(&sc.Timezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&sc.WorkspaceIDs, validation.Required, validation.Each(validation.Required)),
		validation.Field(&sc.TestGroup, validation.Required, validation.In(groups...)),
		validation.Field(&sc.TestIDs, validation.Each(validation.Required)),
	)
}

func validCron(value interface{}) error {
	expr, _ := value.(string)
	if _, err := ParseCron(expr, DefaultTimezone); err != nil {
		return errors.New("must be a valid 5-field cron expression")
	}
	return nil
}

func validTimezone(value interface{}) error {
	tz, _ := value.(string)
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q", tz)
	}
	return nil
}

// dedupe drops repeated and blank workspace ids, keeping first occurrences in order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// nextRun returns the next fire time after now, or nil for a disabled schedule.
func (s *Scheduler) nextRun(sc *store.Schedule, now time.Time) *time.Time {
	if !sc.Enabled {
		return nil
	}
	spec, err := ParseCron(sc.CronExpression, sc.Timezone)
	if err != nil {
		return nil
	}
	next := spec.Next(now)
	return &next
}

func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*store.Schedule, error) {
	now := s.now().UTC()
	sc := &store.Schedule{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		CronExpression: strings.TrimSpace(req.CronExpression),
		Timezone:       req.Timezone,
		Enabled:        true,
		WorkspaceIDs:   dedupe(req.WorkspaceIDs),
		TestGroup:      req.TestGroup,
		TestIDs:        req.TestIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sc.Timezone == "" {
		sc.Timezone = DefaultTimezone
	}
	if sc.TestGroup == "" {
		sc.TestGroup = DefaultTestGroup
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}

	if err := validateSchedule(sc); err != nil {
		return nil, apperrors.Validation("schedule", err)
	}
	sc.NextRunTime = s.nextRun(sc, now)

	if err := s.store.CreateSchedule(ctx, sc); err != nil {
		return nil, apperrors.StoreUnavailable("schedule", err)
	}

	s.logger.InfoContext(ctx, "schedule created",
		"schedule_id", sc.ID,
		"name", sc.Name,
		"cron", sc.CronExpression,
		"timezone", sc.Timezone,
		"workspaces", len(sc.WorkspaceIDs),
	)
	return sc, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*store.Schedule, error) {
	sc, err := s.store.GetSchedule(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ScheduleNotFound(id)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("schedule", err)
	}
	return sc, nil
}

func (s *Scheduler) List(ctx context.Context, enabledOnly bool) ([]store.Schedule, error) {
	schedules, err := s.store.ListSchedules(ctx, enabledOnly)
	if err != nil {
		return nil, apperrors.StoreUnavailable("schedule", err)
	}
	return schedules, nil
}

// Update applies req inside a store transaction and recomputes the next run.
func (s *Scheduler) Update(ctx context.Context, id string, req UpdateRequest) (*store.Schedule, error) {
	now := s.now().UTC()
	sc, err := s.store.UpdateSchedule(ctx, id, func(sc *store.Schedule) error {
		req.apply(sc)
		if err := validateSchedule(sc); err != nil {
			return apperrors.Validation("schedule", err)
		}
		sc.UpdatedAt = now
		sc.NextRunTime = s.nextRun(sc, now)
		return nil
	})
	if err != nil {
		var de *apperrors.DomainError
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, apperrors.ScheduleNotFound(id)
		case errors.As(err, &de):
			return nil, err
		default:
			return nil, apperrors.StoreUnavailable("schedule", err)
		}
	}

	s.logger.InfoContext(ctx, "schedule updated", "schedule_id", id, "enabled", sc.Enabled)
	return sc, nil
}

// Delete removes a schedule. Jobs it created are kept.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteSchedule(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.ScheduleNotFound(id)
	}
	if err != nil {
		return apperrors.StoreUnavailable("schedule", err)
	}
	s.logger.InfoContext(ctx, "schedule deleted", "schedule_id", id)
	return nil
}
