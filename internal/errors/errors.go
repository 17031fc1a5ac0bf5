// Package errors defines the domain error kinds shared by the job manager,
// the scheduler and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies a class of domain failure. The string value is what the API
// reports in the "error" field of an error body.
type Kind string

const (
	KindWorkspaceNotFound Kind = "WorkspaceNotFound"
	KindWorkspaceInvalid  Kind = "WorkspaceInvalid"
	KindWorkspaceBusy     Kind = "WorkspaceBusy"
	KindJobNotFound       Kind = "JobNotFound"
	KindJobNotCancellable Kind = "JobNotCancellable"
	KindScheduleNotFound  Kind = "ScheduleNotFound"
	KindScheduleDisabled  Kind = "ScheduleDisabled"
	KindValidation        Kind = "ValidationError"
	// KindDispatch marks a runner that could not be started. Jobs are dispatched
	// after Create returns, so it is recorded on the job (failed state and a
	// dispatch_error event) and in logs and traces, never returned to a caller.
	KindDispatch          Kind = "DispatchError"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindInternal          Kind = "InternalError"
)

// ActiveJob describes the job holding a workspace when a new job is refused.
type ActiveJob struct {
	ID        string
	Status    string
	CreatedAt time.Time
}

type DomainError struct {
	Kind       Kind
	Entity     string
	Message    string
	WrappedErr error

	// Set only for KindWorkspaceBusy.
	ActiveJob *ActiveJob
}

func (e *DomainError) Error() string {
	if e.WrappedErr != nil {
		return fmt.Sprintf("%s for %s: %s: %v", e.Kind, e.Entity, e.Message, e.WrappedErr)
	}
	return fmt.Sprintf("%s for %s: %s", e.Kind, e.Entity, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.WrappedErr
}

func New(kind Kind, entity, msg string) *DomainError {
	return &DomainError{Kind: kind, Entity: entity, Message: msg}
}

func Wrap(kind Kind, entity, msg string, err error) *DomainError {
	return &DomainError{Kind: kind, Entity: entity, Message: msg, WrappedErr: err}
}

func WorkspaceNotFound(id string) *DomainError {
	return New(KindWorkspaceNotFound, "workspace", fmt.Sprintf("workspace %q not found", id))
}

func WorkspaceInvalid(id, reason string) *DomainError {
	return New(KindWorkspaceInvalid, "workspace", fmt.Sprintf("workspace %q is not runnable: %s", id, reason))
}

func WorkspaceBusy(workspaceID string, active ActiveJob) *DomainError {
	return &DomainError{
		Kind:      KindWorkspaceBusy,
		Entity:    "workspace",
		Message:   fmt.Sprintf("workspace %q already has an active job %s (%s)", workspaceID, active.ID, active.Status),
		ActiveJob: &active,
	}
}

func JobNotFound(id string) *DomainError {
	return New(KindJobNotFound, "job", fmt.Sprintf("job %q not found", id))
}

func JobNotCancellable(id, status string) *DomainError {
	return New(KindJobNotCancellable, "job", fmt.Sprintf("job %q is already %s", id, status))
}

func ScheduleNotFound(id string) *DomainError {
	return New(KindScheduleNotFound, "schedule", fmt.Sprintf("schedule %q not found", id))
}

func ScheduleDisabled(id string) *DomainError {
	return New(KindScheduleDisabled, "schedule", fmt.Sprintf("schedule %q is disabled", id))
}

func Validation(entity string, err error) *DomainError {
	return Wrap(KindValidation, entity, "invalid request", err)
}

func StoreUnavailable(entity string, err error) *DomainError {
	return Wrap(KindStoreUnavailable, entity, "store operation failed", err)
}

// KindOf returns the kind of the first DomainError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Is reports whether err carries a DomainError of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindWorkspaceNotFound, KindJobNotFound, KindScheduleNotFound:
		return http.StatusNotFound
	case KindWorkspaceBusy, KindJobNotCancellable, KindScheduleDisabled:
		return http.StatusConflict
	case KindWorkspaceInvalid:
		return http.StatusUnprocessableEntity
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
