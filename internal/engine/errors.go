package engine

import (
	"errors"
	"fmt"

	"leboy/internal/domain"
)

// ErrBalanceNotPaid rejects closing a mission whose final balance has not
// been marked as transferred.
var ErrBalanceNotPaid = errors.New("mission balance not fully paid")

// ErrProofsRequired rejects validation submission with no uploaded proof.
var ErrProofsRequired = errors.New("at least one proof is required before submission")

// InvalidStateTransitionError is returned when an operation's precondition
// state no longer matches the stored state at write time. Both the provider
// and admin UIs retry transitions from stale views, so this is an expected
// conflict, not a bug.
type InvalidStateTransitionError struct {
	MissionID string
	From      domain.State
	Operation string
}

func (e InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("mission %s: operation %s not allowed from state %s", e.MissionID, e.Operation, e.From)
}

// UnauthorizedRoleError is returned when the caller's role cannot perform
// the requested operation.
type UnauthorizedRoleError struct {
	Role      domain.Role
	Operation string
}

func (e UnauthorizedRoleError) Error() string {
	return fmt.Sprintf("role %s cannot perform %s", e.Role, e.Operation)
}

// PhasePrecedingIncompleteError is returned when completing a phase while a
// lower-ordered phase is still open.
type PhasePrecedingIncompleteError struct {
	PhaseName string
	Ordre     int
}

func (e PhasePrecedingIncompleteError) Error() string {
	return fmt.Sprintf("phase %q (ordre %d) must be completed first", e.PhaseName, e.Ordre)
}

// MissionArchivedError is returned when mutating an archived mission.
type MissionArchivedError struct {
	MissionID string
}

func (e MissionArchivedError) Error() string {
	return fmt.Sprintf("mission %s is archived", e.MissionID)
}

// RetentionExpiredError is returned when restoring a mission archived longer
// than the retention window.
type RetentionExpiredError struct {
	MissionID  string
	ArchivedAt string
	Days       int
}

func (e RetentionExpiredError) Error() string {
	return fmt.Sprintf("mission %s archived at %s: %d-day retention expired, restore refused", e.MissionID, e.ArchivedAt, e.Days)
}
