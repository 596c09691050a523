package authz

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Every failure here is terminal for the
// current operation: nothing is retried internally, and structured errors
// keep their fields all the way to the transport layer.
var (
	// ErrNotFound: the resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden: the resource exists but the action is not permitted
	// for the principal's role set or tenant.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict: a state-machine precondition is violated (duplicate
	// pending join request, already a member, last lead removal).
	ErrConflict = errors.New("conflict")

	// ErrInvalidState: a transition was attempted on a terminal or
	// mismatched state (responding to a non-pending join request).
	ErrInvalidState = errors.New("invalid state")

	// ErrNoTenant: the principal has not onboarded into an institution
	// and attempted a tenant-scoped operation.
	ErrNoTenant = errors.New("principal has no institution")
)

// QuotaKind identifies a counted resource governed by plan limits.
type QuotaKind string

const (
	QuotaUsers    QuotaKind = "users"
	QuotaProjects QuotaKind = "projects"
)

// QuotaExceededError reports a plan limit violation. Limit and Current are
// preserved for user-facing messaging.
type QuotaExceededError struct {
	Kind    QuotaKind `json:"kind"`
	Limit   int       `json:"limit"`
	Current int       `json:"current"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit is %d (current %d)", e.Kind, e.Limit, e.Current)
}

// InviteFailure is the specific reason an invite code could not be redeemed.
// Callers need the distinction for user-facing messaging.
type InviteFailure string

const (
	InviteNotFound  InviteFailure = "not-found"
	InviteExpired   InviteFailure = "expired"
	InviteExhausted InviteFailure = "exhausted"
	InviteInactive  InviteFailure = "inactive"
)

// InviteInvalidError reports why a redemption failed.
type InviteInvalidError struct {
	Reason InviteFailure `json:"reason"`
}

func (e *InviteInvalidError) Error() string {
	return fmt.Sprintf("invite code invalid: %s", e.Reason)
}
