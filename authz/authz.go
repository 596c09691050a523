// Package authz is the authorization and tenancy-enforcement engine.
// This package follows Clean Architecture with separated concerns:
// - TenancyResolver: maps principals and resources to their institution
// - RoleResolver: derives the effective role set of a principal in a scope
// - QuotaGuard: reserves capacity against plan limits inside a transaction
// - AuthorizationService: composes the above into allow/deny decisions
//
// Design principle: the permission matrix is data (ActionPolicies), not
// scattered per-endpoint conditionals, so it can be tested as a table.
package authz

import (
	"context"
	"database/sql"
)

// PrincipalKind distinguishes the two identity spaces. Platform admins are
// not users with a flag: they never hold a tenant reference and are checked
// before any tenant-scoped logic runs.
type PrincipalKind string

const (
	PrincipalUser          PrincipalKind = "user"
	PrincipalPlatformAdmin PrincipalKind = "platform_admin"
)

// Principal is the authenticated actor making a request. It is handed to the
// engine by the authentication layer; the engine never verifies credentials.
type Principal struct {
	ID   string        `json:"id"`
	Kind PrincipalKind `json:"kind"`
	// TenantID is empty for platform admins and for users that have not
	// onboarded into an institution yet.
	TenantID string `json:"tenant_id,omitempty"`
	// MustChangePassword is a global interrupt for platform admins: while
	// set, every check is denied except ChangePassword.
	MustChangePassword bool `json:"must_change_password,omitempty"`
}

// Role represents a principal's standing within a tenant-scoped resource.
type Role string

const (
	RolePlatformAdmin      Role = "platform_admin"
	RoleInstitutionAdmin   Role = "institution_admin"
	RoleDepartmentMember   Role = "department_member"
	RoleProjectLead        Role = "lead"
	RoleProjectParticipant Role = "participant"
)

// RoleSet is the union of roles a principal holds for one resource scope.
// No hierarchy is implied; each action declares which roles satisfy it.
type RoleSet map[Role]struct{}

func (s RoleSet) Add(r Role) { s[r] = struct{}{} }

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Any reports whether the set contains at least one of the given roles.
func (s RoleSet) Any(roles []Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Action is an operation that can be performed on a resource. The set is
// closed; handlers never invent action strings.
type Action string

const (
	ActionViewProject               Action = "view_project"
	ActionEditProject               Action = "edit_project"
	ActionDeleteProject             Action = "delete_project"
	ActionManageMembers             Action = "manage_members"
	ActionAssignTask                Action = "assign_task"
	ActionCreateProject             Action = "create_project"
	ActionManageInstitutionAdmins   Action = "manage_institution_admins"
	ActionManageBilling             Action = "manage_billing"
	ActionManageInviteCodes         Action = "manage_invite_codes"
	ActionPlatformManageEnterprises Action = "platform_manage_enterprises"
	ActionChangePassword            Action = "change_password"
)

// ResourceKind identifies the type of resource a check targets.
type ResourceKind string

const (
	ResourceInstitution ResourceKind = "institution"
	ResourceDepartment  ResourceKind = "department"
	ResourceProject     ResourceKind = "project"
	ResourceUser        ResourceKind = "user"
	ResourceJoinRequest ResourceKind = "join_request"
	ResourceInviteCode  ResourceKind = "invite_code"
	// ResourcePlatform is the synthetic scope of platform-level actions;
	// it belongs to no tenant.
	ResourcePlatform ResourceKind = "platform"
)

// ResourceRef points at the resource a check targets.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

// Decision is the outcome of an authorization check. A denied decision
// always carries a reason for the caller's messaging.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason string) Decision { return Decision{Reason: reason} }

// ActionPolicies maps every tenant-scoped action to the roles that satisfy
// it. PlatformAdmin is deliberately absent: it is a distinct principal kind
// handled before this table is consulted, so platform privileges can never
// leak into tenant-scoped role sets.
var ActionPolicies = map[Action][]Role{
	ActionViewProject:             {RoleInstitutionAdmin, RoleDepartmentMember, RoleProjectLead, RoleProjectParticipant},
	ActionEditProject:             {RoleInstitutionAdmin, RoleDepartmentMember, RoleProjectLead},
	ActionDeleteProject:           {RoleInstitutionAdmin, RoleProjectLead},
	ActionManageMembers:           {RoleInstitutionAdmin, RoleProjectLead},
	ActionAssignTask:              {RoleInstitutionAdmin, RoleProjectLead},
	ActionCreateProject:           {RoleInstitutionAdmin},
	ActionManageInstitutionAdmins: {RoleInstitutionAdmin},
	ActionManageBilling:           {RoleInstitutionAdmin},
	ActionManageInviteCodes:       {RoleInstitutionAdmin},
}

// TenancyResolver maps principals and resources to the institution that owns
// them. Every cross-entity check passes through SameTenant.
type TenancyResolver interface {
	// ResolveTenant returns the owning institution of a resource, or
	// ErrNotFound if the resource does not exist. A user with no
	// institution resolves to the empty string.
	ResolveTenant(ctx context.Context, ref ResourceRef) (string, error)

	// PrincipalTenant returns the institution the principal belongs to,
	// or the empty string for platform admins and pre-onboarding users.
	PrincipalTenant(ctx context.Context, p Principal) (string, error)

	// SameTenant reports whether the principal and the resource belong to
	// the same institution.
	SameTenant(ctx context.Context, p Principal, ref ResourceRef) (bool, error)
}

// RoleResolver derives the effective role set of a principal for one
// resource scope. Results are never cached across requests: role membership
// can change between requests.
type RoleResolver interface {
	EffectiveRoles(ctx context.Context, p Principal, ref ResourceRef) (RoleSet, error)
}

// QuotaGuard checks and reserves capacity against the institution's plan
// limits. Reserve must run inside the same transaction as the mutation that
// grows the counted resource, otherwise concurrent requests can overshoot
// the limit.
type QuotaGuard interface {
	Reserve(ctx context.Context, tx *sql.Tx, tenantID string, kind QuotaKind, delta int) error
}
