package authz

import (
	"context"
	"fmt"
)

// AuthorizationService is the engine façade: given (principal, action,
// resource) it composes tenancy and role resolution into an allow/deny
// decision with a reason.
//
// Decisions are pure functions of the principal snapshot, the resource
// snapshot and the current roles. Nothing is cached across requests.
type AuthorizationService struct {
	tenancy TenancyResolver
	roles   RoleResolver
}

// NewAuthorizationService creates a new AuthorizationService
func NewAuthorizationService(tenancy TenancyResolver, roles RoleResolver) *AuthorizationService {
	return &AuthorizationService{tenancy: tenancy, roles: roles}
}

// Check decides whether the principal may perform the action on the
// referenced resource. It returns ErrNotFound when the resource does not
// exist; every policy outcome, including cross-tenant access, is a Decision.
//
// Evaluation order:
//  1. must-change-password interrupt (platform admins)
//  2. platform admin bypass
//  3. structural actions (ChangePassword, PlatformManageEnterprises)
//  4. tenancy check - a tenant mismatch is always a deny, never a not-found
//  5. role predicate from ActionPolicies
func (s *AuthorizationService) Check(ctx context.Context, p Principal, action Action, ref ResourceRef) (Decision, error) {
	// Global interrupt: a platform admin that must rotate its password can
	// do nothing else until it has.
	if p.Kind == PrincipalPlatformAdmin && p.MustChangePassword && action != ActionChangePassword {
		return Deny("password change required before any other action"), nil
	}

	// ChangePassword is self-service for every principal kind.
	if action == ActionChangePassword {
		if ref.Kind == ResourceUser && ref.ID == p.ID {
			return Allow(), nil
		}
		return Deny("can only change own password"), nil
	}

	// Platform admins act across tenants by design.
	if p.Kind == PrincipalPlatformAdmin {
		return Allow(), nil
	}

	if action == ActionPlatformManageEnterprises {
		return Deny("requires platform administrator"), nil
	}

	// Pre-onboarding users can only act on pre-onboarding flows (creating
	// an institution, redeeming an invite), which never reach Check.
	principalTenant, err := s.tenancy.PrincipalTenant(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if principalTenant == "" {
		return Deny("no institution membership"), nil
	}

	resourceTenant, err := s.tenancy.ResolveTenant(ctx, ref)
	if err != nil {
		return Decision{}, err
	}
	if resourceTenant != principalTenant {
		return Deny("resource belongs to another institution"), nil
	}

	required, ok := ActionPolicies[action]
	if !ok {
		return Decision{}, fmt.Errorf("no policy registered for action %q", action)
	}

	roles, err := s.roles.EffectiveRoles(ctx, p, ref)
	if err != nil {
		return Decision{}, err
	}
	if roles.Any(required) {
		return Allow(), nil
	}
	return Deny(fmt.Sprintf("action %s requires one of roles %v", action, required)), nil
}

// Require is a convenience wrapper that folds a deny into ErrForbidden for
// call sites that do not need the reason separately.
func (s *AuthorizationService) Require(ctx context.Context, p Principal, action Action, ref ResourceRef) error {
	decision, err := s.Check(ctx, p, action, ref)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("%s: %w", decision.Reason, ErrForbidden)
	}
	return nil
}
