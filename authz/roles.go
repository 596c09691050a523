package authz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SimpleRoleResolver implements RoleResolver using direct SQL queries.
// It ONLY derives roles - no permission decisions happen here.
type SimpleRoleResolver struct {
	db      *sql.DB
	tenancy TenancyResolver
}

// NewSimpleRoleResolver creates a new SimpleRoleResolver
func NewSimpleRoleResolver(db *sql.DB, tenancy TenancyResolver) *SimpleRoleResolver {
	return &SimpleRoleResolver{db: db, tenancy: tenancy}
}

// Ensure SimpleRoleResolver implements RoleResolver
var _ RoleResolver = (*SimpleRoleResolver)(nil)

// EffectiveRoles returns the union of roles the principal holds for the
// given resource scope. No hierarchy is implied; each check declares which
// roles satisfy it.
//
// A platform admin always resolves to exactly {platform_admin}: platform
// privileges are never mixed into tenant-scoped role sets.
func (r *SimpleRoleResolver) EffectiveRoles(ctx context.Context, p Principal, ref ResourceRef) (RoleSet, error) {
	roles := make(RoleSet)

	if p.Kind == PrincipalPlatformAdmin {
		roles.Add(RolePlatformAdmin)
		return roles, nil
	}

	tenantID, err := r.tenancy.ResolveTenant(ctx, ref)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		// Tenantless scope: a plain user holds no roles there.
		return roles, nil
	}

	isAdmin, err := r.isInstitutionAdmin(ctx, p.ID, tenantID)
	if err != nil {
		return nil, err
	}
	if isAdmin {
		roles.Add(RoleInstitutionAdmin)
	}

	switch ref.Kind {
	case ResourceProject:
		if err := r.addProjectRoles(ctx, roles, p.ID, ref.ID); err != nil {
			return nil, err
		}
	case ResourceDepartment:
		member, err := r.isDepartmentMember(ctx, p.ID, ref.ID)
		if err != nil {
			return nil, err
		}
		if member {
			roles.Add(RoleDepartmentMember)
		}
	case ResourceJoinRequest:
		// Roles on a join request are the roles on its project.
		var projectID string
		err := r.db.QueryRowContext(ctx,
			`SELECT project_id FROM join_requests WHERE id = $1`, ref.ID,
		).Scan(&projectID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load join request scope: %w", err)
		}
		if err := r.addProjectRoles(ctx, roles, p.ID, projectID); err != nil {
			return nil, err
		}
	}

	return roles, nil
}

func (r *SimpleRoleResolver) isInstitutionAdmin(ctx context.Context, userID, institutionID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM institution_admins
		WHERE user_id = $1 AND institution_id = $2
	`, userID, institutionID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check institution admin: %w", err)
	}
	return true, nil
}

// addProjectRoles adds the project membership role and, when the project is
// department-scoped and the user sits in the same department, the
// department member role.
func (r *SimpleRoleResolver) addProjectRoles(ctx context.Context, roles RoleSet, userID, projectID string) error {
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT role FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&role)
	switch {
	case err == sql.ErrNoRows:
		// Absence of a row means no project role.
	case err != nil:
		return fmt.Errorf("failed to check project membership: %w", err)
	case role == string(RoleProjectLead):
		roles.Add(RoleProjectLead)
	case role == string(RoleProjectParticipant):
		roles.Add(RoleProjectParticipant)
	default:
		log.Warn().Str("project_id", projectID).Str("role", role).Msg("unknown project member role")
	}

	// Department membership only counts when the project's department
	// matches the user's department.
	var one int
	err = r.db.QueryRowContext(ctx, `
		SELECT 1 FROM projects p
		JOIN users u ON u.department_id = p.department_id
		WHERE p.id = $1 AND u.id = $2 AND p.department_id IS NOT NULL
	`, projectID, userID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("failed to check department membership: %w", err)
	}
	roles.Add(RoleDepartmentMember)
	return nil
}

func (r *SimpleRoleResolver) isDepartmentMember(ctx context.Context, userID, departmentID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM users
		WHERE id = $1 AND department_id = $2
	`, userID, departmentID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check department membership: %w", err)
	}
	return true, nil
}
