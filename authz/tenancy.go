package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// SimpleTenancy implements TenancyResolver using direct SQL queries.
// Lookups are pure; nothing here mutates state.
type SimpleTenancy struct {
	db *sql.DB
}

// NewSimpleTenancy creates a new SimpleTenancy with the given database connection
func NewSimpleTenancy(db *sql.DB) *SimpleTenancy {
	return &SimpleTenancy{db: db}
}

// Ensure SimpleTenancy implements TenancyResolver
var _ TenancyResolver = (*SimpleTenancy)(nil)

// ResolveTenant returns the institution that owns the referenced resource.
func (t *SimpleTenancy) ResolveTenant(ctx context.Context, ref ResourceRef) (string, error) {
	var query string
	switch ref.Kind {
	case ResourcePlatform:
		// Platform scope belongs to no tenant.
		return "", nil
	case ResourceInstitution:
		query = `SELECT id FROM institutions WHERE id = $1`
	case ResourceDepartment:
		query = `SELECT institution_id FROM departments WHERE id = $1`
	case ResourceProject:
		query = `SELECT institution_id FROM projects WHERE id = $1`
	case ResourceUser:
		// institution_id is a uuid column; cast before coalescing so the
		// '' fallback stays text and never hits uuid_in.
		query = `SELECT COALESCE(institution_id::text, '') FROM users WHERE id = $1`
	case ResourceJoinRequest:
		query = `
			SELECT p.institution_id FROM join_requests jr
			JOIN projects p ON p.id = jr.project_id
			WHERE jr.id = $1`
	case ResourceInviteCode:
		query = `SELECT institution_id FROM invite_codes WHERE id = $1`
	default:
		return "", fmt.Errorf("unknown resource kind %q: %w", ref.Kind, ErrNotFound)
	}

	var tenantID string
	err := t.db.QueryRowContext(ctx, query, ref.ID).Scan(&tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve tenant for %s %s: %w", ref.Kind, ref.ID, err)
	}
	return tenantID, nil
}

// PrincipalTenant returns the institution the principal belongs to. Platform
// admins and pre-onboarding users have none.
func (t *SimpleTenancy) PrincipalTenant(ctx context.Context, p Principal) (string, error) {
	if p.Kind == PrincipalPlatformAdmin {
		return "", nil
	}

	var tenantID string
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(institution_id::text, '') FROM users WHERE id = $1`, p.ID,
	).Scan(&tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve principal tenant: %w", err)
	}
	return tenantID, nil
}

// SameTenant reports whether the principal and the resource share an
// institution. A principal with no institution never matches.
func (t *SimpleTenancy) SameTenant(ctx context.Context, p Principal, ref ResourceRef) (bool, error) {
	resourceTenant, err := t.ResolveTenant(ctx, ref)
	if err != nil {
		return false, err
	}
	principalTenant, err := t.PrincipalTenant(ctx, p)
	if err != nil {
		return false, err
	}
	if principalTenant == "" || resourceTenant == "" {
		return false, nil
	}
	return principalTenant == resourceTenant, nil
}
