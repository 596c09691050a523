package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PlanCatalog supplies the limits a plan type carries. Implemented by the
// billing layer; the engine never decides pricing tiers itself.
type PlanCatalog interface {
	Limits(planType string) (maxUsers, maxProjects *int, err error)
}

// InstitutionService handles institution lifecycle business logic.
// It combines authorization, quota enforcement, and the repository.
type InstitutionService struct {
	db    *sql.DB
	authz *AuthorizationService
	repo  InstitutionRepository
	plans PlanCatalog
}

// NewInstitutionService creates a new InstitutionService
func NewInstitutionService(db *sql.DB, authz *AuthorizationService, repo InstitutionRepository, plans PlanCatalog) *InstitutionService {
	return &InstitutionService{db: db, authz: authz, repo: repo, plans: plans}
}

// CreateInstitutionInput represents input for creating an institution
type CreateInstitutionInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// CreateInstitution is a pre-onboarding action: a user with no institution
// creates one, joins it, and becomes its institution admin. New institutions
// start on the free plan.
func (s *InstitutionService) CreateInstitution(ctx context.Context, p Principal, input CreateInstitutionInput) (*Institution, error) {
	if p.Kind != PrincipalUser {
		return nil, fmt.Errorf("only users can create institutions: %w", ErrForbidden)
	}
	if input.Name == "" || input.Slug == "" {
		return nil, fmt.Errorf("name and slug are required: %w", ErrConflict)
	}
	if s.repo.SlugExists(ctx, input.Slug) {
		return nil, fmt.Errorf("slug already taken: %w", ErrConflict)
	}

	maxUsers, maxProjects, err := s.plans.Limits(PlanFree)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inst := &Institution{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Slug:        input.Slug,
		PlanType:    PlanFree,
		MaxUsers:    maxUsers,
		MaxProjects: maxProjects,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO institutions (id, name, slug, plan_type, max_users, max_projects, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inst.ID, inst.Name, inst.Slug, inst.PlanType, nullableInt(inst.MaxUsers), nullableInt(inst.MaxProjects), inst.IsActive, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		// SlugExists is only a fast pre-check; the unique index is the
		// real guard when two signups race on the same slug.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("slug already taken: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create institution: %w", err)
	}

	// The creator must still be tenantless; the conditional update is the
	// guard against a concurrent onboarding of the same user.
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET institution_id = $1, updated_at = $2
		WHERE id = $3 AND institution_id IS NULL
	`, inst.ID, now, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign creator to institution: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("user already belongs to an institution: %w", ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO institution_admins (user_id, institution_id, created_at)
		VALUES ($1, $2, $3)
	`, p.ID, inst.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to grant institution admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit institution creation: %w", err)
	}

	log.Info().Str("institution_id", inst.ID).Str("slug", inst.Slug).Str("created_by", p.ID).Msg("institution created")
	return inst, nil
}

// GetInstitution retrieves an institution. Platform admins see any
// institution; users see only their own.
func (s *InstitutionService) GetInstitution(ctx context.Context, p Principal, id string) (*Institution, error) {
	inst, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Kind == PrincipalPlatformAdmin {
		return inst, nil
	}
	if p.TenantID != id {
		return nil, fmt.Errorf("institution belongs to another tenant: %w", ErrForbidden)
	}
	return inst, nil
}

// ListInstitutions returns all institutions. Platform-admin only.
func (s *InstitutionService) ListInstitutions(ctx context.Context, p Principal, limit, offset int) ([]Institution, error) {
	if err := s.authz.Require(ctx, p, ActionPlatformManageEnterprises, ResourceRef{Kind: ResourcePlatform}); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, limit, offset)
}

// OverridePlan mutates an institution's plan fields. Platform-admin only;
// limits can also be set explicitly, overriding the catalog defaults for the
// plan type. Downgrading below current usage does not evict anything - the
// quota guard only blocks new growth.
func (s *InstitutionService) OverridePlan(ctx context.Context, p Principal, id, planType string, maxUsers, maxProjects *int) (*Institution, error) {
	if err := s.authz.Require(ctx, p, ActionPlatformManageEnterprises, ResourceRef{Kind: ResourcePlatform}); err != nil {
		return nil, err
	}

	switch planType {
	case PlanFree, PlanStarter, PlanTeam, PlanEnterprise:
	default:
		return nil, fmt.Errorf("unknown plan type %q: %w", planType, ErrConflict)
	}

	if maxUsers == nil && maxProjects == nil {
		var err error
		maxUsers, maxProjects, err = s.plans.Limits(planType)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdatePlan(ctx, id, planType, maxUsers, maxProjects); err != nil {
		return nil, err
	}
	log.Info().Str("institution_id", id).Str("plan_type", planType).Msg("institution plan overridden")
	return s.repo.Get(ctx, id)
}

// ManageAdmins grants or revokes the institution admin association for a
// user of the same institution.
func (s *InstitutionService) ManageAdmins(ctx context.Context, p Principal, institutionID, userID string, grant bool, users UserRepository) error {
	ref := ResourceRef{Kind: ResourceInstitution, ID: institutionID}
	if err := s.authz.Require(ctx, p, ActionManageInstitutionAdmins, ref); err != nil {
		return err
	}

	target, err := users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if target.InstitutionID != institutionID {
		return fmt.Errorf("user belongs to another institution: %w", ErrForbidden)
	}

	if grant {
		return users.AddInstitutionAdmin(ctx, userID, institutionID)
	}
	return users.RemoveInstitutionAdmin(ctx, userID, institutionID)
}
