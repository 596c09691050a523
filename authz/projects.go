package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ProjectService handles project lifecycle business logic that interacts
// with the engine: quota-gated creation and authorized reads.
type ProjectService struct {
	db    *sql.DB
	authz *AuthorizationService
	quota QuotaGuard
	repo  ProjectRepository
}

// NewProjectService creates a new ProjectService
func NewProjectService(db *sql.DB, authz *AuthorizationService, quota QuotaGuard, repo ProjectRepository) *ProjectService {
	return &ProjectService{db: db, authz: authz, quota: quota, repo: repo}
}

// CreateProjectInput represents input for creating a project
type CreateProjectInput struct {
	Name           string `json:"name"`
	DepartmentID   string `json:"department_id,omitempty"`
	Classification string `json:"classification,omitempty"`
	// LeadUserID is the user appointed as the project's first lead.
	// Defaults to the creator.
	LeadUserID string `json:"lead_user_id,omitempty"`
}

// CreateProject creates a project inside the principal's institution. The
// quota reservation, the project row, and the first lead membership are one
// atomic unit: concurrent creations against the same institution serialize
// on the quota guard's row lock and cannot overshoot max_projects.
func (s *ProjectService) CreateProject(ctx context.Context, p Principal, institutionID string, input CreateProjectInput) (*Project, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("project name is required: %w", ErrConflict)
	}

	ref := ResourceRef{Kind: ResourceInstitution, ID: institutionID}
	if err := s.authz.Require(ctx, p, ActionCreateProject, ref); err != nil {
		return nil, err
	}

	leadID := input.LeadUserID
	if leadID == "" {
		if p.Kind != PrincipalUser {
			return nil, fmt.Errorf("a lead user is required: %w", ErrConflict)
		}
		leadID = p.ID
	}

	now := time.Now()
	project := &Project{
		ID:             uuid.New().String(),
		InstitutionID:  institutionID,
		DepartmentID:   input.DepartmentID,
		Name:           input.Name,
		Classification: input.Classification,
		Status:         "active",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.quota.Reserve(ctx, tx, institutionID, QuotaProjects, 1); err != nil {
		return nil, err
	}

	// The appointed lead must belong to the project's institution.
	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM users WHERE id = $1 AND institution_id = $2
	`, leadID, institutionID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("lead user is not a member of the institution: %w", ErrForbidden)
		}
		return nil, fmt.Errorf("failed to check lead user: %w", err)
	}

	var departmentID interface{}
	if project.DepartmentID != "" {
		departmentID = project.DepartmentID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, institution_id, department_id, name, classification, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, project.ID, project.InstitutionID, departmentID, project.Name, project.Classification, project.Status, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), project.ID, leadID, RoleProjectLead, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create lead membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project creation: %w", err)
	}

	log.Info().Str("project_id", project.ID).Str("institution_id", institutionID).Str("lead", leadID).Msg("project created")
	return project, nil
}

// GetProject retrieves a project after a ViewProject check.
func (s *ProjectService) GetProject(ctx context.Context, p Principal, id string) (*Project, error) {
	ref := ResourceRef{Kind: ResourceProject, ID: id}
	if err := s.authz.Require(ctx, p, ActionViewProject, ref); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// ListMembers returns the project's members after a ViewProject check.
func (s *ProjectService) ListMembers(ctx context.Context, p Principal, projectID string) ([]ProjectMember, error) {
	ref := ResourceRef{Kind: ResourceProject, ID: projectID}
	if err := s.authz.Require(ctx, p, ActionViewProject, ref); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, projectID)
}
