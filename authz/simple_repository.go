package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSimpleBackend wires the SQL implementations of the engine over one
// database handle. This is the composition root the router uses.
func NewSimpleBackend(db *sql.DB) (*AuthorizationService, QuotaGuard, *SimpleTenancy, *SimpleRoleResolver) {
	tenancy := NewSimpleTenancy(db)
	roles := NewSimpleRoleResolver(db, tenancy)
	return NewAuthorizationService(tenancy, roles), NewSimpleQuotaGuard(), tenancy, roles
}

// ============================================================================
// SimpleInstitutionRepository - SQL implementation of InstitutionRepository
// ============================================================================

// SimpleInstitutionRepository implements InstitutionRepository using SQL
type SimpleInstitutionRepository struct {
	db *sql.DB
}

// NewSimpleInstitutionRepository creates a new SimpleInstitutionRepository
func NewSimpleInstitutionRepository(db *sql.DB) *SimpleInstitutionRepository {
	return &SimpleInstitutionRepository{db: db}
}

// Ensure SimpleInstitutionRepository implements InstitutionRepository
var _ InstitutionRepository = (*SimpleInstitutionRepository)(nil)

// Create creates a new institution
func (r *SimpleInstitutionRepository) Create(ctx context.Context, inst *Institution) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO institutions (id, name, slug, plan_type, max_users, max_projects, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inst.ID, inst.Name, inst.Slug, inst.PlanType, nullableInt(inst.MaxUsers), nullableInt(inst.MaxProjects), inst.IsActive, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create institution: %w", err)
	}
	return nil
}

// Get retrieves an institution by ID
func (r *SimpleInstitutionRepository) Get(ctx context.Context, id string) (*Institution, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

// GetBySlug retrieves an institution by slug
func (r *SimpleInstitutionRepository) GetBySlug(ctx context.Context, slug string) (*Institution, error) {
	return r.getBy(ctx, `WHERE slug = $1`, slug)
}

func (r *SimpleInstitutionRepository) getBy(ctx context.Context, where string, arg interface{}) (*Institution, error) {
	var inst Institution
	var maxUsers, maxProjects sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan_type, max_users, max_projects, is_active, created_at, updated_at
		FROM institutions
		`+where, arg).Scan(&inst.ID, &inst.Name, &inst.Slug, &inst.PlanType, &maxUsers, &maxProjects, &inst.IsActive, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		inst.MaxUsers = &n
	}
	if maxProjects.Valid {
		n := int(maxProjects.Int64)
		inst.MaxProjects = &n
	}
	return &inst, nil
}

// List returns all institutions
func (r *SimpleInstitutionRepository) List(ctx context.Context, limit, offset int) ([]Institution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug, plan_type, max_users, max_projects, is_active, created_at, updated_at
		FROM institutions
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var institutions []Institution
	for rows.Next() {
		var inst Institution
		var maxUsers, maxProjects sql.NullInt64
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Slug, &inst.PlanType, &maxUsers, &maxProjects, &inst.IsActive, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		if maxUsers.Valid {
			n := int(maxUsers.Int64)
			inst.MaxUsers = &n
		}
		if maxProjects.Valid {
			n := int(maxProjects.Int64)
			inst.MaxProjects = &n
		}
		institutions = append(institutions, inst)
	}
	return institutions, rows.Err()
}

// UpdatePlan mutates the plan fields only
func (r *SimpleInstitutionRepository) UpdatePlan(ctx context.Context, id, planType string, maxUsers, maxProjects *int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE institutions
		SET plan_type = $1, max_users = $2, max_projects = $3, updated_at = $4
		WHERE id = $5
	`, planType, nullableInt(maxUsers), nullableInt(maxProjects), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update institution plan: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SlugExists checks if a slug is already taken
func (r *SimpleInstitutionRepository) SlugExists(ctx context.Context, slug string) bool {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM institutions WHERE slug = $1`, slug).Scan(&one)
	return err == nil
}

// ============================================================================
// SimpleUserRepository - SQL implementation of UserRepository
// ============================================================================

// SimpleUserRepository implements UserRepository using SQL
type SimpleUserRepository struct {
	db *sql.DB
}

// NewSimpleUserRepository creates a new SimpleUserRepository
func NewSimpleUserRepository(db *sql.DB) *SimpleUserRepository {
	return &SimpleUserRepository{db: db}
}

// Ensure SimpleUserRepository implements UserRepository
var _ UserRepository = (*SimpleUserRepository)(nil)

// Get retrieves a user by ID
func (r *SimpleUserRepository) Get(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), COALESCE(institution_id::text, ''), COALESCE(department_id::text, ''), created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Name, &user.InstitutionID, &user.DepartmentID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Create creates a new user. A user may exist pre-onboarding with no
// institution; both tenant and department references are optional here.
func (r *SimpleUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	var institutionID, departmentID interface{}
	if user.InstitutionID != "" {
		institutionID = user.InstitutionID
	}
	if user.DepartmentID != "" {
		departmentID = user.DepartmentID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, institution_id, department_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.Name, institutionID, departmentID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// AddInstitutionAdmin puts a user in the institution_admins association
func (r *SimpleUserRepository) AddInstitutionAdmin(ctx context.Context, userID, institutionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO institution_admins (user_id, institution_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, institution_id) DO NOTHING
	`, userID, institutionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add institution admin: %w", err)
	}
	return nil
}

// RemoveInstitutionAdmin removes the association
func (r *SimpleUserRepository) RemoveInstitutionAdmin(ctx context.Context, userID, institutionID string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM institution_admins
		WHERE user_id = $1 AND institution_id = $2
	`, userID, institutionID)
	if err != nil {
		return fmt.Errorf("failed to remove institution admin: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// SimpleProjectRepository - SQL implementation of ProjectRepository
// ============================================================================

// SimpleProjectRepository implements ProjectRepository using SQL
type SimpleProjectRepository struct {
	db *sql.DB
}

// NewSimpleProjectRepository creates a new SimpleProjectRepository
func NewSimpleProjectRepository(db *sql.DB) *SimpleProjectRepository {
	return &SimpleProjectRepository{db: db}
}

// Ensure SimpleProjectRepository implements ProjectRepository
var _ ProjectRepository = (*SimpleProjectRepository)(nil)

// Get retrieves a project by ID
func (r *SimpleProjectRepository) Get(ctx context.Context, id string) (*Project, error) {
	var project Project
	err := r.db.QueryRowContext(ctx, `
		SELECT id, institution_id, COALESCE(department_id::text, ''), name, COALESCE(classification, ''), status, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, id).Scan(&project.ID, &project.InstitutionID, &project.DepartmentID, &project.Name, &project.Classification, &project.Status, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// ListByInstitution returns all projects of an institution
func (r *SimpleProjectRepository) ListByInstitution(ctx context.Context, institutionID string) ([]Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, institution_id, COALESCE(department_id::text, ''), name, COALESCE(classification, ''), status, created_at, updated_at
		FROM projects
		WHERE institution_id = $1
		ORDER BY created_at DESC
	`, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var project Project
		if err := rows.Scan(&project.ID, &project.InstitutionID, &project.DepartmentID, &project.Name, &project.Classification, &project.Status, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// ListMembers returns the members of a project with user details
func (r *SimpleProjectRepository) ListMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pm.id, pm.project_id, pm.user_id, pm.role, pm.created_at, COALESCE(u.name, ''), u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY pm.created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	var members []ProjectMember
	for rows.Next() {
		var m ProjectMember
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt, &m.Name, &m.Email); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
