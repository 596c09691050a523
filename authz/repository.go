package authz

import (
	"context"
	"time"
)

// Institution is the tenant root. Every user, department, project and join
// request transitively belongs to exactly one institution.
type Institution struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	PlanType string `json:"plan_type"`
	// MaxUsers and MaxProjects are plan ceilings; nil means unlimited.
	MaxUsers    *int      `json:"max_users,omitempty"`
	MaxProjects *int      `json:"max_projects,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Plan types an institution can be on.
const (
	PlanFree       = "free"
	PlanStarter    = "starter"
	PlanTeam       = "team"
	PlanEnterprise = "enterprise"
)

// User belongs to at most one institution and optionally one department.
// InstitutionID, once set, only changes through an explicit transfer flow.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	InstitutionID string    `json:"institution_id,omitempty"`
	DepartmentID  string    `json:"department_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PlatformAdmin lives in a distinct identity space from User. It manages
// institutions, never tenant data, and never holds a tenant reference.
type PlatformAdmin struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Department belongs to exactly one institution.
type Department struct {
	ID            string    `json:"id"`
	InstitutionID string    `json:"institution_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
}

// Project belongs to one institution and optionally one department.
type Project struct {
	ID             string    `json:"id"`
	InstitutionID  string    `json:"institution_id"`
	DepartmentID   string    `json:"department_id,omitempty"`
	Name           string    `json:"name"`
	Classification string    `json:"classification,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProjectMember joins a user to a project. A (project, user) pair is unique.
type ProjectMember struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"` // lead or participant
	CreatedAt time.Time `json:"created_at"`
	// User details populated when listing project members.
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// JoinRequest statuses. Approved and rejected are terminal.
const (
	JoinPending  = "pending"
	JoinApproved = "approved"
	JoinRejected = "rejected"
)

// JoinRequest is a user-initiated, lead-approved request to become a
// project member. At most one pending request exists per (project, user).
type JoinRequest struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	RespondedBy string     `json:"responded_by,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// InviteCode permits self-service onboarding into an institution. Validity
// is derived from the stored fields at redemption time, never cached.
type InviteCode struct {
	ID            string     `json:"id"`
	InstitutionID string     `json:"institution_id"`
	Code          string     `json:"code"`
	Token         string     `json:"-"`
	Label         string     `json:"label,omitempty"`
	MaxUses       *int       `json:"max_uses,omitempty"` // nil = unlimited
	UseCount      int        `json:"use_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // nil = never
	IsActive      bool       `json:"is_active"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// InstitutionRepository handles CRUD for institutions.
// This is purely a data access layer - no authorization logic.
type InstitutionRepository interface {
	Create(ctx context.Context, inst *Institution) error
	Get(ctx context.Context, id string) (*Institution, error)
	GetBySlug(ctx context.Context, slug string) (*Institution, error)
	List(ctx context.Context, limit, offset int) ([]Institution, error)

	// UpdatePlan mutates the plan fields only. Called from billing events
	// and platform admin overrides, never from tenant-scoped code.
	UpdatePlan(ctx context.Context, id, planType string, maxUsers, maxProjects *int) error

	SlugExists(ctx context.Context, slug string) bool
}

// UserRepository handles the user rows the engine touches.
type UserRepository interface {
	Get(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error

	// AddInstitutionAdmin puts a user in the institution_admins
	// association for an institution.
	AddInstitutionAdmin(ctx context.Context, userID, institutionID string) error
	RemoveInstitutionAdmin(ctx context.Context, userID, institutionID string) error
}

// ProjectRepository handles the project rows the engine touches.
type ProjectRepository interface {
	Get(ctx context.Context, id string) (*Project, error)
	ListByInstitution(ctx context.Context, institutionID string) ([]Project, error)
	ListMembers(ctx context.Context, projectID string) ([]ProjectMember, error)
}
