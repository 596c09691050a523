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

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// MembershipWorkflow governs the join-request state machine and project
// membership mutations that need guarding.
//
// States: pending -> approved | rejected. Approved and rejected are
// terminal; once responded, a request is immutable.
type MembershipWorkflow struct {
	db      *sql.DB
	tenancy TenancyResolver
	roles   RoleResolver
}

// NewMembershipWorkflow creates a new MembershipWorkflow
func NewMembershipWorkflow(db *sql.DB, tenancy TenancyResolver, roles RoleResolver) *MembershipWorkflow {
	return &MembershipWorkflow{db: db, tenancy: tenancy, roles: roles}
}

// CreateJoinRequest opens a pending request for the principal to join the
// project. Preconditions:
//   - the principal and the project share an institution
//   - the principal is not already a member of the project
//   - no pending request exists for this (project, user) pair
func (w *MembershipWorkflow) CreateJoinRequest(ctx context.Context, p Principal, projectID, message string) (*JoinRequest, error) {
	if p.Kind != PrincipalUser {
		return nil, fmt.Errorf("only users can request to join projects: %w", ErrForbidden)
	}

	ref := ResourceRef{Kind: ResourceProject, ID: projectID}
	same, err := w.tenancy.SameTenant(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	if !same {
		return nil, fmt.Errorf("project belongs to another institution: %w", ErrForbidden)
	}

	var one int
	err = w.db.QueryRowContext(ctx, `
		SELECT 1 FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, p.ID).Scan(&one)
	if err == nil {
		return nil, fmt.Errorf("already a member of this project: %w", ErrConflict)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing membership: %w", err)
	}

	req := &JoinRequest{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    p.ID,
		Status:    JoinPending,
		Message:   message,
		CreatedAt: time.Now(),
	}

	// The partial unique index on (project_id, user_id) WHERE
	// status = 'pending' is the race guard: two concurrent creates leave
	// exactly one pending row.
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO join_requests (id, project_id, user_id, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.ProjectID, req.UserID, req.Status, req.Message, req.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("a pending join request already exists: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create join request: %w", err)
	}
	return req, nil
}

// Respond approves or rejects a pending join request. The responder must
// hold ProjectLead or InstitutionAdmin on the project's scope (platform
// admins pass by kind). Approval atomically flips the status and inserts a
// participant membership; rejection only flips the status. Both transitions
// are terminal.
func (w *MembershipWorkflow) Respond(ctx context.Context, p Principal, requestID string, approve bool) (*JoinRequest, error) {
	req, err := w.getJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if p.Kind != PrincipalPlatformAdmin {
		ref := ResourceRef{Kind: ResourceProject, ID: req.ProjectID}
		same, err := w.tenancy.SameTenant(ctx, p, ref)
		if err != nil {
			return nil, err
		}
		if !same {
			return nil, fmt.Errorf("join request belongs to another institution: %w", ErrForbidden)
		}
		roles, err := w.roles.EffectiveRoles(ctx, p, ref)
		if err != nil {
			return nil, err
		}
		if !roles.Any([]Role{RoleProjectLead, RoleInstitutionAdmin}) {
			return nil, fmt.Errorf("responding requires a project lead or institution admin: %w", ErrForbidden)
		}
	}

	status := JoinRejected
	if approve {
		status = JoinApproved
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	// Conditional update on status='pending': of two concurrent responses,
	// exactly one wins and the other observes InvalidState below.
	result, err := tx.ExecContext(ctx, `
		UPDATE join_requests
		SET status = $1, responded_by = $2, responded_at = $3
		WHERE id = $4 AND status = 'pending'
	`, status, p.ID, now, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to respond to join request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("join request is no longer pending: %w", ErrInvalidState)
	}

	if approve {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_members (id, project_id, user_id, role, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, uuid.New().String(), req.ProjectID, req.UserID, RoleProjectParticipant, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create project membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join response: %w", err)
	}

	req.Status = status
	req.RespondedBy = p.ID
	req.RespondedAt = &now
	log.Info().Str("request_id", requestID).Str("status", status).Str("responded_by", p.ID).Msg("join request responded")
	return req, nil
}

// RemoveMember deletes a project membership. Removing the last remaining
// lead of a project is rejected with Conflict so projects never go
// leaderless once they have a lead. Callers authorize ManageMembers first.
func (w *MembershipWorkflow) RemoveMember(ctx context.Context, projectID, userID string) error {
	result, err := w.db.ExecContext(ctx, `
		DELETE FROM project_members
		WHERE project_id = $1 AND user_id = $2
		AND (role <> 'lead' OR EXISTS (
			SELECT 1 FROM project_members other
			WHERE other.project_id = $1 AND other.role = 'lead' AND other.user_id <> $2
		))
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove project member: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	// Nothing deleted: distinguish a missing membership from a blocked
	// last-lead removal.
	var role string
	err = w.db.QueryRowContext(ctx, `
		SELECT role FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return fmt.Errorf("membership not found: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	return fmt.Errorf("cannot remove the last lead of a project: %w", ErrConflict)
}

// ListJoinRequests returns the requests for a project, newest first.
func (w *MembershipWorkflow) ListJoinRequests(ctx context.Context, projectID string) ([]JoinRequest, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, status, COALESCE(message, ''), COALESCE(responded_by::text, ''), responded_at, created_at
		FROM join_requests
		WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list join requests: %w", err)
	}
	defer rows.Close()

	var requests []JoinRequest
	for rows.Next() {
		var req JoinRequest
		var respondedAt sql.NullTime
		if err := rows.Scan(&req.ID, &req.ProjectID, &req.UserID, &req.Status, &req.Message, &req.RespondedBy, &respondedAt, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan join request: %w", err)
		}
		if respondedAt.Valid {
			req.RespondedAt = &respondedAt.Time
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (w *MembershipWorkflow) getJoinRequest(ctx context.Context, id string) (*JoinRequest, error) {
	var req JoinRequest
	var respondedAt sql.NullTime
	err := w.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, status, COALESCE(message, ''), COALESCE(responded_by::text, ''), responded_at, created_at
		FROM join_requests
		WHERE id = $1
	`, id).Scan(&req.ID, &req.ProjectID, &req.UserID, &req.Status, &req.Message, &req.RespondedBy, &respondedAt, &req.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get join request: %w", err)
	}
	if respondedAt.Valid {
		req.RespondedAt = &respondedAt.Time
	}
	return &req, nil
}
