package authz

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InviteService manages invite codes: tenant-scoped tokens permitting
// self-service onboarding, subject to usage and expiry limits.
//
// Validity is derived, never stored: a code is redeemable iff it is active,
// not expired, and under its max_uses. The derivation happens at redemption
// time inside the redeeming transaction.
type InviteService struct {
	db    *sql.DB
	quota QuotaGuard
}

// NewInviteService creates a new InviteService
func NewInviteService(db *sql.DB, quota QuotaGuard) *InviteService {
	return &InviteService{db: db, quota: quota}
}

// codeAlphabet avoids ambiguous characters (0/O, 1/I/L) for codes that get
// read aloud or typed from a slide.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 10

func generateCode() (string, error) {
	// Rejection sampling: bytes at or above the largest multiple of the
	// alphabet size are discarded, keeping every character equally likely.
	limit := byte(256 - 256%len(codeAlphabet))
	code := make([]byte, 0, codeLength)
	for len(code) < codeLength {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate invite code: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}

// Create issues a new invite code for the institution. maxUses and expiresAt
// are optional; nil means unlimited uses / no expiry. Callers authorize
// ManageInviteCodes before calling.
func (s *InviteService) Create(ctx context.Context, createdBy, institutionID, label string, maxUses *int, expiresAt *time.Time) (*InviteCode, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	invite := &InviteCode{
		ID:            uuid.New().String(),
		InstitutionID: institutionID,
		Code:          code,
		Token:         uuid.New().String(),
		Label:         label,
		MaxUses:       maxUses,
		ExpiresAt:     expiresAt,
		IsActive:      true,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invite_codes (id, institution_id, code, token, label, max_uses, use_count, expires_at, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10)
	`, invite.ID, invite.InstitutionID, invite.Code, invite.Token, invite.Label,
		nullableInt(invite.MaxUses), nullableTime(invite.ExpiresAt), invite.IsActive, invite.CreatedBy, invite.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invite code: %w", err)
	}
	return invite, nil
}

// Redeem onboards the user into the code's institution. The whole operation
// is one atomic unit: the conditional use_count increment, the user-quota
// reservation, and the tenant assignment commit or roll back together, so
// concurrent redemptions can overshoot neither max_uses nor max_users.
//
// An invalid code fails with *InviteInvalidError carrying the specific
// reason (not-found, inactive, expired, exhausted).
func (s *InviteService) Redeem(ctx context.Context, userID, code string) (*InviteCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	invite := &InviteCode{Code: code}
	var maxUses sql.NullInt64
	var expiresAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, institution_id, COALESCE(label, ''), max_uses, use_count, expires_at, is_active
		FROM invite_codes
		WHERE code = $1
		FOR UPDATE
	`, code).Scan(&invite.ID, &invite.InstitutionID, &invite.Label, &maxUses, &invite.UseCount, &expiresAt, &invite.IsActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &InviteInvalidError{Reason: InviteNotFound}
		}
		return nil, fmt.Errorf("failed to load invite code: %w", err)
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		invite.MaxUses = &n
	}
	if expiresAt.Valid {
		invite.ExpiresAt = &expiresAt.Time
	}

	// A user already inside an institution cannot redeem into another one;
	// tenant references only move through an explicit transfer flow.
	var currentTenant sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT institution_id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&currentTenant)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load redeeming user: %w", err)
	}
	if currentTenant.Valid && currentTenant.String != "" {
		return nil, fmt.Errorf("user already belongs to an institution: %w", ErrConflict)
	}

	// Conditional increment: the WHERE clause re-derives validity so the
	// row we locked is judged by its current state, not a cached one.
	result, err := tx.ExecContext(ctx, `
		UPDATE invite_codes
		SET use_count = use_count + 1
		WHERE id = $1
		AND is_active
		AND (expires_at IS NULL OR expires_at > NOW())
		AND (max_uses IS NULL OR use_count < max_uses)
	`, invite.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume invite code: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, &InviteInvalidError{Reason: classifyInvite(invite)}
	}
	invite.UseCount++

	// Quota failure aborts the transaction, so the increment above never
	// becomes visible.
	if err := s.quota.Reserve(ctx, tx, invite.InstitutionID, QuotaUsers, 1); err != nil {
		return nil, err
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE users
		SET institution_id = $1, updated_at = NOW()
		WHERE id = $2 AND institution_id IS NULL
	`, invite.InstitutionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign user to institution: %w", err)
	}
	rows, _ = result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("user already belongs to an institution: %w", ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	log.Info().Str("invite_id", invite.ID).Str("user_id", userID).Str("institution_id", invite.InstitutionID).Msg("invite code redeemed")
	return invite, nil
}

// classifyInvite explains why a code that exists failed the conditional
// update. Precedence: inactive, then expired, then exhausted.
func classifyInvite(invite *InviteCode) InviteFailure {
	switch {
	case !invite.IsActive:
		return InviteInactive
	case invite.ExpiresAt != nil && !invite.ExpiresAt.After(time.Now()):
		return InviteExpired
	case invite.MaxUses != nil && invite.UseCount >= *invite.MaxUses:
		return InviteExhausted
	default:
		// The row changed between the locked read and the update; treat
		// the code as exhausted rather than invent a new reason.
		return InviteExhausted
	}
}

// Deactivate turns a code off. Already-inactive codes are a no-op.
func (s *InviteService) Deactivate(ctx context.Context, inviteID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invite_codes SET is_active = false WHERE id = $1
	`, inviteID)
	if err != nil {
		return fmt.Errorf("failed to deactivate invite code: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByInstitution returns the institution's invite codes, newest first.
func (s *InviteService) ListByInstitution(ctx context.Context, institutionID string) ([]InviteCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, institution_id, code, COALESCE(label, ''), max_uses, use_count, expires_at, is_active, COALESCE(created_by, ''), created_at
		FROM invite_codes
		WHERE institution_id = $1
		ORDER BY created_at DESC
	`, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invite codes: %w", err)
	}
	defer rows.Close()

	var invites []InviteCode
	for rows.Next() {
		var invite InviteCode
		var maxUses sql.NullInt64
		var expiresAt sql.NullTime
		if err := rows.Scan(&invite.ID, &invite.InstitutionID, &invite.Code, &invite.Label,
			&maxUses, &invite.UseCount, &expiresAt, &invite.IsActive, &invite.CreatedBy, &invite.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invite code: %w", err)
		}
		if maxUses.Valid {
			n := int(maxUses.Int64)
			invite.MaxUses = &n
		}
		if expiresAt.Valid {
			invite.ExpiresAt = &expiresAt.Time
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
