package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/haiphandev/acadflow/authz"
)

// PlatformAdminService manages the platform admin identity space:
// credential hashing and the must-change-password flag. Platform admins
// manage institutions, never tenant data.
type PlatformAdminService struct {
	PG *sql.DB
}

// NewPlatformAdminService creates a new PlatformAdminService
func NewPlatformAdminService(pg *sql.DB) *PlatformAdminService {
	return &PlatformAdminService{PG: pg}
}

// HashPassword creates a bcrypt hash of the password
func (s *PlatformAdminService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password against its hash
func (s *PlatformAdminService) CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ChangePassword rotates a platform admin's password and clears the
// must-change-password interrupt. The caller authorizes ChangePassword on
// the admin's own identity first.
func (s *PlatformAdminService) ChangePassword(ctx context.Context, adminID, newPassword string) error {
	if len(newPassword) < 12 {
		return fmt.Errorf("password must be at least 12 characters: %w", authz.ErrConflict)
	}

	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.PG.ExecContext(ctx, `
		UPDATE platform_admins
		SET password_hash = $1, must_change_password = false, updated_at = NOW()
		WHERE id = $2
	`, hash, adminID)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return authz.ErrNotFound
	}

	log.Info().Str("admin_id", adminID).Msg("platform admin password changed")
	return nil
}

// RequirePasswordChange sets the interrupt, typically after a credential
// reset. Until the admin rotates the password, every check except
// ChangePassword denies.
func (s *PlatformAdminService) RequirePasswordChange(ctx context.Context, adminID string) error {
	result, err := s.PG.ExecContext(ctx, `
		UPDATE platform_admins SET must_change_password = true, updated_at = NOW() WHERE id = $1
	`, adminID)
	if err != nil {
		return fmt.Errorf("failed to flag password change: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// Get retrieves a platform admin by ID
func (s *PlatformAdminService) Get(ctx context.Context, adminID string) (*authz.PlatformAdmin, error) {
	var admin authz.PlatformAdmin
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, email, password_hash, must_change_password, created_at, updated_at
		FROM platform_admins
		WHERE id = $1
	`, adminID).Scan(&admin.ID, &admin.Email, &admin.PasswordHash, &admin.MustChangePassword, &admin.CreatedAt, &admin.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, authz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get platform admin: %w", err)
	}
	return &admin, nil
}
