package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// SimpleQuotaGuard implements QuotaGuard with compute-on-read counts.
//
// Counts are recomputed from live rows inside the caller's transaction
// rather than kept in a running counter, so they cannot drift. The
// institution row is locked FOR UPDATE first, which serializes concurrent
// reservations against the same tenant.
type SimpleQuotaGuard struct{}

// NewSimpleQuotaGuard creates a new SimpleQuotaGuard
func NewSimpleQuotaGuard() *SimpleQuotaGuard {
	return &SimpleQuotaGuard{}
}

// Ensure SimpleQuotaGuard implements QuotaGuard
var _ QuotaGuard = (*SimpleQuotaGuard)(nil)

// Reserve checks that adding delta rows of the counted kind keeps the tenant
// within its plan limit. A nil limit column means unlimited. Equality to the
// limit is allowed; current + delta > limit is rejected with
// *QuotaExceededError carrying the limit and current count.
//
// Plan downgrades never evict overage: an over-limit tenant only has new
// growth blocked until it is compliant again.
func (g *SimpleQuotaGuard) Reserve(ctx context.Context, tx *sql.Tx, tenantID string, kind QuotaKind, delta int) error {
	var maxUsers, maxProjects sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT max_users, max_projects FROM institutions
		WHERE id = $1
		FOR UPDATE
	`, tenantID).Scan(&maxUsers, &maxProjects)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock institution for quota check: %w", err)
	}

	var limit sql.NullInt64
	var countQuery string
	switch kind {
	case QuotaUsers:
		limit = maxUsers
		countQuery = `SELECT COUNT(*) FROM users WHERE institution_id = $1`
	case QuotaProjects:
		limit = maxProjects
		countQuery = `SELECT COUNT(*) FROM projects WHERE institution_id = $1`
	default:
		return fmt.Errorf("unknown quota kind %q", kind)
	}

	if !limit.Valid {
		return nil // unlimited
	}

	var current int
	if err := tx.QueryRowContext(ctx, countQuery, tenantID).Scan(&current); err != nil {
		return fmt.Errorf("failed to count %s for institution %s: %w", kind, tenantID, err)
	}

	if current+delta > int(limit.Int64) {
		return &QuotaExceededError{Kind: kind, Limit: int(limit.Int64), Current: current}
	}
	return nil
}
