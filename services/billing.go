package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/haiphandev/acadflow/authz"
)

// PlanSnapshot is the billing view of an institution's current plan. The
// engine consumes it read-only; plan fields are mutated only by billing
// events and platform admin overrides.
type PlanSnapshot struct {
	PlanType    string `json:"plan_type"`
	MaxUsers    *int   `json:"max_users"`
	MaxProjects *int   `json:"max_projects"`
}

// planLimits is the catalog of defaults per plan type. Explicit
// per-institution overrides take precedence over these.
var planLimits = map[string]struct {
	maxUsers    *int
	maxProjects *int
}{
	authz.PlanFree:       {maxUsers: intPtr(5), maxProjects: intPtr(3)},
	authz.PlanStarter:    {maxUsers: intPtr(25), maxProjects: intPtr(15)},
	authz.PlanTeam:       {maxUsers: intPtr(100), maxProjects: intPtr(60)},
	authz.PlanEnterprise: {}, // unlimited
}

func intPtr(n int) *int { return &n }

const planCacheTTL = 5 * time.Minute

// BillingService supplies plan snapshots. Snapshots are cached in redis for
// display paths; the quota guard never reads the cache - it locks the
// institution row inside its own transaction.
type BillingService struct {
	PG    *sql.DB
	Redis *redis.Client
}

// NewBillingService creates a new BillingService
func NewBillingService(pg *sql.DB, redisClient *redis.Client) *BillingService {
	return &BillingService{PG: pg, Redis: redisClient}
}

// Ensure BillingService implements authz.PlanCatalog
var _ authz.PlanCatalog = (*BillingService)(nil)

// Limits returns the catalog defaults for a plan type.
func (s *BillingService) Limits(planType string) (*int, *int, error) {
	limits, ok := planLimits[planType]
	if !ok {
		return nil, nil, fmt.Errorf("unknown plan type %q", planType)
	}
	return limits.maxUsers, limits.maxProjects, nil
}

func planCacheKey(institutionID string) string {
	return "plan:" + institutionID
}

// CurrentPlan returns the institution's plan snapshot, read-through cached.
func (s *BillingService) CurrentPlan(ctx context.Context, institutionID string) (*PlanSnapshot, error) {
	if s.Redis != nil {
		cached, err := s.Redis.Get(ctx, planCacheKey(institutionID)).Result()
		if err == nil {
			var snapshot PlanSnapshot
			if err := json.Unmarshal([]byte(cached), &snapshot); err == nil {
				return &snapshot, nil
			}
			// Corrupt cache entry: fall through to the database.
			log.Warn().Str("institution_id", institutionID).Msg("discarding unreadable plan cache entry")
		}
	}

	snapshot := &PlanSnapshot{}
	var maxUsers, maxProjects sql.NullInt64
	err := s.PG.QueryRowContext(ctx, `
		SELECT plan_type, max_users, max_projects FROM institutions WHERE id = $1
	`, institutionID).Scan(&snapshot.PlanType, &maxUsers, &maxProjects)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, authz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load plan snapshot: %w", err)
	}
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		snapshot.MaxUsers = &n
	}
	if maxProjects.Valid {
		n := int(maxProjects.Int64)
		snapshot.MaxProjects = &n
	}

	if s.Redis != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			if err := s.Redis.Set(ctx, planCacheKey(institutionID), data, planCacheTTL).Err(); err != nil {
				log.Warn().Err(err).Str("institution_id", institutionID).Msg("failed to cache plan snapshot")
			}
		}
	}
	return snapshot, nil
}

// InvalidatePlan drops the cached snapshot. Called on every plan mutation
// (billing events, platform admin overrides) so display paths never show a
// stale tier.
func (s *BillingService) InvalidatePlan(ctx context.Context, institutionID string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del(ctx, planCacheKey(institutionID)).Err(); err != nil {
		log.Warn().Err(err).Str("institution_id", institutionID).Msg("failed to invalidate plan cache")
	}
}
