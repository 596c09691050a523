package workers

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
)

// InviteSweeper periodically deactivates expired invite codes. Validity is
// already derived at redemption time, so the sweeper is housekeeping: it
// keeps listings honest and lets indexes skip dead codes.
type InviteSweeper struct {
	PG       *sql.DB
	Interval time.Duration
}

func NewInviteSweeper(pg *sql.DB, interval time.Duration) *InviteSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &InviteSweeper{PG: pg, Interval: interval}
}

// Start runs the sweep loop until the context is cancelled.
func (w *InviteSweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", w.Interval).Msg("invite sweeper started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("invite sweeper stopped")
			return
		case <-ticker.C:
			if n, err := w.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("invite sweep failed")
			} else if n > 0 {
				log.Info().Int64("deactivated", n).Msg("expired invite codes deactivated")
			}
		}
	}
}

// SweepOnce deactivates every active code whose expiry has passed and
// returns how many rows changed.
func (w *InviteSweeper) SweepOnce(ctx context.Context) (int64, error) {
	result, err := w.PG.ExecContext(ctx, `
		UPDATE invite_codes
		SET is_active = false
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
