package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"trivia-room-service/internal/domain"
)

// QuotaStatus is the result of a guest quota check.
type QuotaStatus struct {
	// Count is the highest usage observed across the player's identifiers.
	Count   int
	Blocked bool
}

// QuotaGuard enforces the daily answered-question limit for unauthenticated players.
type QuotaGuard struct {
	store  QuotaStore
	limit  int
	expiry time.Duration
	clock  clockwork.Clock
}

func NewQuotaGuard(store QuotaStore, limit int, expiry time.Duration, clock clockwork.Clock) *QuotaGuard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuotaGuard{store: store, limit: limit, expiry: expiry, clock: clock}
}

// Limit is the configured daily limit; zero or less disables the guard.
func (g *QuotaGuard) Limit() int {
	return g.limit
}

func (g *QuotaGuard) today() string {
	return g.clock.Now().UTC().Format(dateLayout)
}

// Check reads today's count for every known identifier in parallel. Any
// identifier at the limit blocks the player. Read failures count as zero usage.
func (g *QuotaGuard) Check(ctx context.Context, player domain.Player) QuotaStatus {
	if g == nil || g.limit <= 0 || player.Authenticated {
		return QuotaStatus{}
	}
	ids := player.QuotaIdentifiers()
	counts := make([]int, len(ids))
	date := g.today()

	eg, egCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			n, err := g.store.GetCount(egCtx, id.Type, id.Value, date)
			if err != nil {
				// fail open, see DESIGN.md
				log.Warn().Err(err).
					Str("player_id", player.ID).
					Str("identifier_type", id.Type).
					Msg("quota read failed, treating as unused")
				return nil
			}
			counts[i] = n
			return nil
		})
	}
	_ = eg.Wait()

	status := QuotaStatus{}
	for _, n := range counts {
		if n > status.Count {
			status.Count = n
		}
		if n >= g.limit {
			status.Blocked = true
		}
	}
	return status
}

// Increment bumps the counter of every known identifier in parallel.
func (g *QuotaGuard) Increment(ctx context.Context, player domain.Player) error {
	if g == nil || g.limit <= 0 || player.Authenticated {
		return nil
	}
	date := g.today()
	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range player.QuotaIdentifiers() {
		id := id
		eg.Go(func() error {
			_, err := g.store.Increment(egCtx, id.Type, id.Value, date, g.expiry)
			return err
		})
	}
	return eg.Wait()
}
