package stripe

import (
	"context"
	"time"

	"github.com/healthchat/healthchat-server/internal/metrics"
	"github.com/healthchat/healthchat-server/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	expiryCheckInterval = 1 * time.Hour
	eventRetention      = 90 * 24 * time.Hour
)

// ExpiryEnforcer periodically flips subscriptions whose paid window lapsed
// without a renewal event to inactive, and prunes old processed-event
// records.
type ExpiryEnforcer struct {
	store    *store.Store
	interval time.Duration
}

// NewExpiryEnforcer creates an ExpiryEnforcer.
func NewExpiryEnforcer(st *store.Store) *ExpiryEnforcer {
	return &ExpiryEnforcer{store: st, interval: expiryCheckInterval}
}

// Run starts the enforcement loop. It blocks until ctx is cancelled.
func (e *ExpiryEnforcer) Run(ctx context.Context) {
	log.Info().Msg("Subscription expiry enforcer started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Subscription expiry enforcer stopped")
			return
		case <-ticker.C:
			e.Enforce(ctx)
		}
	}
}

// Enforce runs one sweep. Exported so a sweep can run at startup before the
// ticker fires.
func (e *ExpiryEnforcer) Enforce(ctx context.Context) {
	now := time.Now().UTC()

	orgs, err := e.store.ListExpiredOrganizations(now)
	if err != nil {
		log.Error().Err(err).Msg("Expiry enforcer: failed to list expired organizations")
		return
	}
	for _, org := range orgs {
		if ctx.Err() != nil {
			return
		}
		// Conditional on the event_ts we listed: a renewal webhook that
		// landed after the scan bumps it and wins.
		expired, err := e.store.ExpireOrgSubscription(org.ID, org.Subscription.EventTS)
		if err != nil {
			log.Error().Err(err).Str("org_id", org.ID).Msg("Expiry enforcer: failed to deactivate organization")
			continue
		}
		if !expired {
			log.Info().Str("org_id", org.ID).Msg("Organization renewed during expiry sweep, skipping")
			continue
		}
		metrics.ExpiredSubscriptionsTotal.Inc()
		log.Warn().
			Str("org_id", org.ID).
			Str("plan", org.Subscription.Plan).
			Time("expired_at", derefTime(org.Subscription.ExpiresAt)).
			Msg("Organization subscription expired without renewal")
	}

	// Individual subscribers; organization members were already handled by
	// the fan-out above.
	n, err := e.store.ExpireLapsedSubscriptions(now)
	if err != nil {
		log.Error().Err(err).Msg("Expiry enforcer: failed to expire user subscriptions")
		return
	}
	if n > 0 {
		metrics.ExpiredSubscriptionsTotal.Add(float64(n))
		log.Warn().Int64("users", n).Msg("User subscriptions expired without renewal")
	}

	if pruned, err := e.store.PruneEvents(now.Add(-eventRetention)); err != nil {
		log.Error().Err(err).Msg("Expiry enforcer: failed to prune processed events")
	} else if pruned > 0 {
		log.Debug().Int64("pruned", pruned).Msg("Pruned old processed webhook events")
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
