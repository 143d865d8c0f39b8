package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/healthchat/healthchat-server/internal/metrics"
	"github.com/healthchat/healthchat-server/internal/store"
)

const orgStatusMetricsInterval = 30 * time.Second

func runOrgStatusMetrics(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(orgStatusMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateOrgStatusGauges(st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateOrgStatusGauges(st)
		}
	}
}

func updateOrgStatusGauges(st *store.Store) {
	counts, err := st.CountOrgsByStatus()
	if err != nil {
		log.Error().Err(err).Msg("Failed to update org status metrics")
		return
	}

	// Ensure a stable label set even when a status has no rows yet.
	known := []store.SubscriptionStatus{
		store.SubscriptionActive,
		store.SubscriptionInactive,
	}
	for _, status := range known {
		metrics.OrgsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
