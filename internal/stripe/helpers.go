package stripe

import (
	"time"

	"github.com/healthchat/healthchat-server/internal/store"
)

// subscriptionPeriod is the paid window granted per billing cycle. The expiry
// sweeper flips records inactive once this window lapses without renewal.
const subscriptionPeriod = 30 * 24 * time.Hour

// MapSubscriptionStatus converts a Stripe subscription status string to the
// internal activation state. Only active and trialing grant access; unknown
// statuses fail closed.
func MapSubscriptionStatus(status string) store.SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return store.SubscriptionActive
	default:
		return store.SubscriptionInactive
	}
}

// ExpiryFrom returns the expiry that accompanies a subscription period
// starting at start.
func ExpiryFrom(start time.Time) time.Time {
	return start.Add(subscriptionPeriod).UTC()
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 6 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
