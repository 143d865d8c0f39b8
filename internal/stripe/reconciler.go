package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/healthchat/healthchat-server/internal/auditlog"
	"github.com/healthchat/healthchat-server/internal/metrics"
	"github.com/healthchat/healthchat-server/internal/plans"
	"github.com/healthchat/healthchat-server/internal/store"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
)

// Reconciliation outcomes recorded per event.
const (
	outcomeApplied         = "applied"
	outcomeDuplicate       = "duplicate"
	outcomeStale           = "stale"
	outcomeUnmatched       = "unmatched"
	outcomeUnresolvedPrice = "unresolved_price"
	outcomeMissingFields   = "missing_fields"
	outcomeError           = "error"
)

// Reconciler applies Stripe lifecycle events to organization and user
// subscription state. All writes for a customer are serialized and each
// event is applied at most once.
type Reconciler struct {
	store *store.Store
	locks *keyedLocks

	// retrieveSession fetches a checkout session with its line items
	// expanded; the webhook payload does not carry them. Overridable in
	// tests.
	retrieveSession func(id string) ([]LineItem, error)
}

// NewReconciler creates a Reconciler backed by the given store.
func NewReconciler(st *store.Store) *Reconciler {
	return &Reconciler{
		store:           st,
		locks:           newKeyedLocks(),
		retrieveSession: fetchSessionLineItems,
	}
}

func fetchSessionLineItems(id string) ([]LineItem, error) {
	params := &stripelib.CheckoutSessionParams{}
	params.AddExpand("line_items")
	sess, err := checkoutsession.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}
	var items []LineItem
	if sess.LineItems != nil {
		for _, li := range sess.LineItems.Data {
			if li == nil || li.Price == nil {
				continue
			}
			items = append(items, LineItem{PriceID: li.Price.ID, Quantity: li.Quantity})
		}
	}
	return items, nil
}

// alreadyHandled reports whether the event should be skipped: "duplicate"
// for redelivery of a recorded event, "stale" for an event older than the
// newest one applied for the customer. Callers must hold the customer lock.
func (r *Reconciler) alreadyHandled(eventID, customerID string, eventTS int64) (string, error) {
	seen, err := r.store.HasProcessedEvent(eventID)
	if err != nil {
		return "", fmt.Errorf("check processed event: %w", err)
	}
	if seen {
		return outcomeDuplicate, nil
	}
	latest, err := r.store.LatestEventTS(customerID)
	if err != nil {
		return "", fmt.Errorf("latest event timestamp: %w", err)
	}
	if eventTS < latest {
		return outcomeStale, nil
	}
	return "", nil
}

func (r *Reconciler) record(eventID, eventType, customerID string, eventTS int64, outcome string) {
	if err := r.store.RecordEvent(store.WebhookEvent{
		ID:         eventID,
		Type:       eventType,
		CustomerID: customerID,
		Created:    eventTS,
		Outcome:    outcome,
	}); err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to record processed event")
	}
}

// HandleCheckout applies a checkout.session.completed event: the purchased
// plan goes live on the buyer's organization (fanned out to every member) or
// on their individual user record.
func (r *Reconciler) HandleCheckout(ctx context.Context, eventID string, eventTS int64, session CheckoutSession) (err error) {
	const eventType = "checkout.session.completed"
	outcome := outcomeApplied
	defer func() {
		if err != nil {
			outcome = outcomeError
		}
		metrics.ReconcileTotal.WithLabelValues(eventType, outcome).Inc()
	}()

	customerID := strings.TrimSpace(session.Customer)
	if customerID == "" {
		return fmt.Errorf("checkout session missing customer")
	}
	if !IsSafeStripeID(customerID) {
		return fmt.Errorf("invalid stripe customer id: %s", customerID)
	}

	unlock := r.locks.lock(customerID)
	defer unlock()

	if outcome, err = r.alreadyHandled(eventID, customerID, eventTS); err != nil {
		return err
	} else if outcome != "" {
		log.Info().
			Str("event_id", eventID).
			Str("customer_id", customerID).
			Str("outcome", outcome).
			Msg("Checkout event skipped")
		r.record(eventID, eventType, customerID, eventTS, outcome)
		return nil
	}
	outcome = outcomeApplied

	if len(session.LineItems) == 0 && r.retrieveSession != nil {
		items, fetchErr := r.retrieveSession(session.ID)
		if fetchErr != nil {
			return fmt.Errorf("fetch line items: %w", fetchErr)
		}
		session.LineItems = items
	}

	priceID, seats := session.FirstPricedItem()
	plan, ok := plans.ResolveByPriceID(priceID)
	if !ok {
		log.Warn().
			Str("event_id", eventID).
			Str("customer_id", customerID).
			Str("price_id", priceID).
			Msg("Checkout price does not map to a known plan, skipping")
		outcome = outcomeUnresolvedPrice
		r.record(eventID, eventType, customerID, eventTS, outcome)
		return nil
	}
	if seats < 1 {
		seats = 1
	}

	email := strings.ToLower(strings.TrimSpace(session.CustomerEmail))
	if email == "" {
		email = strings.ToLower(strings.TrimSpace(session.CustomerDetails.Email))
	}
	if email == "" {
		// Without the payer email the buyer cannot be resolved to a tenant;
		// guessing via the customer ID could rewrite the wrong record.
		log.Warn().
			Str("event_id", eventID).
			Str("customer_id", customerID).
			Msg("Checkout session has no payer email, skipping")
		outcome = outcomeMissingFields
		r.record(eventID, eventType, customerID, eventTS, outcome)
		return nil
	}

	started := time.Unix(eventTS, 0).UTC()
	expires := ExpiryFrom(started)
	sub := store.Subscription{
		Plan:                 plan.Name,
		Status:               store.SubscriptionActive,
		StartedAt:            started,
		ExpiresAt:            &expires,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: strings.TrimSpace(session.Subscription),
		Seats:                seats,
		EventTS:              eventTS,
	}

	org, err := r.store.GetOrgByAdminEmail(email)
	if err != nil {
		return fmt.Errorf("lookup organization by admin: %w", err)
	}

	switch {
	case org != nil:
		usedSeats, applyErr := r.store.ApplyOrgSubscription(org.ID, sub)
		if applyErr != nil {
			return fmt.Errorf("apply organization subscription: %w", applyErr)
		}
		auditlog.Record(auditlog.Event{
			Action:  auditlog.ActionSubscriptionSync,
			OrgID:   org.ID,
			Subject: customerID,
			Detail:  plan.Name,
		})
		log.Info().
			Str("org_id", org.ID).
			Str("customer_id", customerID).
			Str("plan", plan.Name).
			Int64("seats", seats).
			Int64("used_seats", usedSeats).
			Msg("Organization subscription provisioned from checkout")

	default:
		user, lookupErr := r.store.GetUserByEmail(email)
		if lookupErr != nil {
			return fmt.Errorf("lookup user by email: %w", lookupErr)
		}
		if user == nil {
			user, lookupErr = r.store.GetUserByStripeCustomerID(customerID)
			if lookupErr != nil {
				return fmt.Errorf("lookup user by customer: %w", lookupErr)
			}
		}
		if user == nil {
			log.Warn().
				Str("event_id", eventID).
				Str("customer_id", customerID).
				Str("email", email).
				Msg("Checkout matched no organization or user")
			outcome = outcomeUnmatched
			r.record(eventID, eventType, customerID, eventTS, outcome)
			return nil
		}
		if updateErr := r.store.UpdateUserSubscription(user.ID, sub); updateErr != nil {
			return fmt.Errorf("update user subscription: %w", updateErr)
		}
		log.Info().
			Str("user_id", user.ID).
			Str("customer_id", customerID).
			Str("plan", plan.Name).
			Msg("User subscription provisioned from checkout")
	}

	r.record(eventID, eventType, customerID, eventTS, outcome)
	return nil
}

// HandleSubscriptionUpdated syncs plan, status, seats, and period when a
// subscription changes.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, eventID string, eventTS int64, sub Subscription) (err error) {
	const eventType = "customer.subscription.updated"
	outcome := outcomeApplied
	defer func() {
		if err != nil {
			outcome = outcomeError
		}
		metrics.ReconcileTotal.WithLabelValues(eventType, outcome).Inc()
	}()

	customerID := strings.TrimSpace(sub.Customer)
	if customerID == "" {
		return fmt.Errorf("subscription missing customer")
	}

	unlock := r.locks.lock(customerID)
	defer unlock()

	if outcome, err = r.alreadyHandled(eventID, customerID, eventTS); err != nil {
		return err
	} else if outcome != "" {
		log.Info().
			Str("event_id", eventID).
			Str("customer_id", customerID).
			Str("outcome", outcome).
			Msg("Subscription update skipped")
		r.record(eventID, eventType, customerID, eventTS, outcome)
		return nil
	}
	outcome = outcomeApplied

	priceID := sub.FirstPriceID()
	plan, ok := plans.ResolveByPriceID(priceID)
	if !ok {
		log.Warn().
			Str("event_id", eventID).
			Str("customer_id", customerID).
			Str("price_id", priceID).
			Msg("Subscription price does not map to a known plan, skipping")
		outcome = outcomeUnresolvedPrice
		r.record(eventID, eventType, customerID, eventTS, outcome)
		return nil
	}

	seats := sub.FirstQuantity()
	if seats < 1 {
		seats = 1
	}

	started := time.Unix(eventTS, 0).UTC()
	expires := ExpiryFrom(started)
	next := store.Subscription{
		Plan:                 plan.Name,
		Status:               MapSubscriptionStatus(sub.Status),
		StartedAt:            started,
		ExpiresAt:            &expires,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: strings.TrimSpace(sub.ID),
		Seats:                seats,
		EventTS:              eventTS,
	}

	org, err := r.store.GetOrgByStripeCustomerID(customerID)
	if err != nil {
		return fmt.Errorf("lookup organization by customer: %w", err)
	}

	switch {
	case org != nil:
		usedSeats, applyErr := r.store.ApplyOrgSubscription(org.ID, next)
		if applyErr != nil {
			return fmt.Errorf("apply organization subscription: %w", applyErr)
		}
		auditlog.Record(auditlog.Event{
			Action:  auditlog.ActionSubscriptionSync,
			OrgID:   org.ID,
			Subject: customerID,
			Detail:  fmt.Sprintf("%s/%s", plan.Name, next.Status),
		})
		log.Info().
			Str("org_id", org.ID).
			Str("customer_id", customerID).
			Str("plan", plan.Name).
			Str("status", string(next.Status)).
			Int64("seats", seats).
			Int64("used_seats", usedSeats).
			Msg("Organization subscription updated")

	default:
		user, lookupErr := r.store.GetUserByStripeCustomerID(customerID)
		if lookupErr != nil {
			return fmt.Errorf("lookup user by customer: %w", lookupErr)
		}
		if user == nil {
			log.Warn().
				Str("event_id", eventID).
				Str("customer_id", customerID).
				Msg("Subscription update matched no organization or user")
			outcome = outcomeUnmatched
			r.record(eventID, eventType, customerID, eventTS, outcome)
			return nil
		}
		if updateErr := r.store.UpdateUserSubscription(user.ID, next); updateErr != nil {
			return fmt.Errorf("update user subscription: %w", updateErr)
		}
		log.Info().
			Str("user_id", user.ID).
			Str("customer_id", customerID).
			Str("plan", plan.Name).
			Str("status", string(next.Status)).
			Msg("User subscription updated")
	}

	r.record(eventID, eventType, customerID, eventTS, outcome)
	return nil
}

// HandleSubscriptionDeleted drops the subscription back to the free tier.
// Organizations lose their seat allocation and every member is downgraded;
// individual users get a cleared free-tier record.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, eventID string, eventTS int64, sub Subscription) (err error) {
	const eventType = "customer.subscription.deleted"
	outcome := outcomeApplied
	defer func() {
		if err != nil {
			outcome = outcomeError
		}
		metrics.ReconcileTotal.WithLabelValues(eventType, outcome).Inc()
	}()

	customerID := strings.TrimSpace(sub.Customer)
	if customerID == "" {
		return fmt.Errorf("subscription missing customer")
	}

	unlock := r.locks.lock(customerID)
	defer unlock()

	if outcome, err = r.alreadyHandled(eventID, customerID, eventTS); err != nil {
		return err
	} else if outcome != "" {
		log.Info().
			Str("event_id", eventID).
			Str("customer_id", customerID).
			Str("outcome", outcome).
			Msg("Subscription deletion skipped")
		r.record(eventID, eventType, customerID, eventTS, outcome)
		return nil
	}
	outcome = outcomeApplied

	org, err := r.store.GetOrgByStripeCustomerID(customerID)
	if err != nil {
		return fmt.Errorf("lookup organization by customer: %w", err)
	}

	switch {
	case org != nil:
		usedSeats, resetErr := r.store.ResetOrgSubscription(org.ID, eventTS)
		if resetErr != nil {
			return fmt.Errorf("reset organization subscription: %w", resetErr)
		}
		auditlog.Record(auditlog.Event{
			Action:  auditlog.ActionSubscriptionEnd,
			OrgID:   org.ID,
			Subject: customerID,
		})
		log.Info().
			Str("org_id", org.ID).
			Str("customer_id", customerID).
			Int64("used_seats", usedSeats).
			Msg("Organization subscription cancelled, members downgraded")

	default:
		user, lookupErr := r.store.GetUserByStripeCustomerID(customerID)
		if lookupErr != nil {
			return fmt.Errorf("lookup user by customer: %w", lookupErr)
		}
		if user == nil {
			log.Warn().
				Str("event_id", eventID).
				Str("customer_id", customerID).
				Msg("Subscription deletion matched no organization or user")
			outcome = outcomeUnmatched
			r.record(eventID, eventType, customerID, eventTS, outcome)
			return nil
		}
		if updateErr := r.store.UpdateUserSubscription(user.ID, store.FreeSubscription(eventTS)); updateErr != nil {
			return fmt.Errorf("reset user subscription: %w", updateErr)
		}
		log.Info().
			Str("user_id", user.ID).
			Str("customer_id", customerID).
			Msg("User subscription cancelled")
	}

	r.record(eventID, eventType, customerID, eventTS, outcome)
	return nil
}
