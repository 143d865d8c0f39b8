package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/healthchat/healthchat-server/internal/plans"
	"github.com/healthchat/healthchat-server/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "healthchat.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestReconciler(t *testing.T, s *store.Store) *Reconciler {
	t.Helper()
	r := NewReconciler(s)
	r.retrieveSession = func(id string) ([]LineItem, error) {
		t.Fatalf("unexpected session retrieval for %s", id)
		return nil, nil
	}
	return r
}

func seedOrg(t *testing.T, s *store.Store, orgID, adminEmail string, members ...string) {
	t.Helper()
	if err := s.CreateUser(&store.User{ID: "u_" + orgID, Email: adminEmail}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateOrganization(&store.Organization{
		ID:           orgID,
		Name:         "Test Org",
		Subscription: store.FreeSubscription(0),
	}, adminEmail); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	for i, m := range members {
		if err := s.CreateUser(&store.User{ID: fmt.Sprintf("u_%s_%d", orgID, i), Email: m}); err != nil {
			t.Fatal(err)
		}
		if err := s.AddMember(orgID, m, store.RoleMember); err != nil {
			t.Fatal(err)
		}
	}
}

func priceIDFor(t *testing.T, planName string) string {
	t.Helper()
	p, ok := plans.ByName(planName)
	if !ok {
		t.Fatalf("unknown plan %q", planName)
	}
	return p.StripePriceID
}

func checkoutEvent(customer, email, priceID string, qty int64) CheckoutSession {
	return CheckoutSession{
		ID:            "cs_test_1",
		Mode:          "subscription",
		Customer:      customer,
		Subscription:  "sub_test_1",
		CustomerEmail: email,
		LineItems:     []LineItem{{PriceID: priceID, Quantity: qty}},
	}
}

func subEvent(t *testing.T, customer, status, priceID string, qty int64) Subscription {
	t.Helper()
	payload := fmt.Sprintf(`{"id":"sub_test_1","customer":%q,"status":%q,"items":{"data":[{"quantity":%d,"price":{"id":%q}}]}}`,
		customer, status, qty, priceID)
	var s Subscription
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		t.Fatalf("unmarshal subscription: %v", err)
	}
	return s
}

func TestHandleCheckout_OrgAdmin(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_CHECKOUT01", "admin@acme.com", "bob@acme.com")

	event := checkoutEvent("cus_acme", "Admin@Acme.com", priceIDFor(t, plans.PlanPro), 5)
	if err := r.HandleCheckout(context.Background(), "evt_1", 1000, event); err != nil {
		t.Fatalf("HandleCheckout: %v", err)
	}

	org, err := s.GetOrganization("org_CHECKOUT01")
	if err != nil {
		t.Fatal(err)
	}
	if org.Subscription.Plan != plans.PlanPro {
		t.Errorf("plan = %q, want %q", org.Subscription.Plan, plans.PlanPro)
	}
	if org.Subscription.Status != store.SubscriptionActive {
		t.Errorf("status = %q, want Active", org.Subscription.Status)
	}
	if org.Subscription.Seats != 5 || org.Subscription.UsedSeats != 2 {
		t.Errorf("seats = %d used = %d, want 5/2", org.Subscription.Seats, org.Subscription.UsedSeats)
	}
	if org.Subscription.StripeCustomerID != "cus_acme" {
		t.Errorf("customer = %q", org.Subscription.StripeCustomerID)
	}
	if org.Subscription.ExpiresAt == nil {
		t.Fatal("expiry should be set")
	}
	wantExpiry := ExpiryFrom(org.Subscription.StartedAt)
	if !org.Subscription.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", org.Subscription.ExpiresAt, wantExpiry)
	}

	// Member inherits the paid plan.
	bob, _ := s.GetUserByEmail("bob@acme.com")
	if bob.Subscription.Plan != plans.PlanPro || bob.Subscription.Status != store.SubscriptionActive {
		t.Errorf("member subscription = %q/%q", bob.Subscription.Plan, bob.Subscription.Status)
	}

	seen, err := s.HasProcessedEvent("evt_1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("event should be recorded as processed")
	}
}

func TestHandleCheckout_IndividualUser(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	if err := s.CreateUser(&store.User{ID: "u_solo", Email: "solo@example.com"}); err != nil {
		t.Fatal(err)
	}

	event := checkoutEvent("cus_solo", "solo@example.com", priceIDFor(t, plans.PlanBasic), 1)
	if err := r.HandleCheckout(context.Background(), "evt_solo", 2000, event); err != nil {
		t.Fatalf("HandleCheckout: %v", err)
	}

	u, _ := s.GetUserByEmail("solo@example.com")
	if u.Subscription.Plan != plans.PlanBasic || u.Subscription.Status != store.SubscriptionActive {
		t.Errorf("subscription = %q/%q", u.Subscription.Plan, u.Subscription.Status)
	}
	if u.Subscription.StripeCustomerID != "cus_solo" || u.Subscription.StripeSubscriptionID != "sub_test_1" {
		t.Errorf("billing ids = %q/%q", u.Subscription.StripeCustomerID, u.Subscription.StripeSubscriptionID)
	}
}

func TestHandleCheckout_FetchesLineItemsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s)
	r.retrieveSession = func(id string) ([]LineItem, error) {
		if id != "cs_test_1" {
			t.Errorf("retrieveSession id = %q", id)
		}
		return []LineItem{{PriceID: priceIDFor(t, plans.PlanBasic), Quantity: 1}}, nil
	}
	if err := s.CreateUser(&store.User{ID: "u_fetch", Email: "fetch@example.com"}); err != nil {
		t.Fatal(err)
	}

	event := checkoutEvent("cus_fetch", "fetch@example.com", "", 0)
	event.LineItems = nil
	if err := r.HandleCheckout(context.Background(), "evt_fetch", 2000, event); err != nil {
		t.Fatalf("HandleCheckout: %v", err)
	}

	u, _ := s.GetUserByEmail("fetch@example.com")
	if u.Subscription.Plan != plans.PlanBasic {
		t.Errorf("plan = %q, want %q", u.Subscription.Plan, plans.PlanBasic)
	}
}

func TestHandleCheckout_UnresolvedPriceIsNoOp(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_BADPRICE01", "admin@acme.com")

	event := checkoutEvent("cus_bad", "admin@acme.com", "price_unknown_xyz", 3)
	if err := r.HandleCheckout(context.Background(), "evt_bad", 1000, event); err != nil {
		t.Fatalf("HandleCheckout: %v", err)
	}

	org, _ := s.GetOrganization("org_BADPRICE01")
	if org.Subscription.Plan != "Free" {
		t.Errorf("plan = %q, want Free (no-op)", org.Subscription.Plan)
	}
	seen, _ := s.HasProcessedEvent("evt_bad")
	if !seen {
		t.Error("no-op event should still be recorded")
	}
}

func TestHandleCheckout_UnmatchedCustomer(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)

	event := checkoutEvent("cus_ghost", "nobody@example.com", priceIDFor(t, plans.PlanPro), 1)
	if err := r.HandleCheckout(context.Background(), "evt_ghost", 1000, event); err != nil {
		t.Fatalf("HandleCheckout should not error for unmatched customer: %v", err)
	}
}

func TestHandleCheckout_MissingCustomer(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)

	event := checkoutEvent("", "x@example.com", priceIDFor(t, plans.PlanPro), 1)
	if err := r.HandleCheckout(context.Background(), "evt_x", 1000, event); err == nil {
		t.Error("expected error for missing customer")
	}

	event = checkoutEvent("cus_bad/../id", "x@example.com", priceIDFor(t, plans.PlanPro), 1)
	if err := r.HandleCheckout(context.Background(), "evt_y", 1000, event); err == nil {
		t.Error("expected error for unsafe customer id")
	}
}

func TestHandleCheckout_MissingEmailIsNoOp(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_NOEMAIL001", "admin@acme.com", "bob@acme.com")

	event := checkoutEvent("cus_acme", "admin@acme.com", priceIDFor(t, plans.PlanBasic), 2)
	if err := r.HandleCheckout(context.Background(), "evt_ne_1", 1000, event); err != nil {
		t.Fatalf("HandleCheckout: %v", err)
	}

	// A later session for the same customer without a payer email must not
	// touch the tenant, even though the customer ID now resolves to the
	// admin's user record.
	event = checkoutEvent("cus_acme", "", priceIDFor(t, plans.PlanPro), 5)
	if err := r.HandleCheckout(context.Background(), "evt_ne_2", 2000, event); err != nil {
		t.Fatalf("HandleCheckout without email: %v", err)
	}

	org, err := s.GetOrganization("org_NOEMAIL001")
	if err != nil {
		t.Fatal(err)
	}
	if org.Subscription.Plan != plans.PlanBasic || org.Subscription.Seats != 2 {
		t.Errorf("org subscription = %q seats %d, want Basic/2",
			org.Subscription.Plan, org.Subscription.Seats)
	}
	admin, _ := s.GetUserByEmail("admin@acme.com")
	if admin.Subscription.Plan != plans.PlanBasic {
		t.Errorf("admin plan = %q, want %q", admin.Subscription.Plan, plans.PlanBasic)
	}
	seen, _ := s.HasProcessedEvent("evt_ne_2")
	if !seen {
		t.Error("no-op event should still be recorded")
	}
}

func TestHandleSubscriptionUpdated_Org(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_UPDATE0001", "admin@acme.com", "bob@acme.com")

	checkout := checkoutEvent("cus_upd", "admin@acme.com", priceIDFor(t, plans.PlanBasic), 2)
	if err := r.HandleCheckout(context.Background(), "evt_co", 1000, checkout); err != nil {
		t.Fatal(err)
	}

	// Upgrade to Pro with more seats.
	sub := subEvent(t, "cus_upd", "active", priceIDFor(t, plans.PlanPro), 6)
	if err := r.HandleSubscriptionUpdated(context.Background(), "evt_up1", 2000, sub); err != nil {
		t.Fatalf("HandleSubscriptionUpdated: %v", err)
	}

	org, _ := s.GetOrganization("org_UPDATE0001")
	if org.Subscription.Plan != plans.PlanPro || org.Subscription.Seats != 6 {
		t.Errorf("plan = %q seats = %d", org.Subscription.Plan, org.Subscription.Seats)
	}
	bob, _ := s.GetUserByEmail("bob@acme.com")
	if bob.Subscription.Plan != plans.PlanPro {
		t.Errorf("member plan = %q, want Pro", bob.Subscription.Plan)
	}

	// Payment trouble deactivates access but keeps the plan.
	sub = subEvent(t, "cus_upd", "past_due", priceIDFor(t, plans.PlanPro), 6)
	if err := r.HandleSubscriptionUpdated(context.Background(), "evt_up2", 3000, sub); err != nil {
		t.Fatal(err)
	}
	org, _ = s.GetOrganization("org_UPDATE0001")
	if org.Subscription.Status != store.SubscriptionInactive {
		t.Errorf("status = %q, want Inactive for past_due", org.Subscription.Status)
	}
	if org.Subscription.Plan != plans.PlanPro {
		t.Errorf("plan = %q, should survive deactivation", org.Subscription.Plan)
	}
	bob, _ = s.GetUserByEmail("bob@acme.com")
	if bob.Subscription.Status != store.SubscriptionInactive {
		t.Errorf("member status = %q, want Inactive", bob.Subscription.Status)
	}
}

func TestHandleSubscriptionUpdated_IndividualUser(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	if err := s.CreateUser(&store.User{ID: "u_ind", Email: "ind@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := r.HandleCheckout(context.Background(), "evt_co",
		1000, checkoutEvent("cus_ind", "ind@example.com", priceIDFor(t, plans.PlanBasic), 1)); err != nil {
		t.Fatal(err)
	}

	sub := subEvent(t, "cus_ind", "trialing", priceIDFor(t, plans.PlanBasicLearning), 1)
	if err := r.HandleSubscriptionUpdated(context.Background(), "evt_up", 2000, sub); err != nil {
		t.Fatal(err)
	}

	u, _ := s.GetUserByEmail("ind@example.com")
	if u.Subscription.Plan != plans.PlanBasicLearning {
		t.Errorf("plan = %q", u.Subscription.Plan)
	}
	if u.Subscription.Status != store.SubscriptionActive {
		t.Errorf("status = %q, trialing should grant access", u.Subscription.Status)
	}
}

func TestHandleSubscriptionDeleted_OrgReset(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_DELETE0001", "admin@acme.com", "bob@acme.com")

	if err := r.HandleCheckout(context.Background(), "evt_co",
		1000, checkoutEvent("cus_del", "admin@acme.com", priceIDFor(t, plans.PlanPro), 4)); err != nil {
		t.Fatal(err)
	}

	sub := subEvent(t, "cus_del", "canceled", priceIDFor(t, plans.PlanPro), 4)
	if err := r.HandleSubscriptionDeleted(context.Background(), "evt_del", 2000, sub); err != nil {
		t.Fatalf("HandleSubscriptionDeleted: %v", err)
	}

	org, _ := s.GetOrganization("org_DELETE0001")
	if org.Subscription.Plan != "Free" || org.Subscription.Status != store.SubscriptionInactive {
		t.Errorf("org subscription = %q/%q, want Free/Inactive", org.Subscription.Plan, org.Subscription.Status)
	}
	if org.Subscription.Seats != 0 {
		t.Errorf("seats = %d, want 0", org.Subscription.Seats)
	}
	if org.Subscription.UsedSeats != 2 {
		t.Errorf("used seats = %d, want live member count 2", org.Subscription.UsedSeats)
	}
	if org.Subscription.StripeCustomerID != "" {
		t.Error("billing identifiers should be cleared")
	}

	bob, _ := s.GetUserByEmail("bob@acme.com")
	if bob.Subscription.Plan != "Free" || bob.Subscription.Status != store.SubscriptionInactive {
		t.Errorf("member subscription = %q/%q", bob.Subscription.Plan, bob.Subscription.Status)
	}
}

func TestHandleSubscriptionDeleted_IndividualUser(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	if err := s.CreateUser(&store.User{ID: "u_gone", Email: "gone@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := r.HandleCheckout(context.Background(), "evt_co",
		1000, checkoutEvent("cus_gone", "gone@example.com", priceIDFor(t, plans.PlanBasic), 1)); err != nil {
		t.Fatal(err)
	}

	sub := subEvent(t, "cus_gone", "canceled", priceIDFor(t, plans.PlanBasic), 1)
	if err := r.HandleSubscriptionDeleted(context.Background(), "evt_del", 2000, sub); err != nil {
		t.Fatal(err)
	}

	u, _ := s.GetUserByEmail("gone@example.com")
	if u.Subscription.Plan != "Free" || u.Subscription.Status != store.SubscriptionInactive {
		t.Errorf("subscription = %q/%q", u.Subscription.Plan, u.Subscription.Status)
	}
	if u.Subscription.StripeCustomerID != "" || u.Subscription.StripeSubscriptionID != "" {
		t.Error("billing identifiers should be cleared")
	}
}

func TestDuplicateEventSkipped(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_DUP0000001", "admin@acme.com")

	if err := r.HandleCheckout(context.Background(), "evt_dup",
		1000, checkoutEvent("cus_dup", "admin@acme.com", priceIDFor(t, plans.PlanBasic), 2)); err != nil {
		t.Fatal(err)
	}

	// Redelivery of the same event ID must not re-apply, even with altered
	// contents.
	if err := r.HandleCheckout(context.Background(), "evt_dup",
		1000, checkoutEvent("cus_dup", "admin@acme.com", priceIDFor(t, plans.PlanPro), 9)); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	org, _ := s.GetOrganization("org_DUP0000001")
	if org.Subscription.Plan != plans.PlanBasic || org.Subscription.Seats != 2 {
		t.Errorf("duplicate was re-applied: plan = %q seats = %d", org.Subscription.Plan, org.Subscription.Seats)
	}
}

func TestStaleEventCannotResurrectCancelledSubscription(t *testing.T) {
	s := newTestStore(t)
	r := newTestReconciler(t, s)
	seedOrg(t, s, "org_STALE00001", "admin@acme.com")

	if err := r.HandleCheckout(context.Background(), "evt_1",
		1000, checkoutEvent("cus_stale", "admin@acme.com", priceIDFor(t, plans.PlanPro), 2)); err != nil {
		t.Fatal(err)
	}
	del := subEvent(t, "cus_stale", "canceled", priceIDFor(t, plans.PlanPro), 2)
	if err := r.HandleSubscriptionDeleted(context.Background(), "evt_2", 3000, del); err != nil {
		t.Fatal(err)
	}

	// An out-of-order update created before the deletion arrives late. It
	// must not resurrect the cancelled subscription.
	late := subEvent(t, "cus_stale", "active", priceIDFor(t, plans.PlanPro), 2)
	if err := r.HandleSubscriptionUpdated(context.Background(), "evt_3", 2000, late); err != nil {
		t.Fatalf("stale delivery: %v", err)
	}

	org, _ := s.GetOrganization("org_STALE00001")
	if org.Subscription.Plan != "Free" || org.Subscription.Status != store.SubscriptionInactive {
		t.Errorf("stale event resurrected subscription: %q/%q",
			org.Subscription.Plan, org.Subscription.Status)
	}
}
