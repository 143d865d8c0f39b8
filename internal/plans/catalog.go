// Package plans defines the static HealthChat plan catalog and the
// feature-access rules derived from it.
//
// The catalog is immutable configuration validated once at process start so
// webhook reconciliation and the UI-facing access predicate always agree on
// what a plan grants.
package plans

import "fmt"

// Feature constants represent gated features in HealthChat.
const (
	FeatureChatAccess       = "Chatbot access"
	FeatureLearningHub      = "Learning hub add-on"
	FeaturePlanGenerators   = "Plan generators add-on"
	FeaturePriorityResponse = "Priority response time"
	FeatureAdminDashboard   = "Admin dashboard"
)

// Plan names. These are stored verbatim in subscription records, so renaming
// one is a data migration, not a refactor.
const (
	PlanFree           = "Free"
	PlanBasic          = "Basic"
	PlanBasicLearning  = "Basic+ Learning Hub Add-on"
	PlanBasicGenerator = "Basic+ Plan Generators Add-on"
	PlanPro            = "Pro"
)

// Plan describes one tier of the catalog.
type Plan struct {
	Name string

	// MonthlyPrice is the base price in USD for the first seat.
	MonthlyPrice int64

	// SeatPrice is the price in USD for each additional seat beyond the first.
	SeatPrice int64

	// StripePriceID joins payment-processor line items back to this plan.
	// Must be unique across the catalog.
	StripePriceID string

	// Features lists what this plan unlocks.
	Features []string
}

// Catalog is the ordered set of purchasable plans. The free tier is not
// purchasable and therefore carries no Stripe price ID.
var Catalog = []Plan{
	{
		Name:          PlanFree,
		MonthlyPrice:  0,
		SeatPrice:     0,
		StripePriceID: "",
		Features:      nil,
	},
	{
		Name:          PlanBasic,
		MonthlyPrice:  10,
		SeatPrice:     8,
		StripePriceID: "price_1QU6dgL8IScSUDMoy9A9qaUQ",
		Features:      []string{FeatureChatAccess},
	},
	{
		Name:          PlanBasicLearning,
		MonthlyPrice:  30,
		SeatPrice:     24,
		StripePriceID: "price_1QU6fPL8IScSUDMo2RUiGkD6",
		Features:      []string{FeatureChatAccess, FeatureLearningHub},
	},
	{
		Name:          PlanBasicGenerator,
		MonthlyPrice:  40,
		SeatPrice:     32,
		StripePriceID: "price_1QU6f3L8IScSUDMor9nqsEvJ",
		Features:      []string{FeatureChatAccess, FeaturePlanGenerators},
	},
	{
		Name:          PlanPro,
		MonthlyPrice:  50,
		SeatPrice:     40,
		StripePriceID: "price_1QU6dxL8IScSUDMo5HxtoaIM",
		Features: []string{
			FeatureChatAccess,
			FeaturePlanGenerators,
			FeatureLearningHub,
			FeaturePriorityResponse,
		},
	},
}

var (
	byName    = make(map[string]*Plan, len(Catalog))
	byPriceID = make(map[string]*Plan, len(Catalog))
)

func init() {
	for i := range Catalog {
		p := &Catalog[i]
		if _, dup := byName[p.Name]; dup {
			panic(fmt.Sprintf("plans: duplicate plan name %q", p.Name))
		}
		byName[p.Name] = p
		if p.StripePriceID == "" {
			continue
		}
		if _, dup := byPriceID[p.StripePriceID]; dup {
			panic(fmt.Sprintf("plans: duplicate Stripe price ID %q", p.StripePriceID))
		}
		byPriceID[p.StripePriceID] = p
	}
}

// ByName looks up a plan by its display name.
func ByName(name string) (*Plan, bool) {
	p, ok := byName[name]
	return p, ok
}

// ResolveByPriceID maps a payment-processor price ID to a catalog plan.
// A miss is not an error: checkout sessions can carry prices unrelated to
// subscription plans (one-off charges), and callers must treat an unresolved
// price as a no-op.
func ResolveByPriceID(priceID string) (*Plan, bool) {
	if priceID == "" {
		return nil, false
	}
	p, ok := byPriceID[priceID]
	return p, ok
}

// SeatPrice returns the monthly price for a plan at the given seat count:
// base price plus per-seat price for every seat beyond the first. Seat counts
// below one are billed as one seat.
func SeatPrice(p *Plan, seats int64) int64 {
	if p == nil {
		return 0
	}
	if seats < 1 {
		seats = 1
	}
	return p.MonthlyPrice + (seats-1)*p.SeatPrice
}
