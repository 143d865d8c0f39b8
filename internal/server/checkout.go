package server

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/healthchat/healthchat-server/internal/auditlog"
	"github.com/healthchat/healthchat-server/internal/plans"
)

const stripeCheckoutSessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// SetStripeKey installs the API key the stripe-go client reads on every call.
// It must run once at startup, before any handler or the webhook reconciler
// talks to Stripe.
func SetStripeKey(cfg *Config) {
	stripe.Key = strings.TrimSpace(cfg.StripeAPIKey)
}

// CheckoutHandlers creates Stripe Checkout Sessions for plan purchases. The
// webhook reconciler picks up the resulting checkout.session.completed event.
type CheckoutHandlers struct {
	cfg                   *Config
	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewCheckoutHandlers creates checkout handlers backed by the Stripe API.
func NewCheckoutHandlers(cfg *Config) *CheckoutHandlers {
	return &CheckoutHandlers{
		cfg:                   cfg,
		createCheckoutSession: stripesession.New,
	}
}

type checkoutRequest struct {
	Email   string `json:"email"`
	Plan    string `json:"plan"`
	Seats   int64  `json:"seats"`
	OrgName string `json:"org_name"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// HandleCreateCheckout creates a Stripe Checkout Session for the requested
// plan and returns the hosted payment page URL.
func (h *CheckoutHandlers) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.cfg.StripeAPIKey) == "" {
		http.Error(w, "checkout is not configured", http.StatusServiceUnavailable)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		http.Error(w, "a valid email address is required", http.StatusBadRequest)
		return
	}

	plan, ok := plans.ByName(strings.TrimSpace(req.Plan))
	if !ok || plan.StripePriceID == "" {
		http.Error(w, "unknown or non-purchasable plan", http.StatusBadRequest)
		return
	}
	seats := req.Seats
	if seats < 1 {
		seats = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:    stripe.String(buildCheckoutSuccessURL(h.cfg.BaseURL)),
		CancelURL:     stripe.String(buildURL(h.cfg.BaseURL, "/checkout/cancelled", nil)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(seats),
			},
		},
		Metadata: map[string]string{
			"plan":     plan.Name,
			"org_name": strings.TrimSpace(req.OrgName),
		},
	}

	session, err := h.createCheckoutSession(params)
	if err != nil || session == nil || strings.TrimSpace(session.URL) == "" {
		log.Error().Err(err).
			Str("plan", plan.Name).
			Str("email", email).
			Msg("checkout session creation failed")
		http.Error(w, "unable to create checkout session", http.StatusBadGateway)
		return
	}

	auditlog.Record(auditlog.Event{
		Action:  auditlog.ActionCheckoutStarted,
		Actor:   email,
		IP:      auditlog.ClientIP(r),
		Detail:  plan.Name,
		Subject: session.ID,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(checkoutResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

func buildURL(baseURL, path string, query url.Values) string {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return path
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return path
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	if query != nil {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

func buildCheckoutSuccessURL(baseURL string) string {
	raw := buildURL(baseURL, "/checkout/complete", url.Values{
		"session_id": {stripeCheckoutSessionIDPlaceholder},
	})
	// Stripe substitutes the placeholder itself, so it must survive encoding.
	return strings.ReplaceAll(raw, url.QueryEscape(stripeCheckoutSessionIDPlaceholder), stripeCheckoutSessionIDPlaceholder)
}
