package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthchat/healthchat-server/internal/email"
	"github.com/healthchat/healthchat-server/internal/orgapi"
	hcstripe "github.com/healthchat/healthchat-server/internal/stripe"
	"github.com/healthchat/healthchat-server/internal/store"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config      *Config
	Store       *store.Store
	Reconciler  *hcstripe.Reconciler
	Checkout    *CheckoutHandlers
	EmailSender email.Sender
	Version     string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Status and metrics are private by default.
	statusHandler := http.HandlerFunc(HandleStatus(deps.Store, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("/status", statusHandler)
	} else {
		mux.Handle("/status", adminAuth(statusHandler))
	}

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated)
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = hcstripe.NewReconciler(deps.Store)
	}
	webhookHandler := hcstripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, reconciler)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(webhookHandler))

	// Checkout session creation (rate limited — one limiter per endpoint)
	checkout := deps.Checkout
	if checkout == nil {
		checkout = NewCheckoutHandlers(deps.Config)
	}
	checkoutLimiter := NewRateLimiter(30, time.Minute)
	mux.Handle("/api/checkout", checkoutLimiter.Middleware(http.HandlerFunc(checkout.HandleCreateCheckout)))

	// Organization membership API (admin-key authenticated; consumed by the app server)
	mailer := orgapi.InviteMailer{
		Sender:   deps.EmailSender,
		From:     deps.Config.EmailFrom,
		LoginURL: deps.Config.LoginURL,
	}
	listMembers := orgapi.HandleListMembers(deps.Store)
	inviteMember := orgapi.HandleInviteMember(deps.Store, mailer)
	removeMember := orgapi.HandleRemoveMember(deps.Store)

	membersCollection := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listMembers(w, r)
		case http.MethodPost:
			inviteMember(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	member := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		removeMember(w, r)
	})

	mux.Handle("/api/orgs/{org_id}/members", adminAuth(membersCollection))
	mux.Handle("/api/orgs/{org_id}/members/{email}", adminAuth(member))

	// Subscription snapshot and feature-access predicate (admin-key authenticated)
	mux.Handle("GET /api/users/{email}/subscription", adminAuth(orgapi.HandleGetSubscription(deps.Store)))
	mux.Handle("GET /api/users/{email}/access", adminAuth(orgapi.HandleCheckAccess(deps.Store)))
}
