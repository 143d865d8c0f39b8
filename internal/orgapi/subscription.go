package orgapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/healthchat/healthchat-server/internal/plans"
	"github.com/healthchat/healthchat-server/internal/store"
)

type subscriptionResponse struct {
	Email     string     `json:"email"`
	OrgID     string     `json:"org_id,omitempty"`
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Seats     int64      `json:"seats,omitempty"`
	UsedSeats int64      `json:"used_seats,omitempty"`
}

// HandleGetSubscription returns the effective subscription for a user. For
// organization members the org record is authoritative, so seat counts come
// from there.
// Route: GET /api/users/{email}/subscription
func HandleGetSubscription(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userEmail := strings.ToLower(strings.TrimSpace(r.PathValue("email")))
		if userEmail == "" {
			http.Error(w, "missing email", http.StatusBadRequest)
			return
		}

		user, err := st.GetUserByEmail(userEmail)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}

		resp := subscriptionResponse{
			Email:     user.Email,
			OrgID:     user.OrgID,
			Plan:      user.Subscription.Plan,
			Status:    string(user.Subscription.Status),
			StartedAt: user.Subscription.StartedAt,
			ExpiresAt: user.Subscription.ExpiresAt,
		}
		if user.OrgID != "" {
			org, err := st.GetOrganization(user.OrgID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if org != nil {
				resp.Seats = org.Subscription.Seats
				resp.UsedSeats = org.Subscription.UsedSeats
			}
		}

		w.Header().Set("Content-Type", "application/json")
		encodeJSON(w, resp)
	}
}

type accessResponse struct {
	Email   string `json:"email"`
	Feature string `json:"feature"`
	Plan    string `json:"plan"`
	Allowed bool   `json:"allowed"`
}

// HandleCheckAccess evaluates the feature-access predicate for a user.
// Admins of an organization that has not yet activated a subscription are in
// the setup phase and see only the admin dashboard.
// Route: GET /api/users/{email}/access?feature=F
func HandleCheckAccess(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userEmail := strings.ToLower(strings.TrimSpace(r.PathValue("email")))
		feature := strings.TrimSpace(r.URL.Query().Get("feature"))
		if userEmail == "" || feature == "" {
			http.Error(w, "missing email or feature", http.StatusBadRequest)
			return
		}

		user, err := st.GetUserByEmail(userEmail)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}

		settingUpOrg := false
		if user.Role == store.RoleAdmin && user.OrgID != "" {
			org, err := st.GetOrganization(user.OrgID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if org != nil && org.Subscription.Status != store.SubscriptionActive {
				settingUpOrg = true
			}
		}

		plan := user.Subscription.Plan
		if user.Subscription.Status != store.SubscriptionActive {
			// Inactive subscriptions grant nothing beyond the setup override.
			plan = plans.PlanFree
		}

		w.Header().Set("Content-Type", "application/json")
		encodeJSON(w, accessResponse{
			Email:   user.Email,
			Feature: feature,
			Plan:    user.Subscription.Plan,
			Allowed: plans.HasFeatureAccess(plan, feature, settingUpOrg),
		})
	}
}
