package store

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// SubscriptionStatus is the activation state of a subscription record.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "Active"
	SubscriptionInactive SubscriptionStatus = "Inactive"
)

// MemberRole distinguishes organization admins from ordinary members.
// Admins are always also members.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

// Subscription is embedded in both Organization and User. The organization
// copy is authoritative for seat allocation; each member's User copy is a
// denormalized projection kept in sync by the reconciler.
type Subscription struct {
	Plan                 string             `json:"plan"`
	Status               SubscriptionStatus `json:"status"`
	StartedAt            time.Time          `json:"started_at"`
	ExpiresAt            *time.Time         `json:"expires_at,omitempty"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	Seats                int64              `json:"seats,omitempty"`
	UsedSeats            int64              `json:"used_seats,omitempty"`

	// EventTS is the payment-processor event `created` timestamp (unix
	// seconds) of the last lifecycle event applied to this record. Stale
	// events carry an older timestamp and are skipped.
	EventTS int64 `json:"-"`
}

// Organization represents a paying tenant.
type Organization struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Domain       string       `json:"domain"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Member is one entry in an organization's member set.
type Member struct {
	OrgID     string     `json:"org_id"`
	Email     string     `json:"email"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// User represents one individual account. OrgID is empty for independent
// (non-organization) subscribers.
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Role         MemberRole   `json:"role"`
	OrgID        string       `json:"org_id,omitempty"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// WebhookEvent records a processed payment-processor event for idempotent
// redelivery handling.
type WebhookEvent struct {
	ID          string    `json:"id"` // external event ID
	Type        string    `json:"type"`
	CustomerID  string    `json:"customer_id"`
	Created     int64     `json:"created"` // event timestamp from the processor
	Outcome     string    `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}

// FreeSubscription returns the reset form a subscription takes when an
// organization or user drops off a paid plan: free tier, inactive, external
// identifiers cleared, seat tracking zeroed.
func FreeSubscription(eventTS int64) Subscription {
	return Subscription{
		Plan:      "Free",
		Status:    SubscriptionInactive,
		StartedAt: time.Unix(0, 0).UTC(),
		EventTS:   eventTS,
	}
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func generateID(prefix string) (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// GenerateOrgID returns an organization ID of the form "org_" followed by 10
// random Crockford base32 characters (50 bits of entropy).
func GenerateOrgID() (string, error) {
	return generateID("org_")
}

// GenerateUserID returns a user ID of the form "u_" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GenerateUserID() (string, error) {
	return generateID("u_")
}
