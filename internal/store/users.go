package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, email, role, org_id, plan, status, started_at,
	expires_at, stripe_customer_id, stripe_subscription_id, event_ts,
	created_at, updated_at`

func scanUser(s scanner) (*User, error) {
	var u User
	var startedAt, createdAt, updatedAt int64
	var expiresAt sql.NullInt64

	err := s.Scan(&u.ID, &u.Email, &u.Role, &u.OrgID, &u.Subscription.Plan,
		&u.Subscription.Status, &startedAt, &expiresAt,
		&u.Subscription.StripeCustomerID, &u.Subscription.StripeSubscriptionID,
		&u.Subscription.EventTS, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	u.Subscription.StartedAt = time.Unix(startedAt, 0).UTC()
	u.Subscription.ExpiresAt = unixPtr(expiresAt)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

// CreateUser inserts a new user. New accounts start on the free tier unless
// the caller supplies a subscription.
func (s *Store) CreateUser(u *User) error {
	now := time.Now().Unix()
	if u.Subscription.Plan == "" {
		u.Subscription.Plan = "Free"
		u.Subscription.Status = SubscriptionInactive
	}
	if u.Role == "" {
		u.Role = RoleMember
	}

	_, err := s.db.Exec(`
		INSERT INTO users (id, email, role, org_id, plan, status, started_at,
			expires_at, stripe_customer_id, stripe_subscription_id, event_ts,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.Role, u.OrgID, u.Subscription.Plan,
		u.Subscription.Status, u.Subscription.StartedAt.Unix(),
		nullableUnix(u.Subscription.ExpiresAt),
		u.Subscription.StripeCustomerID, u.Subscription.StripeSubscriptionID,
		u.Subscription.EventTS, now, now)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user with the given email, or nil if no such
// user exists.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetUserByStripeCustomerID returns the user billed as the given customer,
// or nil if none matches.
func (s *Store) GetUserByStripeCustomerID(customerID string) (*User, error) {
	if customerID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE stripe_customer_id = ?`, customerID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by customer: %w", err)
	}
	return u, nil
}

// UpdateUserSubscription replaces the subscription fields on a single user
// record. Used for individual (non-organization) subscribers.
func (s *Store) UpdateUserSubscription(userID string, sub Subscription) error {
	now := time.Now().Unix()
	res, err := s.db.Exec(`
		UPDATE users SET plan = ?, status = ?, started_at = ?, expires_at = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?, event_ts = ?,
			updated_at = ?
		WHERE id = ?`,
		sub.Plan, sub.Status, sub.StartedAt.Unix(), nullableUnix(sub.ExpiresAt),
		sub.StripeCustomerID, sub.StripeSubscriptionID, sub.EventTS, now, userID)
	if err != nil {
		return fmt.Errorf("update user subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user subscription rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// ExpireLapsedSubscriptions marks users whose expiry has passed as inactive.
// Organization records are handled separately so the member fan-out stays
// transactional. Returns the number of users flipped.
func (s *Store) ExpireLapsedSubscriptions(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE users SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		SubscriptionInactive, now.Unix(), SubscriptionActive, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("expire user subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions rows affected: %w", err)
	}
	return n, nil
}

// ListExpiredOrganizations returns organizations still marked active whose
// expiry has passed.
func (s *Store) ListExpiredOrganizations(now time.Time) ([]*Organization, error) {
	rows, err := s.db.Query(`
		SELECT `+orgColumns+` FROM organizations
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		SubscriptionActive, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
