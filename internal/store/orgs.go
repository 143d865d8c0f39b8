package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const orgColumns = `id, name, domain, plan, status, started_at, expires_at,
	stripe_customer_id, stripe_subscription_id, seats, used_seats, event_ts,
	created_at, updated_at`

func scanOrganization(s scanner) (*Organization, error) {
	var o Organization
	var startedAt, createdAt, updatedAt int64
	var expiresAt sql.NullInt64

	err := s.Scan(&o.ID, &o.Name, &o.Domain, &o.Subscription.Plan,
		&o.Subscription.Status, &startedAt, &expiresAt,
		&o.Subscription.StripeCustomerID, &o.Subscription.StripeSubscriptionID,
		&o.Subscription.Seats, &o.Subscription.UsedSeats, &o.Subscription.EventTS,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	o.Subscription.StartedAt = time.Unix(startedAt, 0).UTC()
	o.Subscription.ExpiresAt = unixPtr(expiresAt)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}

// CreateOrganization inserts a new organization and registers adminEmail as
// its admin member. The admin's User row must already exist; its org linkage
// is updated here.
func (s *Store) CreateOrganization(org *Organization, adminEmail string) error {
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin create organization: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO organizations (id, name, domain, plan, status, started_at,
			expires_at, stripe_customer_id, stripe_subscription_id, seats,
			used_seats, event_ts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Domain, org.Subscription.Plan,
		org.Subscription.Status, org.Subscription.StartedAt.Unix(),
		nullableUnix(org.Subscription.ExpiresAt),
		org.Subscription.StripeCustomerID, org.Subscription.StripeSubscriptionID,
		org.Subscription.Seats, org.Subscription.UsedSeats,
		org.Subscription.EventTS, now, now)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO org_members (org_id, email, role, created_at)
		VALUES (?, ?, ?, ?)`,
		org.ID, strings.ToLower(adminEmail), RoleAdmin, now)
	if err != nil {
		return fmt.Errorf("insert admin member: %w", err)
	}

	_, err = tx.Exec(`UPDATE users SET org_id = ?, role = ?, updated_at = ? WHERE email = ?`,
		org.ID, RoleAdmin, now, strings.ToLower(adminEmail))
	if err != nil {
		return fmt.Errorf("link admin user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create organization: %w", err)
	}
	return nil
}

// GetOrganization returns the organization with the given ID, or nil if it
// does not exist.
func (s *Store) GetOrganization(id string) (*Organization, error) {
	row := s.db.QueryRow(`SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id)
	org, err := scanOrganization(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// GetOrgByStripeCustomerID returns the organization whose subscription is
// billed to the given customer, or nil if none matches.
func (s *Store) GetOrgByStripeCustomerID(customerID string) (*Organization, error) {
	if customerID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+orgColumns+` FROM organizations WHERE stripe_customer_id = ?`, customerID)
	org, err := scanOrganization(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization by customer: %w", err)
	}
	return org, nil
}

// GetOrgByAdminEmail returns the organization administered by the given
// email, or nil if the email is not an admin of any organization.
func (s *Store) GetOrgByAdminEmail(email string) (*Organization, error) {
	row := s.db.QueryRow(`
		SELECT `+orgColumns+` FROM organizations
		WHERE id = (SELECT org_id FROM org_members WHERE email = ? AND role = ? LIMIT 1)`,
		strings.ToLower(email), RoleAdmin)
	org, err := scanOrganization(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization by admin: %w", err)
	}
	return org, nil
}

// ListOrganizations returns all organizations ordered by creation time.
func (s *Store) ListOrganizations() ([]*Organization, error) {
	rows, err := s.db.Query(`SELECT ` + orgColumns + ` FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
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

// CountOrgsByStatus returns the number of organizations per subscription
// status.
func (s *Store) CountOrgsByStatus() (map[SubscriptionStatus]int64, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM organizations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count organizations: %w", err)
	}
	defer rows.Close()

	counts := map[SubscriptionStatus]int64{}
	for rows.Next() {
		var status SubscriptionStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ApplyOrgSubscription writes sub to the organization and fans the plan,
// status, and period out to every member's user record in one transaction.
// The admin member additionally receives the billing identifiers so that
// customer-keyed lookups resolve through either record. The organization's
// used_seats is recomputed from the live member count, which is returned.
func (s *Store) ApplyOrgSubscription(orgID string, sub Subscription) (int64, error) {
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin apply subscription: %w", err)
	}
	defer tx.Rollback()

	var usedSeats int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM org_members WHERE org_id = ?`, orgID).Scan(&usedSeats); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE organizations SET plan = ?, status = ?, started_at = ?,
			expires_at = ?, stripe_customer_id = ?, stripe_subscription_id = ?,
			seats = ?, used_seats = ?, event_ts = ?, updated_at = ?
		WHERE id = ?`,
		sub.Plan, sub.Status, sub.StartedAt.Unix(),
		nullableUnix(sub.ExpiresAt), sub.StripeCustomerID,
		sub.StripeSubscriptionID, sub.Seats, usedSeats, sub.EventTS, now, orgID)
	if err != nil {
		return 0, fmt.Errorf("update organization subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("apply subscription rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("organization not found: %s", orgID)
	}

	_, err = tx.Exec(`
		UPDATE users SET plan = ?, status = ?, started_at = ?, expires_at = ?,
			event_ts = ?, updated_at = ?
		WHERE email IN (SELECT email FROM org_members WHERE org_id = ?)`,
		sub.Plan, sub.Status, sub.StartedAt.Unix(),
		nullableUnix(sub.ExpiresAt), sub.EventTS, now, orgID)
	if err != nil {
		return 0, fmt.Errorf("fan out subscription to members: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE users SET stripe_customer_id = ?, stripe_subscription_id = ?, updated_at = ?
		WHERE email IN (SELECT email FROM org_members WHERE org_id = ? AND role = ?)`,
		sub.StripeCustomerID, sub.StripeSubscriptionID, now, orgID, RoleAdmin)
	if err != nil {
		return 0, fmt.Errorf("update admin billing ids: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit apply subscription: %w", err)
	}
	return usedSeats, nil
}

// ResetOrgSubscription returns the organization to the free tier after its
// subscription is cancelled: billing identifiers cleared, seats zeroed,
// used_seats recomputed from the live roster, and each member's plan and
// status downgraded. Returns the live member count.
func (s *Store) ResetOrgSubscription(orgID string, eventTS int64) (int64, error) {
	now := time.Now().Unix()
	free := FreeSubscription(eventTS)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin reset subscription: %w", err)
	}
	defer tx.Rollback()

	var usedSeats int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM org_members WHERE org_id = ?`, orgID).Scan(&usedSeats); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE organizations SET plan = ?, status = ?, started_at = 0,
			expires_at = NULL, stripe_customer_id = '', stripe_subscription_id = '',
			seats = 0, used_seats = ?, event_ts = ?, updated_at = ?
		WHERE id = ?`,
		free.Plan, free.Status, usedSeats, eventTS, now, orgID)
	if err != nil {
		return 0, fmt.Errorf("reset organization subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset subscription rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("organization not found: %s", orgID)
	}

	// Members keep their billing-neutral fields; only plan and status drop.
	_, err = tx.Exec(`
		UPDATE users SET plan = ?, status = ?, event_ts = ?, updated_at = ?
		WHERE email IN (SELECT email FROM org_members WHERE org_id = ?)`,
		free.Plan, free.Status, eventTS, now, orgID)
	if err != nil {
		return 0, fmt.Errorf("fan out downgrade to members: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE users SET stripe_customer_id = '', stripe_subscription_id = '', updated_at = ?
		WHERE email IN (SELECT email FROM org_members WHERE org_id = ? AND role = ?)`,
		now, orgID, RoleAdmin)
	if err != nil {
		return 0, fmt.Errorf("clear admin billing ids: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset subscription: %w", err)
	}
	return usedSeats, nil
}

// ExpireOrgSubscription flips an Active organization to Inactive only if its
// subscription state has not moved past the expectedEventTS snapshot. A
// renewal webhook landing between the expiry scan and this write bumps
// event_ts, making the conditional update a no-op; the caller gets false and
// must not count the organization as expired. Plan and billing identifiers
// are kept so a later renewal restores the paid tier.
func (s *Store) ExpireOrgSubscription(orgID string, expectedEventTS int64) (bool, error) {
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin expire subscription: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE organizations SET status = ?, updated_at = ?
		WHERE id = ? AND event_ts = ? AND status = ?`,
		SubscriptionInactive, now, orgID, expectedEventTS, SubscriptionActive)
	if err != nil {
		return false, fmt.Errorf("expire organization subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire subscription rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.Exec(`
		UPDATE users SET status = ?, updated_at = ?
		WHERE email IN (SELECT email FROM org_members WHERE org_id = ?)`,
		SubscriptionInactive, now, orgID)
	if err != nil {
		return false, fmt.Errorf("fan out expiry to members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit expire subscription: %w", err)
	}
	return true, nil
}

// AddMember adds email to the organization's roster, bumps used_seats, and
// mirrors the organization's current plan and status onto the member's user
// record if one exists.
func (s *Store) AddMember(orgID, email string, role MemberRole) error {
	now := time.Now().Unix()
	email = strings.ToLower(email)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin add member: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO org_members (org_id, email, role, created_at)
		VALUES (?, ?, ?, ?)`,
		orgID, email, role, now)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE users SET org_id = ?, role = ?,
			plan = (SELECT plan FROM organizations WHERE id = ?),
			status = (SELECT status FROM organizations WHERE id = ?),
			started_at = (SELECT started_at FROM organizations WHERE id = ?),
			expires_at = (SELECT expires_at FROM organizations WHERE id = ?),
			updated_at = ?
		WHERE email = ?`,
		orgID, role, orgID, orgID, orgID, orgID, now, email)
	if err != nil {
		return fmt.Errorf("sync member user: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE organizations SET
			used_seats = (SELECT COUNT(*) FROM org_members WHERE org_id = ?),
			updated_at = ?
		WHERE id = ?`,
		orgID, now, orgID)
	if err != nil {
		return fmt.Errorf("update used seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add member: %w", err)
	}
	return nil
}

// RemoveMember drops email from the organization's roster, frees the seat,
// and downgrades the member's user record to the free tier. Returns false if
// the email was not a member.
func (s *Store) RemoveMember(orgID, email string) (bool, error) {
	now := time.Now().Unix()
	email = strings.ToLower(email)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin remove member: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM org_members WHERE org_id = ? AND email = ?`, orgID, email)
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.Exec(`
		UPDATE users SET org_id = '', role = ?, plan = 'Free', status = ?,
			started_at = 0, expires_at = NULL, updated_at = ?
		WHERE email = ?`,
		RoleMember, SubscriptionInactive, now, email)
	if err != nil {
		return false, fmt.Errorf("downgrade removed member: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE organizations SET
			used_seats = (SELECT COUNT(*) FROM org_members WHERE org_id = ?),
			updated_at = ?
		WHERE id = ?`,
		orgID, now, orgID)
	if err != nil {
		return false, fmt.Errorf("update used seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove member: %w", err)
	}
	return true, nil
}

// ListMembers returns the organization's roster ordered by join time.
func (s *Store) ListMembers(orgID string) ([]Member, error) {
	rows, err := s.db.Query(`
		SELECT org_id, email, role, created_at FROM org_members
		WHERE org_id = ? ORDER BY created_at, email`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var createdAt int64
		if err := rows.Scan(&m.OrgID, &m.Email, &m.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountMembers returns the number of members (seats in use) for an
// organization.
func (s *Store) CountMembers(orgID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM org_members WHERE org_id = ?`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// IsMember reports whether email belongs to the organization's roster.
func (s *Store) IsMember(orgID, email string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM org_members WHERE org_id = ? AND email = ?`,
		orgID, strings.ToLower(email)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}
