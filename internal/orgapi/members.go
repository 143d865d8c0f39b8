// Package orgapi serves the organization roster and subscription read APIs.
package orgapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/healthchat/healthchat-server/internal/auditlog"
	"github.com/healthchat/healthchat-server/internal/email"
	"github.com/healthchat/healthchat-server/internal/store"
	"github.com/rs/zerolog/log"
)

// InviteMailer carries what the invite handler needs to send the welcome
// email. A nil Sender disables mail entirely.
type InviteMailer struct {
	Sender   email.Sender
	From     string
	LoginURL string
}

// HandleListMembers lists an organization's roster.
// Route: GET /api/orgs/{org_id}/members
func HandleListMembers(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.PathValue("org_id"))
		if orgID == "" {
			http.Error(w, "missing org_id", http.StatusBadRequest)
			return
		}

		org, err := st.GetOrganization(orgID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if org == nil {
			http.Error(w, "organization not found", http.StatusNotFound)
			return
		}

		members, err := st.ListMembers(orgID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if members == nil {
			members = []store.Member{}
		}

		w.Header().Set("Content-Type", "application/json")
		encodeJSON(w, members)
	}
}

type inviteMemberRequest struct {
	Email string `json:"email"`
}

type inviteMemberResponse struct {
	OrgID     string `json:"org_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SeatsUsed int64  `json:"seats_used"`
	Seats     int64  `json:"seats"`
}

// HandleInviteMember adds a user to an organization's roster if a seat is
// available, creating the account with a temporary password when needed.
// Route: POST /api/orgs/{org_id}/members
func HandleInviteMember(st *store.Store, mailer InviteMailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.PathValue("org_id"))
		if orgID == "" {
			http.Error(w, "missing org_id", http.StatusBadRequest)
			return
		}

		org, err := st.GetOrganization(orgID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if org == nil {
			http.Error(w, "organization not found", http.StatusNotFound)
			return
		}

		var req inviteMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		memberEmail := strings.ToLower(strings.TrimSpace(req.Email))
		if _, err := mail.ParseAddress(memberEmail); err != nil {
			http.Error(w, "invalid email", http.StatusBadRequest)
			return
		}

		if org.Subscription.Status != store.SubscriptionActive {
			http.Error(w, "organization has no active subscription", http.StatusConflict)
			return
		}
		used, err := st.CountMembers(orgID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if used >= org.Subscription.Seats {
			http.Error(w, "no seats available", http.StatusConflict)
			return
		}

		already, err := st.IsMember(orgID, memberEmail)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if already {
			http.Error(w, "already a member", http.StatusConflict)
			return
		}

		user, err := st.GetUserByEmail(memberEmail)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		tempPassword := ""
		if user == nil {
			userID, genErr := store.GenerateUserID()
			if genErr != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if tempPassword, genErr = generateTempPassword(); genErr != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if createErr := st.CreateUser(&store.User{ID: userID, Email: memberEmail}); createErr != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		if err := st.AddMember(orgID, memberEmail, store.RoleMember); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		sendInviteEmail(r.Context(), mailer, org.Name, memberEmail, tempPassword)

		auditlog.Record(auditlog.Event{
			Action:  auditlog.ActionMemberInvited,
			OrgID:   orgID,
			Actor:   auditlog.ActorID(r),
			Subject: memberEmail,
			IP:      auditlog.ClientIP(r),
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		encodeJSON(w, inviteMemberResponse{
			OrgID:     orgID,
			Email:     memberEmail,
			Role:      string(store.RoleMember),
			SeatsUsed: used + 1,
			Seats:     org.Subscription.Seats,
		})
	}
}

// HandleRemoveMember drops a member from the roster and frees the seat.
// Route: DELETE /api/orgs/{org_id}/members/{email}
func HandleRemoveMember(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.PathValue("org_id"))
		memberEmail := strings.ToLower(strings.TrimSpace(r.PathValue("email")))
		if orgID == "" || memberEmail == "" {
			http.Error(w, "missing org_id or email", http.StatusBadRequest)
			return
		}

		org, err := st.GetOrganization(orgID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if org == nil {
			http.Error(w, "organization not found", http.StatusNotFound)
			return
		}

		// The admin seat anchors billing lookups and cannot be vacated.
		admin, err := st.GetOrgByAdminEmail(memberEmail)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if admin != nil && admin.ID == orgID {
			http.Error(w, "cannot remove the organization admin", http.StatusConflict)
			return
		}

		removed, err := st.RemoveMember(orgID, memberEmail)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !removed {
			http.Error(w, "member not found", http.StatusNotFound)
			return
		}

		auditlog.Record(auditlog.Event{
			Action:  auditlog.ActionMemberRemoved,
			OrgID:   orgID,
			Actor:   auditlog.ActorID(r),
			Subject: memberEmail,
			IP:      auditlog.ClientIP(r),
		})

		w.WriteHeader(http.StatusNoContent)
	}
}

func sendInviteEmail(ctx context.Context, mailer InviteMailer, orgName, to, tempPassword string) {
	if mailer.Sender == nil || mailer.From == "" {
		return
	}
	if tempPassword == "" {
		// Existing account; nothing worth mailing without an auth flow to link.
		return
	}
	html, text, err := email.RenderInviteEmail(email.InviteData{
		OrgName:      orgName,
		TempPassword: tempPassword,
		LoginURL:     mailer.LoginURL,
	})
	if err != nil {
		log.Error().Err(err).Str("email", to).Msg("Failed to render invite email")
		return
	}
	if err := mailer.Sender.Send(ctx, email.Message{
		From:    mailer.From,
		To:      to,
		Subject: fmt.Sprintf("You've been added to %s on HealthChat", orgName),
		HTML:    html,
		Text:    text,
	}); err != nil {
		log.Error().Err(err).Str("email", to).Msg("Failed to send invite email")
		return
	}
	log.Info().Str("email", to).Msg("Invite email sent")
}

const tempPasswordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ23456789"

func generateTempPassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate temp password: %w", err)
	}
	for i, v := range b {
		b[i] = tempPasswordAlphabet[int(v)%len(tempPasswordAlphabet)]
	}
	return string(b), nil
}

func encodeJSON(w http.ResponseWriter, payload any) {
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("orgapi: encode JSON response")
	}
}
