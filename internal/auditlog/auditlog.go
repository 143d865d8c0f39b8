// Package auditlog emits structured audit events for roster and billing
// changes and resolves request metadata for them.
package auditlog

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Audit actions recorded by the control plane.
const (
	ActionMemberInvited    = "member.invited"
	ActionMemberRemoved    = "member.removed"
	ActionCheckoutStarted  = "checkout.started"
	ActionSubscriptionSync = "subscription.synced"
	ActionSubscriptionEnd  = "subscription.ended"
)

// Event is one audit record. Zero-value fields are omitted from output.
type Event struct {
	Action  string
	OrgID   string
	Actor   string
	Subject string
	IP      string
	Detail  string
}

// Record writes the event to the structured log under the "audit" marker.
func Record(ev Event) {
	e := log.Info().Str("audit", ev.Action)
	if ev.OrgID != "" {
		e = e.Str("org_id", ev.OrgID)
	}
	if ev.Actor != "" {
		e = e.Str("actor", ev.Actor)
	}
	if ev.Subject != "" {
		e = e.Str("subject", ev.Subject)
	}
	if ev.IP != "" {
		e = e.Str("ip", ev.IP)
	}
	if ev.Detail != "" {
		e = e.Str("detail", ev.Detail)
	}
	e.Msg("audit event")
}

// ClientIP resolves the best-effort client IP for audit metadata.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return strings.Trim(rip, "[]")
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// ActorID returns the request actor identifier from common headers.
func ActorID(r *http.Request) string {
	if r == nil {
		return ""
	}

	for _, header := range []string{"X-Actor-ID", "X-Actor-Id", "X-User-ID", "X-User-Id"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}

// RequestPath returns a stable request path for audit metadata.
func RequestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	if p := strings.TrimSpace(r.URL.Path); p != "" {
		return p
	}
	return "/"
}
