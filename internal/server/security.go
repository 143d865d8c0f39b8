package server

import "net/http"

// SecurityHeaders wraps an http.Handler to set security headers on all
// responses. The control plane serves JSON only, so the CSP denies everything
// a browser could execute or embed.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deny all framing — control plane responses should never be embedded.
		w.Header().Set("X-Frame-Options", "DENY")

		// Prevent MIME type sniffing.
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Disable legacy XSS auditor.
		w.Header().Set("X-XSS-Protection", "0")

		// Referrer policy — avoid leaking full URL to third parties (Stripe redirect).
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Permissions policy — the API doesn't use any device APIs.
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()")

		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}
