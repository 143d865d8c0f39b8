package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMux(t *testing.T, cfg *Config) *http.ServeMux {
	t.Helper()
	if cfg == nil {
		cfg = &Config{
			AdminKey:            "test-admin-key",
			BaseURL:             "https://cp.healthchat.example",
			StripeWebhookSecret: "whsec_test",
		}
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:  cfg,
		Store:   newTestStore(t),
		Version: "test",
	})
	return mux
}

func TestRegisterRoutes_ProbesAreUnauthenticated(t *testing.T) {
	mux := newTestMux(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRegisterRoutes_StatusAndMetricsRequireAdminKey(t *testing.T) {
	mux := newTestMux(t, nil)

	for _, path := range []string{"/status", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without key status = %d, want 401", path, rec.Code)
		}

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Admin-Key", "test-admin-key")
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s with key status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRegisterRoutes_PublicStatusFlag(t *testing.T) {
	mux := newTestMux(t, &Config{
		AdminKey:            "test-admin-key",
		BaseURL:             "https://cp.healthchat.example",
		StripeWebhookSecret: "whsec_test",
		PublicStatus:        true,
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status status = %d, want 200 when public", rec.Code)
	}
}

func TestRegisterRoutes_WebhookRejectsUnsignedPost(t *testing.T) {
	mux := newTestMux(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsigned webhook status = %d, want 400", rec.Code)
	}
}

func TestRegisterRoutes_MemberMethodDispatch(t *testing.T) {
	mux := newTestMux(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		// /members collection handler: GET/POST supported, others rejected.
		{"members-get-dispatches", http.MethodGet, "/api/orgs/org_1/members", http.StatusNotFound},
		{"members-post-dispatches", http.MethodPost, "/api/orgs/org_1/members", http.StatusNotFound},
		{"members-put-rejected", http.MethodPut, "/api/orgs/org_1/members", http.StatusMethodNotAllowed},

		// /members/{email} handler: DELETE only.
		{"member-delete-dispatches", http.MethodDelete, "/api/orgs/org_1/members/a@example.com", http.StatusNotFound},
		{"member-get-rejected", http.MethodGet, "/api/orgs/org_1/members/a@example.com", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-Admin-Key", "test-admin-key")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("%s %s status = %d, want %d (body=%q)",
					tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_UserEndpointsRequireAdminKey(t *testing.T) {
	mux := newTestMux(t, nil)

	paths := []string{
		"/api/users/a@example.com/subscription",
		"/api/users/a@example.com/access?feature=x",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without key status = %d, want 401", path, rec.Code)
		}

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer test-admin-key")
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s with key status = %d, want 404 for unknown user", path, rec.Code)
		}
	}
}
