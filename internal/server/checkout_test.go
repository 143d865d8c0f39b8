package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/healthchat/healthchat-server/internal/plans"
)

func newTestCheckoutHandlers(t *testing.T, create func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)) *CheckoutHandlers {
	t.Helper()
	return &CheckoutHandlers{
		cfg: &Config{
			BaseURL:      "https://cp.healthchat.example",
			StripeAPIKey: "sk_test_123",
		},
		createCheckoutSession: create,
	}
}

func checkoutReq(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
}

func TestHandleCreateCheckout(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	h := newTestCheckoutHandlers(t, func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/pay/cs_test_1"}, nil
	})

	rec := httptest.NewRecorder()
	h.HandleCreateCheckout(rec, checkoutReq(`{"email":"buyer@example.com","plan":"Pro","seats":4,"org_name":"Acme Health"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}

	var resp checkoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "cs_test_1" || resp.URL == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if captured == nil {
		t.Fatal("expected checkout session params")
	}
	pro, _ := plans.ByName(plans.PlanPro)
	if got := stripe.StringValue(captured.LineItems[0].Price); got != pro.StripePriceID {
		t.Errorf("price = %q, want %q", got, pro.StripePriceID)
	}
	if got := stripe.Int64Value(captured.LineItems[0].Quantity); got != 4 {
		t.Errorf("quantity = %d, want 4", got)
	}
	if got := stripe.StringValue(captured.CustomerEmail); got != "buyer@example.com" {
		t.Errorf("customer email = %q", got)
	}
	if captured.Metadata["org_name"] != "Acme Health" {
		t.Errorf("metadata = %v", captured.Metadata)
	}
	success := stripe.StringValue(captured.SuccessURL)
	if !strings.Contains(success, stripeCheckoutSessionIDPlaceholder) {
		t.Errorf("success URL %q must keep the session id placeholder unescaped", success)
	}
}

func TestHandleCreateCheckout_SeatsFloor(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	h := newTestCheckoutHandlers(t, func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{ID: "cs_test_2", URL: "https://checkout.stripe.com/pay/cs_test_2"}, nil
	})

	rec := httptest.NewRecorder()
	h.HandleCreateCheckout(rec, checkoutReq(`{"email":"solo@example.com","plan":"Basic"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := stripe.Int64Value(captured.LineItems[0].Quantity); got != 1 {
		t.Errorf("quantity = %d, want floor of 1", got)
	}
}

func TestHandleCreateCheckout_Validation(t *testing.T) {
	h := newTestCheckoutHandlers(t, func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		t.Fatal("checkout session should not be created")
		return nil, nil
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"invalid email", `{"email":"not-an-email","plan":"Pro"}`, http.StatusBadRequest},
		{"unknown plan", `{"email":"a@example.com","plan":"Platinum"}`, http.StatusBadRequest},
		{"free plan not purchasable", `{"email":"a@example.com","plan":"Free"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleCreateCheckout(rec, checkoutReq(tt.body))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleCreateCheckout(rec, httptest.NewRequest(http.MethodGet, "/api/checkout", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
	})
}

func TestHandleCreateCheckout_StripeFailure(t *testing.T) {
	h := newTestCheckoutHandlers(t, func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("stripe down")
	})

	rec := httptest.NewRecorder()
	h.HandleCreateCheckout(rec, checkoutReq(`{"email":"a@example.com","plan":"Pro"}`))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHandleCreateCheckout_NotConfigured(t *testing.T) {
	h := &CheckoutHandlers{cfg: &Config{BaseURL: "https://cp.healthchat.example"}}

	rec := httptest.NewRecorder()
	h.HandleCreateCheckout(rec, checkoutReq(`{"email":"a@example.com","plan":"Pro"}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestSetStripeKey(t *testing.T) {
	old := stripe.Key
	defer func() { stripe.Key = old }()

	SetStripeKey(&Config{StripeAPIKey: "  sk_test_trim  "})
	if stripe.Key != "sk_test_trim" {
		t.Errorf("stripe.Key = %q, want trimmed key", stripe.Key)
	}
}
