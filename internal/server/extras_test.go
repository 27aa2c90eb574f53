package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/flock/internal/config"
	"github.com/dukerupert/flock/internal/push"
)

const testWebhookSecret = "whsec_flock_test"

func withPush(t *testing.T) func(*config.Config) {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}
	return func(c *config.Config) {
		c.VAPIDPublicKey = pub
		c.VAPIDPrivateKey = priv
	}
}

func withStripe(c *config.Config) {
	c.StripeSecretKey = "sk_test_flock"
	c.StripeWebhookSecret = testWebhookSecret
}

func TestOptionalRoutesAbsentWhenUnconfigured(t *testing.T) {
	e := setupTestServer(t)
	admin := e.register(t, "Grace", "pastor@grace.org")

	for _, path := range []string{"/api/push/vapid-key", "/api/push/subscriptions"} {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("Authorization", "Bearer "+admin.Token)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/stripe", nil))
	if rec.Code != http.StatusMethodNotAllowed && rec.Code != http.StatusNotFound {
		t.Errorf("POST /webhooks/stripe = %d, want 404 or 405", rec.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	e := setupTestServer(t, withPush(t))
	admin := e.register(t, "Grace", "pastor@grace.org")
	other := e.register(t, "Hope", "pastor@hope.org")

	rec, env := e.do(t, "GET", "/api/push/vapid-key", admin.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("vapid key = %d", rec.Code)
	}
	var key struct {
		PublicKey string `json:"public_key"`
	}
	decodeData(t, env, &key)
	if key.PublicKey == "" {
		t.Error("empty VAPID public key")
	}

	rec, _ = e.do(t, "POST", "/api/push/subscriptions", admin.Token, map[string]string{"endpoint": "http://insecure.example/1", "p256dh": "k", "auth": "a"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("plain http endpoint = %d, want 400", rec.Code)
	}

	rec, env = e.do(t, "POST", "/api/push/subscriptions", admin.Token, map[string]string{
		"endpoint": "https://push.example/abc", "p256dh": "key", "auth": "secret", "device_name": "Office",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe = %d, body %s", rec.Code, rec.Body.String())
	}
	var sub map[string]any
	decodeData(t, env, &sub)
	if _, leaked := sub["p256dh_key"]; leaked {
		t.Error("subscription keys should not be serialized")
	}
	id := int64(sub["id"].(float64))

	_, env = e.do(t, "GET", "/api/push/subscriptions", admin.Token, nil)
	var subs []map[string]any
	decodeData(t, env, &subs)
	if len(subs) != 1 || subs[0]["device_name"] != "Office" {
		t.Errorf("subscriptions = %v", subs)
	}

	path := fmt.Sprintf("/api/push/subscriptions/%d", id)
	if rec, _ := e.do(t, "DELETE", path, other.Token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("other church delete = %d, want 404", rec.Code)
	}
	if rec, _ := e.do(t, "DELETE", path, admin.Token, nil); rec.Code != http.StatusOK {
		t.Errorf("delete = %d, want 200", rec.Code)
	}
}

func postWebhook(t *testing.T, e *testEnv, session map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      "evt_1",
		"object":  "event",
		"type":    "checkout.session.completed",
		"created": time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC).Unix(),
		"data":    map[string]any{"object": session},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookRecordsOfferingOnce(t *testing.T) {
	e := setupTestServer(t, withStripe)
	admin := e.register(t, "Grace", "pastor@grace.org")

	session := map[string]any{
		"id":             "cs_test_gift",
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   4200,
		"metadata": map[string]string{
			"church_id": fmt.Sprint(admin.User.ChurchID),
			"branch_id": fmt.Sprint(*admin.User.BranchID),
			"user_id":   fmt.Sprint(admin.User.ID),
			"kind":      "donation",
		},
	}
	for i := range 2 {
		if rec := postWebhook(t, e, session); rec.Code != http.StatusOK {
			t.Fatalf("webhook #%d = %d, body %s", i+1, rec.Code, rec.Body.String())
		}
	}

	_, env := e.do(t, "GET", "/api/offerings", admin.Token, nil)
	var offerings []struct {
		Kind        string `json:"kind"`
		AmountCents int64  `json:"amount_cents"`
		GivenOn     string `json:"given_on"`
		ExternalRef string `json:"external_ref"`
	}
	decodeData(t, env, &offerings)
	if len(offerings) != 1 {
		t.Fatalf("len(offerings) = %d, want 1", len(offerings))
	}
	o := offerings[0]
	if o.Kind != "donation" || o.AmountCents != 4200 || o.GivenOn != "2024-05-05" || o.ExternalRef != "cs_test_gift" {
		t.Errorf("offering = %+v", o)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	e := setupTestServer(t, withStripe)

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader([]byte(`{"type":"checkout.session.completed"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCheckoutValidation(t *testing.T) {
	e := setupTestServer(t, withStripe)
	admin := e.register(t, "Grace", "pastor@grace.org")

	tests := []map[string]any{
		{"kind": "tithe", "amount_cents": 100},
		{"branch_id": *admin.User.BranchID, "kind": "raffle", "amount_cents": 100},
		{"branch_id": *admin.User.BranchID, "kind": "tithe", "amount_cents": 0},
		{"branch_id": 9999, "kind": "tithe", "amount_cents": 100},
	}
	for _, body := range tests {
		if rec, _ := e.do(t, "POST", "/api/offerings/checkout", admin.Token, body); rec.Code != http.StatusBadRequest {
			t.Errorf("checkout %v = %d, want 400", body, rec.Code)
		}
	}
}
