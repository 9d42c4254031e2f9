package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestYooKassaCreateCharge(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/payments" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop-1" || pass != "secret" {
			t.Error("basic auth not set")
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Error("idempotence key missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "yk-abc",
			"status": "pending",
			"confirmation": map[string]string{
				"type":             "redirect",
				"confirmation_url": "https://pay.example/yk-abc",
			},
		})
	}))
	defer srv.Close()

	yk := NewYooKassa("shop-1", "secret", srv.URL)
	charge, err := yk.CreateCharge(context.Background(), 40000, "Пополнение", "https://t.me")
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.ExternalID != "yk-abc" || charge.CheckURL != "https://pay.example/yk-abc" {
		t.Errorf("charge = %+v", charge)
	}

	amount := gotBody["amount"].(map[string]any)
	if amount["value"] != "400.00" || amount["currency"] != "RUB" {
		t.Errorf("amount = %v", amount)
	}
	if gotBody["capture"] != true {
		t.Error("capture must be true")
	}
}

func TestYooKassaCreateChargeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"type":"error","description":"invalid shop"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	yk := NewYooKassa("shop-1", "wrong", srv.URL)
	_, err := yk.CreateCharge(context.Background(), 100, "x", "https://t.me")
	if err == nil {
		t.Fatal("expected error on 401")
	}
	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("want ProviderError with 401, got %v", err)
	}
}

func TestYooKassaGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/payments/yk-abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "yk-abc", "status": "succeeded"})
	}))
	defer srv.Close()

	yk := NewYooKassa("shop-1", "secret", srv.URL)
	status, err := yk.GetStatus(context.Background(), "yk-abc")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != StatusPaid {
		t.Errorf("status = %s, want paid", status)
	}
}

func TestMapYooKassaStatus(t *testing.T) {
	cases := map[string]ChargeStatus{
		"succeeded":           StatusPaid,
		"canceled":            StatusCanceled,
		"expired":             StatusExpired,
		"pending":             StatusPending,
		"waiting_for_capture": StatusPending,
		"":                    StatusPending,
	}
	for raw, want := range cases {
		if got := MapYooKassaStatus(raw); got != want {
			t.Errorf("MapYooKassaStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
