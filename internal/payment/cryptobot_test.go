package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCryptoBotAmountUSDT(t *testing.T) {
	cb := NewCryptoBot("token", "https://pay.crypt.bot", 95)
	cases := []struct {
		minor int
		want  float64
	}{
		{40000, 4.21},  // 400 rub / 95
		{8000, 0.84},   // 80 rub
		{9500, 1},       // exactly one usdt
		{100000, 10.53}, // 1000 rub
	}
	for _, tc := range cases {
		if got := cb.AmountUSDT(tc.minor); got != tc.want {
			t.Errorf("AmountUSDT(%d) = %v, want %v", tc.minor, got, tc.want)
		}
	}
}

func TestCryptoBotCreateCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/createInvoice" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Crypto-Pay-API-Token") != "token" {
			t.Error("api token header missing")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["asset"] != "USDT" {
			t.Errorf("asset = %v", req["asset"])
		}
		if req["amount"] != "4.21" {
			t.Errorf("amount = %v", req["amount"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"invoice_id":      12345,
				"status":          "active",
				"bot_invoice_url": "https://t.me/CryptoBot?start=inv12345",
			},
		})
	}))
	defer srv.Close()

	cb := NewCryptoBot("token", srv.URL, 95)
	charge, err := cb.CreateCharge(context.Background(), 40000, "Пополнение", "")
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.ExternalID != "12345" {
		t.Errorf("external id = %q", charge.ExternalID)
	}
	if charge.CheckURL != "https://t.me/CryptoBot?start=inv12345" {
		t.Errorf("check url = %q", charge.CheckURL)
	}
}

func TestCryptoBotGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/getInvoices" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("invoice_ids"); got != "12345" {
			t.Errorf("invoice_ids = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"items": []map[string]any{{"invoice_id": 12345, "status": "paid"}},
			},
		})
	}))
	defer srv.Close()

	cb := NewCryptoBot("token", srv.URL, 95)
	status, err := cb.GetStatus(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != StatusPaid {
		t.Errorf("status = %s, want paid", status)
	}
}

func TestCryptoBotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": map[string]any{"code": 401, "name": "UNAUTHORIZED"},
		})
	}))
	defer srv.Close()

	cb := NewCryptoBot("bad-token", srv.URL, 95)
	if _, err := cb.CreateCharge(context.Background(), 100, "x", ""); err == nil {
		t.Fatal("expected error for ok=false response")
	}
}

func TestMapCryptoBotStatus(t *testing.T) {
	cases := map[string]ChargeStatus{
		"paid":     StatusPaid,
		"expired":  StatusExpired,
		"canceled": StatusCanceled,
		"active":   StatusPending,
		"":         StatusPending,
	}
	for raw, want := range cases {
		if got := MapCryptoBotStatus(raw); got != want {
			t.Errorf("MapCryptoBotStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
