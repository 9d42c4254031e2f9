package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/TGVideoBot/internal/models"
)

// YooKassa is the card-gateway adapter over the YooKassa payments API.
type YooKassa struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewYooKassa(shopID, secretKey, baseURL string) *YooKassa {
	return &YooKassa{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (y *YooKassa) Name() models.PaymentMethod {
	return models.MethodYooKassa
}

type yooKassaPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Description string `json:"description"`
}

func (y *YooKassa) CreateCharge(ctx context.Context, amountMinor int, description, returnURL string) (*Charge, error) {
	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%.2f", float64(amountMinor)/100),
			"currency": "RUB",
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": description,
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL+"/v3/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(y.shopID, y.secretKey)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read yookassa response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: "yookassa", StatusCode: resp.StatusCode, Message: truncate(raw)}
	}

	var parsed yooKassaPayment
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, &ProviderError{Provider: "yookassa", StatusCode: resp.StatusCode, Message: "missing id or confirmation url"}
	}

	return &Charge{
		ExternalID: parsed.ID,
		CheckURL:   parsed.Confirmation.URL,
		Raw:        string(raw),
	}, nil
}

func (y *YooKassa) GetStatus(ctx context.Context, externalID string) (ChargeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/v3/payments/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("build yookassa status request: %w", err)
	}
	req.SetBasicAuth(y.shopID, y.secretKey)

	resp, err := y.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("yookassa status request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read yookassa status: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &ProviderError{Provider: "yookassa", StatusCode: resp.StatusCode, Message: truncate(raw)}
	}

	var parsed yooKassaPayment
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode yookassa status: %w", err)
	}
	return MapYooKassaStatus(parsed.Status), nil
}

// MapYooKassaStatus translates a YooKassa payment status into the neutral
// charge status. Unknown and in-flight statuses stay pending.
func MapYooKassaStatus(status string) ChargeStatus {
	switch status {
	case "succeeded":
		return StatusPaid
	case "canceled":
		return StatusCanceled
	case "expired":
		return StatusExpired
	default:
		return StatusPending
	}
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
