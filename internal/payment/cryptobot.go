package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/TGVideoBot/internal/models"
)

// CryptoBot is the crypto-gateway adapter over the Crypto Pay API. Fiat
// amounts are converted into USDT with a configured rate before the
// invoice is raised.
type CryptoBot struct {
	token       string
	baseURL     string
	usdtRateRub float64
	client      *http.Client
}

func NewCryptoBot(token, baseURL string, usdtRateRub float64) *CryptoBot {
	return &CryptoBot{
		token:       token,
		baseURL:     strings.TrimRight(baseURL, "/"),
		usdtRateRub: usdtRateRub,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CryptoBot) Name() models.PaymentMethod {
	return models.MethodCryptoBot
}

// AmountUSDT converts fiat minor units into USDT, rounded to 2 decimals.
func (c *CryptoBot) AmountUSDT(amountMinor int) float64 {
	usdt := float64(amountMinor) / 100 / c.usdtRateRub
	return math.Round(usdt*100) / 100
}

type cryptoBotInvoice struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	BotInvoiceURL string `json:"bot_invoice_url"`
}

type cryptoBotResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (c *CryptoBot) CreateCharge(ctx context.Context, amountMinor int, description, _ string) (*Charge, error) {
	payload := map[string]any{
		"asset":       "USDT",
		"amount":      fmt.Sprintf("%.2f", c.AmountUSDT(amountMinor)),
		"description": description,
	}

	raw, err := c.call(ctx, http.MethodPost, "/api/createInvoice", payload)
	if err != nil {
		return nil, err
	}

	var invoice cryptoBotInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if invoice.InvoiceID == 0 || invoice.BotInvoiceURL == "" {
		return nil, &ProviderError{Provider: "cryptobot", StatusCode: http.StatusOK, Message: "missing invoice id or pay url"}
	}

	return &Charge{
		ExternalID: fmt.Sprintf("%d", invoice.InvoiceID),
		CheckURL:   invoice.BotInvoiceURL,
		Raw:        string(raw),
	}, nil
}

func (c *CryptoBot) GetStatus(ctx context.Context, externalID string) (ChargeStatus, error) {
	endpoint := "/api/getInvoices?" + url.Values{"invoice_ids": {externalID}}.Encode()
	raw, err := c.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		Items []cryptoBotInvoice `json:"items"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode invoices: %w", err)
	}
	if len(result.Items) == 0 {
		return "", &ProviderError{Provider: "cryptobot", StatusCode: http.StatusOK, Message: "invoice not found"}
	}
	return MapCryptoBotStatus(result.Items[0].Status), nil
}

// MapCryptoBotStatus translates a Crypto Pay invoice status into the
// neutral charge status.
func MapCryptoBotStatus(status string) ChargeStatus {
	switch status {
	case "paid":
		return StatusPaid
	case "expired":
		return StatusExpired
	case "canceled":
		return StatusCanceled
	default: // "active"
		return StatusPending
	}
}

func (c *CryptoBot) call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build cryptobot request: %w", err)
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cryptobot request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cryptobot response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: "cryptobot", StatusCode: resp.StatusCode, Message: truncate(raw)}
	}

	var parsed cryptoBotResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode cryptobot response: %w", err)
	}
	if !parsed.OK {
		return nil, &ProviderError{Provider: "cryptobot", StatusCode: resp.StatusCode, Message: parsed.Error.Name}
	}
	return parsed.Result, nil
}
