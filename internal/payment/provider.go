package payment

import (
	"context"
	"fmt"

	"github.com/digkill/TGVideoBot/internal/models"
)

// ChargeStatus is the provider-neutral view of a charge.
type ChargeStatus string

const (
	StatusPending  ChargeStatus = "pending"
	StatusPaid     ChargeStatus = "paid"
	StatusFailed   ChargeStatus = "failed"
	StatusCanceled ChargeStatus = "canceled"
	StatusExpired  ChargeStatus = "expired"
)

// Charge is the result of creating a charge with an external provider.
type Charge struct {
	ExternalID string
	CheckURL   string
	Raw        string
}

// Provider abstracts one external payment gateway. Amounts are fiat minor
// units (kopeks); each implementation converts to its own denomination.
type Provider interface {
	Name() models.PaymentMethod
	CreateCharge(ctx context.Context, amountMinor int, description, returnURL string) (*Charge, error)
	GetStatus(ctx context.Context, externalID string) (ChargeStatus, error)
}

// ProviderError carries the upstream status and message of a failed
// provider call. Callers surface Message to the user and leave the payment
// pending for retry.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status=%d %s", e.Provider, e.StatusCode, e.Message)
}
