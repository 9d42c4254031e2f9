package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/digkill/TGVideoBot/internal/models"
	"github.com/digkill/TGVideoBot/internal/payment"
)

var (
	ErrAmountOutOfRange = errors.New("top-up amount out of range")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrPaymentFinalized = errors.New("payment already finalized")
	ErrUnknownMethod    = errors.New("unknown payment method")
)

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	FindByExternalID(ctx context.Context, method models.PaymentMethod, externalID string) (*models.Payment, error)
	AttachProvider(ctx context.Context, id int64, method models.PaymentMethod, externalID, checkURL, rawPayload string) error
	MarkTerminal(ctx context.Context, id int64, status models.PaymentStatus) (bool, error)
	FinalizePaid(ctx context.Context, id int64) (bool, error)
	ListPendingDispatched(ctx context.Context) ([]models.Payment, error)
}

type PackageStore interface {
	ListActive(ctx context.Context) ([]models.CoinPackage, error)
}

// PaymentNotifier delivers user-facing messages once the service has
// recorded a transition. Notification failures never roll anything back.
type PaymentNotifier interface {
	PaymentPaid(payment models.Payment)
	PaymentClosed(payment models.Payment)
}

type PaymentService struct {
	payments  PaymentStore
	packages  PackageStore
	providers map[models.PaymentMethod]payment.Provider
	stars     *payment.Stars

	coinRateRub   int
	minTopupCoins int
	maxTopupCoins int
	returnURL     string

	log *slog.Logger
}

func NewPaymentService(payments PaymentStore, packages PackageStore, providers []payment.Provider, stars *payment.Stars, coinRateRub, minTopupCoins, maxTopupCoins int, returnURL string, log *slog.Logger) *PaymentService {
	byMethod := make(map[models.PaymentMethod]payment.Provider, len(providers))
	for _, p := range providers {
		byMethod[p.Name()] = p
	}
	return &PaymentService{
		payments:      payments,
		packages:      packages,
		providers:     byMethod,
		stars:         stars,
		coinRateRub:   coinRateRub,
		minTopupCoins: minTopupCoins,
		maxTopupCoins: maxTopupCoins,
		returnURL:     returnURL,
		log:           log,
	}
}

func (s *PaymentService) Packages(ctx context.Context) ([]models.CoinPackage, error) {
	return s.packages.ListActive(ctx)
}

// CoinPriceMinor converts a coin amount into fiat minor units.
func (s *PaymentService) CoinPriceMinor(coins int) int {
	return coins * s.coinRateRub * 100
}

// StartTopup opens a pending payment for the requested number of coins.
// No provider is bound yet; the client picks the method next.
func (s *PaymentService) StartTopup(ctx context.Context, client *models.Client, coins int) (*models.Payment, error) {
	if coins < s.minTopupCoins || coins > s.maxTopupCoins {
		return nil, ErrAmountOutOfRange
	}
	p := &models.Payment{
		ClientID:         client.ID,
		ClientTelegramID: client.TelegramID,
		Status:           models.PaymentPending,
		CoinsRequested:   coins,
		AmountMinor:      s.CoinPriceMinor(coins),
		Currency:         "RUB",
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	s.log.Info("topup started", "payment_id", p.ID, "client_id", client.ID, "coins", coins)
	return p, nil
}

// SelectMethod binds a payment method to a pending payment. For gateway
// methods this raises the external charge and stores its references; for
// stars only the method is recorded, since the invoice goes through the
// messaging platform and confirmation comes back as a callback.
func (s *PaymentService) SelectMethod(ctx context.Context, paymentID int64, method models.PaymentMethod) (*models.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending {
		return nil, ErrPaymentFinalized
	}

	if method == models.MethodStars {
		if err := s.payments.AttachProvider(ctx, p.ID, method, "", "", ""); err != nil {
			return nil, fmt.Errorf("attach stars method: %w", err)
		}
		p.Method = method
		return p, nil
	}

	provider, ok := s.providers[method]
	if !ok {
		return nil, ErrUnknownMethod
	}
	description := fmt.Sprintf("Пополнение баланса: %d монет", p.CoinsRequested)
	charge, err := provider.CreateCharge(ctx, p.AmountMinor, description, s.returnURL)
	if err != nil {
		return nil, fmt.Errorf("create %s charge: %w", method, err)
	}
	if err := s.payments.AttachProvider(ctx, p.ID, method, charge.ExternalID, charge.CheckURL, charge.Raw); err != nil {
		return nil, fmt.Errorf("attach provider: %w", err)
	}
	s.log.Info("charge created", "payment_id", p.ID, "method", method, "external_id", charge.ExternalID)

	p.Method = method
	p.ExternalID = charge.ExternalID
	p.CheckURL = charge.CheckURL
	return p, nil
}

// Check re-reads the provider-side status of a payment and applies any
// transition. The returned payment reflects the state after the check;
// for an already-terminal payment the check is a no-op.
func (s *PaymentService) Check(ctx context.Context, paymentID int64) (*models.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	if p.Status.Terminal() {
		return p, nil
	}
	provider, ok := s.providers[p.Method]
	if !ok || p.ExternalID == "" {
		return p, nil
	}

	status, err := provider.GetStatus(ctx, p.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("get %s status: %w", p.Method, err)
	}
	if _, err := s.applyStatus(ctx, p.ID, status); err != nil {
		return nil, err
	}
	return s.payments.GetByID(ctx, paymentID)
}

// Cancel closes a pending payment. Returns false when the payment already
// left the pending state, including when it was paid in the meantime.
func (s *PaymentService) Cancel(ctx context.Context, paymentID int64) (bool, error) {
	canceled, err := s.payments.MarkTerminal(ctx, paymentID, models.PaymentCanceled)
	if err != nil {
		return false, fmt.Errorf("cancel payment: %w", err)
	}
	if canceled {
		s.log.Info("payment canceled", "payment_id", paymentID)
	}
	return canceled, nil
}

// FinalizeStars applies the successful-payment callback for a stars
// invoice. The platform charge id is stored as the external reference and
// the shared finalize primitive performs the credit, so a replayed
// callback cannot credit twice.
func (s *PaymentService) FinalizeStars(ctx context.Context, paymentID int64, chargeID string) (*models.Payment, bool, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, false, fmt.Errorf("get payment: %w", err)
	}
	if p == nil {
		return nil, false, ErrPaymentNotFound
	}
	if err := s.payments.AttachProvider(ctx, p.ID, models.MethodStars, chargeID, "", ""); err != nil {
		return nil, false, fmt.Errorf("attach stars charge: %w", err)
	}
	credited, err := s.payments.FinalizePaid(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("finalize stars payment: %w", err)
	}
	if credited {
		s.log.Info("stars payment finalized", "payment_id", p.ID, "charge_id", chargeID)
	}
	fresh, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, false, fmt.Errorf("reload payment: %w", err)
	}
	return fresh, credited, nil
}

// ApplyExternalStatus handles a provider-originated notification, such as
// the card gateway webhook. The payment is located by its external id and
// the same transition rules apply as for a user-initiated check.
func (s *PaymentService) ApplyExternalStatus(ctx context.Context, method models.PaymentMethod, externalID string, status payment.ChargeStatus) (*models.Payment, bool, error) {
	p, err := s.payments.FindByExternalID(ctx, method, externalID)
	if err != nil {
		return nil, false, fmt.Errorf("find payment by external id: %w", err)
	}
	if p == nil {
		return nil, false, ErrPaymentNotFound
	}
	transitioned, err := s.applyStatus(ctx, p.ID, status)
	if err != nil {
		return nil, false, err
	}
	fresh, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload payment: %w", err)
	}
	return fresh, transitioned, nil
}

// ReconcileOnce sweeps pending gateway payments and applies their current
// provider-side status. One broken payment never blocks the rest.
func (s *PaymentService) ReconcileOnce(ctx context.Context, notify PaymentNotifier) error {
	pending, err := s.payments.ListPendingDispatched(ctx)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}
	for _, p := range pending {
		provider, ok := s.providers[p.Method]
		if !ok {
			continue
		}
		status, err := provider.GetStatus(ctx, p.ExternalID)
		if err != nil {
			s.log.Error("reconcile status check", "payment_id", p.ID, "method", p.Method, "error", err)
			continue
		}
		transitioned, err := s.applyStatus(ctx, p.ID, status)
		if err != nil {
			s.log.Error("reconcile transition", "payment_id", p.ID, "status", status, "error", err)
			continue
		}
		if !transitioned || notify == nil {
			continue
		}
		fresh, err := s.payments.GetByID(ctx, p.ID)
		if err != nil || fresh == nil {
			s.log.Error("reconcile reload", "payment_id", p.ID, "error", err)
			continue
		}
		if fresh.Status == models.PaymentPaid {
			notify.PaymentPaid(*fresh)
		} else {
			notify.PaymentClosed(*fresh)
		}
	}
	return nil
}

// applyStatus maps a neutral charge status onto the payment state machine.
// The returned bool reports whether this call performed the transition.
func (s *PaymentService) applyStatus(ctx context.Context, paymentID int64, status payment.ChargeStatus) (bool, error) {
	switch status {
	case payment.StatusPaid:
		credited, err := s.payments.FinalizePaid(ctx, paymentID)
		if err != nil {
			return false, fmt.Errorf("finalize payment: %w", err)
		}
		if credited {
			s.log.Info("payment finalized", "payment_id", paymentID)
		}
		return credited, nil
	case payment.StatusCanceled:
		return s.payments.MarkTerminal(ctx, paymentID, models.PaymentCanceled)
	case payment.StatusExpired:
		return s.payments.MarkTerminal(ctx, paymentID, models.PaymentExpired)
	case payment.StatusFailed:
		return s.payments.MarkTerminal(ctx, paymentID, models.PaymentFailed)
	default:
		return false, nil
	}
}

// StarsAmount converts the payment's fiat price into Telegram Stars.
func (s *PaymentService) StarsAmount(p *models.Payment) int {
	return s.stars.AmountToStars(p.AmountMinor)
}

const starsPayloadPrefix = "stars_payment_"

// StarsPayload builds the invoice payload that ties the platform callback
// back to the payment row.
func StarsPayload(paymentID int64) string {
	return starsPayloadPrefix + strconv.FormatInt(paymentID, 10)
}

func ParseStarsPayload(payload string) (int64, bool) {
	raw, ok := strings.CutPrefix(payload, starsPayloadPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
