package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGVideoBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
p.id, p.client_id, c.telegram_id, p.method, p.status, p.coins_requested, p.amount_minor, p.currency,
COALESCE(p.external_id, ''), COALESCE(p.check_url, ''), COALESCE(p.raw_payload, ''), p.completed_at, p.created_at, p.updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	var p models.Payment
	var completedAt sql.NullTime
	err := row.Scan(&p.ID, &p.ClientID, &p.ClientTelegramID, &p.Method, &p.Status, &p.CoinsRequested, &p.AmountMinor, &p.Currency,
		&p.ExternalID, &p.CheckURL, &p.RawPayload, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (client_id, method, status, coins_requested, amount_minor, currency)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.ClientID, payment.Method, payment.Status, payment.CoinsRequested, payment.AmountMinor, payment.Currency)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p JOIN clients c ON c.id = p.client_id WHERE p.id = ?`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) FindByExternalID(ctx context.Context, method models.PaymentMethod, externalID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p JOIN clients c ON c.id = p.client_id WHERE p.method = ? AND p.external_id = ? LIMIT 1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, method, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

// AttachProvider binds the chosen method and the provider references to a
// still-pending payment. The method stays mutable until the payment is
// finalized, so rebinding after a failed charge attempt is allowed.
func (r *PaymentRepository) AttachProvider(ctx context.Context, id int64, method models.PaymentMethod, externalID, checkURL, rawPayload string) error {
	const query = `
UPDATE payments
SET method = ?, external_id = NULLIF(?, ''), check_url = NULLIF(?, ''), raw_payload = NULLIF(?, ''), updated_at = NOW()
WHERE id = ? AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, method, externalID, checkURL, rawPayload, id); err != nil {
		return fmt.Errorf("attach provider: %w", err)
	}
	return nil
}

// MarkTerminal moves a pending payment into a non-paid terminal status.
// No balance is touched. Returns false when the payment already left the
// pending state.
func (r *PaymentRepository) MarkTerminal(ctx context.Context, id int64, status models.PaymentStatus) (bool, error) {
	if !status.Terminal() || status == models.PaymentPaid {
		return false, fmt.Errorf("invalid terminal status: %s", status)
	}
	const query = `UPDATE payments SET status = ?, updated_at = NOW() WHERE id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return false, fmt.Errorf("mark payment terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("terminal rows affected: %w", err)
	}
	return affected > 0, nil
}

// FinalizePaid is the single paid-transition primitive. Under one
// transaction it re-reads the payment row with a lock, verifies it is still
// pending, marks it paid and credits the client's balance by
// coins_requested. Returns true only for the call that performed the
// transition, which makes concurrent finalization attempts (user check,
// reconciliation poller, webhook, stars callback) collapse to exactly one
// credit.
func (r *PaymentRepository) FinalizePaid(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback()

	var clientID int64
	var coins int
	var status models.PaymentStatus
	row := tx.QueryRowContext(ctx, `SELECT client_id, coins_requested, status FROM payments WHERE id = ? FOR UPDATE`, id)
	if err := row.Scan(&clientID, &coins, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("payment %d not found", id)
		}
		return false, fmt.Errorf("lock payment: %w", err)
	}
	if status != models.PaymentPending {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = 'paid', completed_at = NOW(), updated_at = NOW() WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("mark payment paid: %w", err)
	}

	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ? FOR UPDATE`, clientID).Scan(&balance); err != nil {
		return false, fmt.Errorf("lock client: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?`, coins, clientID); err != nil {
		return false, fmt.Errorf("credit balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (client_id, delta, reason, reference) VALUES (?, ?, ?, ?)`,
		clientID, coins, ReasonPaymentPaid, fmt.Sprintf("payment:%d", id)); err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit finalize tx: %w", err)
	}
	return true, nil
}

// ListPendingDispatched returns pending payments that already have a
// provider bound, i.e. the set the reconciliation poller must re-check.
// Stars payments have no external reference and are excluded; their
// confirmation arrives through the platform callback.
func (r *PaymentRepository) ListPendingDispatched(ctx context.Context) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + `
FROM payments p JOIN clients c ON c.id = p.client_id
WHERE p.status = 'pending' AND p.external_id IS NOT NULL AND p.method IN ('yookassa', 'cryptobot')
ORDER BY p.id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) List(ctx context.Context, limit int) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p JOIN clients c ON c.id = p.client_id ORDER BY p.id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
