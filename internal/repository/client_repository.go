package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGVideoBot/internal/models"
)

// Ledger mutation reasons recorded alongside every balance change.
const (
	ReasonPaymentPaid      = "payment_paid"
	ReasonGenerationCharge = "generation_charge"
	ReasonGenerationRefund = "generation_refund"
	ReasonDispatchRefund   = "dispatch_refund"
	ReasonReferralReward   = "referral_reward"
	ReasonReferralBonus    = "referral_bonus"
	ReasonAdminAdjustment  = "admin_adjustment"
)

type ClientRepository struct {
	db *sql.DB
}

func NewClientRepository(db *sql.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(name, ''), balance, free_chat_used_today, free_chat_daily_limit, free_chat_last_reset, COALESCE(referral_code, ''), referral_earnings, created_at, updated_at`

func scanClient(row *sql.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(&c.ID, &c.TelegramID, &c.Username, &c.Name, &c.Balance, &c.FreeChatUsedToday, &c.FreeChatDailyLimit, &c.FreeChatLastReset, &c.ReferralCode, &c.ReferralEarnings, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return &c, nil
}

func (r *ClientRepository) FindByID(ctx context.Context, id int64) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ?`
	return scanClient(r.db.QueryRowContext(ctx, query, id))
}

func (r *ClientRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE telegram_id = ?`
	return scanClient(r.db.QueryRowContext(ctx, query, telegramID))
}

func (r *ClientRepository) FindByReferralCode(ctx context.Context, code string) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE referral_code = ?`
	return scanClient(r.db.QueryRowContext(ctx, query, code))
}

func (r *ClientRepository) Create(ctx context.Context, client *models.Client) (*models.Client, error) {
	const query = `
INSERT INTO clients (telegram_id, username, name, balance, free_chat_daily_limit, free_chat_last_reset)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, CURRENT_DATE)`
	res, err := r.db.ExecContext(ctx, query, client.TelegramID, client.Username, client.Name, client.Balance, client.FreeChatDailyLimit)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	client.ID = id
	return client, nil
}

func (r *ClientRepository) UpdateProfile(ctx context.Context, clientID int64, username, name string) error {
	const query = `
UPDATE clients SET username = NULLIF(?, ''), name = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, name, clientID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Credit adds amount to the client's balance under a row lock and records
// the reason in the ledger within the same transaction.
func (r *ClientRepository) Credit(ctx context.Context, clientID int64, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ? FOR UPDATE`, clientID).Scan(&balance); err != nil {
		return fmt.Errorf("lock client: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?`, amount, clientID); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (client_id, delta, reason) VALUES (?, ?, ?)`, clientID, amount, reason); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit tx: %w", err)
	}
	return nil
}

// Debit subtracts amount from the client's balance. The conditional update
// keeps the balance non-negative; false means insufficient funds, which is
// an outcome, not an error.
func (r *ClientRepository) Debit(ctx context.Context, clientID int64, amount int, reason string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE clients SET balance = balance - ?, updated_at = NOW()
WHERE id = ? AND balance >= ?`, amount, clientID, amount)
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (client_id, delta, reason) VALUES (?, ?, ?)`, clientID, -amount, reason); err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit debit tx: %w", err)
	}
	return true, nil
}

func (r *ClientRepository) Balance(ctx context.Context, clientID int64) (int, error) {
	var balance int
	if err := r.db.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ?`, clientID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ResetChatQuota zeroes the daily free-chat counter and stamps today as the
// last reset date.
func (r *ClientRepository) ResetChatQuota(ctx context.Context, clientID int64, today time.Time) error {
	const query = `
UPDATE clients SET free_chat_used_today = 0, free_chat_last_reset = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, today.Format("2006-01-02"), clientID); err != nil {
		return fmt.Errorf("reset chat quota: %w", err)
	}
	return nil
}

func (r *ClientRepository) IncChatUsage(ctx context.Context, clientID int64) error {
	const query = `UPDATE clients SET free_chat_used_today = free_chat_used_today + 1, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, clientID); err != nil {
		return fmt.Errorf("inc chat usage: %w", err)
	}
	return nil
}

// SetReferralCode assigns a code only when none is present yet.
func (r *ClientRepository) SetReferralCode(ctx context.Context, clientID int64, code string) error {
	const query = `UPDATE clients SET referral_code = ?, updated_at = NOW() WHERE id = ? AND referral_code IS NULL`
	if _, err := r.db.ExecContext(ctx, query, code, clientID); err != nil {
		return fmt.Errorf("set referral code: %w", err)
	}
	return nil
}

func (r *ClientRepository) List(ctx context.Context, limit int) ([]models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.ID, &c.TelegramID, &c.Username, &c.Name, &c.Balance, &c.FreeChatUsedToday, &c.FreeChatDailyLimit, &c.FreeChatLastReset, &c.ReferralCode, &c.ReferralEarnings, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
