package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// CreateOnce records the inviter/invited relationship and credits both
// sides in a single transaction. At most one referral may exist per
// invited client: a concurrent or repeated attempt loses either on the
// locked existence check or on the unique key and returns false with no
// balance change.
func (r *ReferralRepository) CreateOnce(ctx context.Context, inviterID, invitedID int64, inviterReward, invitedBonus int) (bool, error) {
	if inviterID == invitedID {
		return false, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin referral tx: %w", err)
	}
	defer tx.Rollback()

	var dummy int
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM referrals WHERE invited_id = ? FOR UPDATE`, invitedID)
	if err := row.Scan(&dummy); err == nil {
		return false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check referral: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO referrals (inviter_id, invited_id, inviter_reward, invited_bonus)
VALUES (?, ?, ?, ?)`, inviterID, invitedID, inviterReward, invitedBonus); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == 1062 { // duplicate invited_id
			return false, nil
		}
		return false, fmt.Errorf("insert referral: %w", err)
	}

	if inviterReward > 0 {
		var balance int
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ? FOR UPDATE`, inviterID).Scan(&balance); err != nil {
			return false, fmt.Errorf("lock inviter: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE clients SET balance = balance + ?, referral_earnings = referral_earnings + ?, updated_at = NOW()
WHERE id = ?`, inviterReward, inviterReward, inviterID); err != nil {
			return false, fmt.Errorf("credit inviter: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (client_id, delta, reason, reference) VALUES (?, ?, ?, ?)`,
			inviterID, inviterReward, ReasonReferralReward, fmt.Sprintf("invited:%d", invitedID)); err != nil {
			return false, fmt.Errorf("insert inviter ledger entry: %w", err)
		}
	}

	if invitedBonus > 0 {
		var balance int
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ? FOR UPDATE`, invitedID).Scan(&balance); err != nil {
			return false, fmt.Errorf("lock invited: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?`, invitedBonus, invitedID); err != nil {
			return false, fmt.Errorf("credit invited: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (client_id, delta, reason, reference) VALUES (?, ?, ?, ?)`,
			invitedID, invitedBonus, ReasonReferralBonus, fmt.Sprintf("inviter:%d", inviterID)); err != nil {
			return false, fmt.Errorf("insert invited ledger entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit referral tx: %w", err)
	}
	return true, nil
}

func (r *ReferralRepository) CountByInviter(ctx context.Context, inviterID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referrals WHERE inviter_id = ?`, inviterID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return count, nil
}
