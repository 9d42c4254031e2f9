package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGVideoBot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `
g.id, g.client_id, c.telegram_id, g.task_id, g.model, g.aspect_ratio, g.prompt, g.status, g.coins_charged,
COALESCE(g.result_url, ''), COALESCE(g.failure_reason, ''), g.message_id, g.created_at, g.updated_at`

func scanGeneration(row interface{ Scan(...any) error }) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.ClientID, &j.ClientTelegramID, &j.TaskID, &j.Model, &j.AspectRatio, &j.Prompt, &j.Status, &j.CoinsCharged,
		&j.ResultURL, &j.FailureReason, &j.MessageID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *GenerationRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	const query = `
INSERT INTO generation_jobs (client_id, task_id, model, aspect_ratio, prompt, status, coins_charged, message_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, job.ClientID, job.TaskID, job.Model, job.AspectRatio, job.Prompt, job.Status, job.CoinsCharged, job.MessageID)
	if err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	return nil
}

func (r *GenerationRepository) GetByID(ctx context.Context, id int64) (*models.GenerationJob, error) {
	query := `SELECT ` + generationColumns + ` FROM generation_jobs g JOIN clients c ON c.id = g.client_id WHERE g.id = ?`
	j, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation job: %w", err)
	}
	return j, nil
}

func (r *GenerationRepository) ListInProgress(ctx context.Context) ([]models.GenerationJob, error) {
	query := `SELECT ` + generationColumns + `
FROM generation_jobs g JOIN clients c ON c.id = g.client_id
WHERE g.status = 'in_progress'
ORDER BY g.id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list in-progress jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		j, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MarkCompleted stores the result and closes the job. coins_charged is left
// untouched as the historical record of what the video cost. Returns false
// when the job already reached a terminal state.
func (r *GenerationRepository) MarkCompleted(ctx context.Context, id int64, resultURL string) (bool, error) {
	const query = `
UPDATE generation_jobs SET status = 'completed', result_url = ?, updated_at = NOW()
WHERE id = ? AND status = 'in_progress'`
	res, err := r.db.ExecContext(ctx, query, resultURL, id)
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("completed rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkFailedRefund fails the job and refunds the upfront charge. The job
// row is locked, and the refund happens in the same transaction that zeroes
// coins_charged, so re-polling a job whose terminal update already landed
// refunds nothing. Returns the number of coins refunded.
func (r *GenerationRepository) MarkFailedRefund(ctx context.Context, id int64, reason string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback()

	var clientID int64
	var coins int
	var status models.GenerationStatus
	row := tx.QueryRowContext(ctx, `SELECT client_id, coins_charged, status FROM generation_jobs WHERE id = ? FOR UPDATE`, id)
	if err := row.Scan(&clientID, &coins, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("generation job %d not found", id)
		}
		return 0, fmt.Errorf("lock generation job: %w", err)
	}
	if status != models.GenerationInProgress {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE generation_jobs SET status = 'failed', failure_reason = ?, coins_charged = 0, updated_at = NOW()
WHERE id = ?`, reason, id); err != nil {
		return 0, fmt.Errorf("mark job failed: %w", err)
	}

	if coins > 0 {
		var balance int
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ? FOR UPDATE`, clientID).Scan(&balance); err != nil {
			return 0, fmt.Errorf("lock client: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE clients SET balance = balance + ?, updated_at = NOW() WHERE id = ?`, coins, clientID); err != nil {
			return 0, fmt.Errorf("refund balance: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (client_id, delta, reason, reference) VALUES (?, ?, ?, ?)`,
			clientID, coins, ReasonGenerationRefund, fmt.Sprintf("generation:%d", id)); err != nil {
			return 0, fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit refund tx: %w", err)
	}
	return coins, nil
}

func (r *GenerationRepository) List(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	query := `SELECT ` + generationColumns + ` FROM generation_jobs g JOIN clients c ON c.id = g.client_id ORDER BY g.id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list generation jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		j, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
