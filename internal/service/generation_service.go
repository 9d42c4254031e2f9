package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/TGVideoBot/internal/models"
	"github.com/digkill/TGVideoBot/internal/repository"
	"github.com/digkill/TGVideoBot/internal/veo"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBadBatchSize        = errors.New("batch size out of range")
)

type GenerationStore interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	ListInProgress(ctx context.Context) ([]models.GenerationJob, error)
	MarkCompleted(ctx context.Context, id int64, resultURL string) (bool, error)
	MarkFailedRefund(ctx context.Context, id int64, reason string) (int, error)
}

// BalanceStore covers the two ledger-backed balance mutations the
// generation flow performs.
type BalanceStore interface {
	Debit(ctx context.Context, clientID int64, amount int, reason string) (bool, error)
	Credit(ctx context.Context, clientID int64, amount int, reason string) error
}

type VideoClient interface {
	CreateTask(ctx context.Context, req veo.GenerateRequest) (string, error)
	GetStatus(ctx context.Context, taskID string) (*veo.TaskStatus, error)
}

type GenerationNotifier interface {
	GenerationCompleted(job models.GenerationJob, resultURL string)
	GenerationFailed(job models.GenerationJob, reason string, refunded int)
}

type DispatchRequest struct {
	Model       models.VideoModel
	AspectRatio string
	Prompt      string
	ImageURLs   []string
	Count       int
	MessageID   int
}

// DispatchResult reports how the batch went: jobs that made it to the
// provider, units whose submission failed, and the coins already returned
// for those failed units.
type DispatchResult struct {
	Jobs          []models.GenerationJob
	FailedUnits   int
	RefundedCoins int
}

type GenerationService struct {
	jobs     GenerationStore
	balances BalanceStore
	video    VideoClient

	fastCost     int
	qualityCost  int
	maxBatchSize int

	log *slog.Logger
}

func NewGenerationService(jobs GenerationStore, balances BalanceStore, video VideoClient, fastCost, qualityCost, maxBatchSize int, log *slog.Logger) *GenerationService {
	return &GenerationService{
		jobs:         jobs,
		balances:     balances,
		video:        video,
		fastCost:     fastCost,
		qualityCost:  qualityCost,
		maxBatchSize: maxBatchSize,
		log:          log,
	}
}

// UnitCost returns the coin price of a single video on the given model.
func (s *GenerationService) UnitCost(model models.VideoModel) int {
	if model == models.ModelVeoQuality {
		return s.qualityCost
	}
	return s.fastCost
}

func (s *GenerationService) MaxBatchSize() int {
	return s.maxBatchSize
}

// Dispatch charges the full batch up front, then submits each unit to the
// provider. A unit whose submission fails is refunded immediately and gets
// no job row; the other units proceed. ErrInsufficientBalance means
// nothing was charged and nothing was submitted.
func (s *GenerationService) Dispatch(ctx context.Context, client *models.Client, req DispatchRequest) (*DispatchResult, error) {
	if req.Count < 1 || req.Count > s.maxBatchSize {
		return nil, ErrBadBatchSize
	}
	unitCost := s.UnitCost(req.Model)
	total := unitCost * req.Count

	charged, err := s.balances.Debit(ctx, client.ID, total, repository.ReasonGenerationCharge)
	if err != nil {
		return nil, fmt.Errorf("charge batch: %w", err)
	}
	if !charged {
		return nil, ErrInsufficientBalance
	}
	s.log.Info("batch charged", "client_id", client.ID, "model", req.Model, "count", req.Count, "coins", total)

	result := &DispatchResult{}
	for i := 0; i < req.Count; i++ {
		taskID, err := s.video.CreateTask(ctx, veo.GenerateRequest{
			Prompt:      req.Prompt,
			ImageURLs:   req.ImageURLs,
			Model:       string(req.Model),
			AspectRatio: req.AspectRatio,
		})
		if err != nil {
			s.log.Error("submit generation", "client_id", client.ID, "unit", i+1, "error", err)
			if refundErr := s.balances.Credit(ctx, client.ID, unitCost, repository.ReasonDispatchRefund); refundErr != nil {
				// The coins stay debited; operators reconcile from the ledger.
				s.log.Error("refund failed unit", "client_id", client.ID, "coins", unitCost, "error", refundErr)
			} else {
				result.RefundedCoins += unitCost
			}
			result.FailedUnits++
			continue
		}

		job := models.GenerationJob{
			ClientID:         client.ID,
			ClientTelegramID: client.TelegramID,
			TaskID:           taskID,
			Model:            req.Model,
			AspectRatio:      req.AspectRatio,
			Prompt:           req.Prompt,
			Status:           models.GenerationInProgress,
			CoinsCharged:     unitCost,
			MessageID:        req.MessageID,
		}
		if err := s.jobs.Create(ctx, &job); err != nil {
			// The provider task is running but untracked. Refund so the
			// client is not charged for a video that can never arrive.
			s.log.Error("record generation job", "client_id", client.ID, "task_id", taskID, "error", err)
			if refundErr := s.balances.Credit(ctx, client.ID, unitCost, repository.ReasonDispatchRefund); refundErr != nil {
				s.log.Error("refund untracked unit", "client_id", client.ID, "coins", unitCost, "error", refundErr)
			} else {
				result.RefundedCoins += unitCost
			}
			result.FailedUnits++
			continue
		}
		result.Jobs = append(result.Jobs, job)
	}
	return result, nil
}

// PollOnce walks the in-progress jobs and settles those the provider has
// finished. Still-running and transiently unreachable tasks are left for
// the next sweep.
func (s *GenerationService) PollOnce(ctx context.Context, notify GenerationNotifier) error {
	jobs, err := s.jobs.ListInProgress(ctx)
	if err != nil {
		return fmt.Errorf("list in-progress jobs: %w", err)
	}
	for _, job := range jobs {
		status, err := s.video.GetStatus(ctx, job.TaskID)
		if err != nil {
			s.log.Error("poll generation", "job_id", job.ID, "task_id", job.TaskID, "error", err)
			continue
		}
		switch {
		case status.Failed():
			refunded, err := s.jobs.MarkFailedRefund(ctx, job.ID, status.ErrorMessage)
			if err != nil {
				s.log.Error("fail generation job", "job_id", job.ID, "error", err)
				continue
			}
			if refunded > 0 {
				s.log.Info("generation failed, refunded", "job_id", job.ID, "coins", refunded, "reason", status.ErrorMessage)
				if notify != nil {
					notify.GenerationFailed(job, status.ErrorMessage, refunded)
				}
			}
		case status.Done():
			resultURL := status.ResultURLs[0]
			completed, err := s.jobs.MarkCompleted(ctx, job.ID, resultURL)
			if err != nil {
				s.log.Error("complete generation job", "job_id", job.ID, "error", err)
				continue
			}
			if completed {
				s.log.Info("generation completed", "job_id", job.ID, "result_url", resultURL)
				if notify != nil {
					notify.GenerationCompleted(job, resultURL)
				}
			}
		}
	}
	return nil
}
