package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGVideoBot/internal/models"
)

var ErrQuotaExhausted = errors.New("daily free chat quota exhausted")

type QuotaStore interface {
	ResetChatQuota(ctx context.Context, clientID int64, today time.Time) error
	IncChatUsage(ctx context.Context, clientID int64) error
}

type ChatClient interface {
	Ask(ctx context.Context, question string) (string, error)
	AdaptPrompt(ctx context.Context, userPrompt string) (string, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// ChatService answers free-form questions within the daily free quota and
// lends the chat model to the video flow for prompt adaptation and voice
// transcription, which are not metered.
type ChatService struct {
	quotas QuotaStore
	gpt    ChatClient
	now    func() time.Time
	log    *slog.Logger
}

func NewChatService(quotas QuotaStore, gpt ChatClient, log *slog.Logger) *ChatService {
	return &ChatService{
		quotas: quotas,
		gpt:    gpt,
		now:    time.Now,
		log:    log,
	}
}

// EnsureQuota rolls the daily counter over when the stored reset date is
// not today. Calling it twice on the same day is a no-op.
func (s *ChatService) EnsureQuota(ctx context.Context, client *models.Client) error {
	today := s.now()
	if !client.NeedsChatQuotaReset(today) {
		return nil
	}
	if err := s.quotas.ResetChatQuota(ctx, client.ID, today); err != nil {
		return fmt.Errorf("reset chat quota: %w", err)
	}
	client.FreeChatUsedToday = 0
	client.FreeChatLastReset = today
	return nil
}

// Ask consumes one unit of the daily quota and returns the model's answer.
func (s *ChatService) Ask(ctx context.Context, client *models.Client, question string) (string, error) {
	if err := s.EnsureQuota(ctx, client); err != nil {
		return "", err
	}
	if !client.HasFreeChatQuota() {
		return "", ErrQuotaExhausted
	}
	answer, err := s.gpt.Ask(ctx, question)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if err := s.quotas.IncChatUsage(ctx, client.ID); err != nil {
		// The answer already exists; losing one quota tick is the
		// cheaper failure.
		s.log.Error("inc chat usage", "client_id", client.ID, "error", err)
	} else {
		client.FreeChatUsedToday++
	}
	return answer, nil
}

// Remaining reports how many free questions are left today.
func (s *ChatService) Remaining(ctx context.Context, client *models.Client) (int, error) {
	if err := s.EnsureQuota(ctx, client); err != nil {
		return 0, err
	}
	left := client.FreeChatDailyLimit - client.FreeChatUsedToday
	if left < 0 {
		left = 0
	}
	return left, nil
}

// AdaptPrompt rewrites a raw idea into a generation-ready prompt.
func (s *ChatService) AdaptPrompt(ctx context.Context, userPrompt string) (string, error) {
	return s.gpt.AdaptPrompt(ctx, userPrompt)
}

// Transcribe turns a voice message into prompt text.
func (s *ChatService) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return s.gpt.Transcribe(ctx, audio, filename)
}
