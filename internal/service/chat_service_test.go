package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/digkill/TGVideoBot/internal/models"
)

type memQuotaStore struct {
	resets int
	incs   int
}

func (s *memQuotaStore) ResetChatQuota(context.Context, int64, time.Time) error {
	s.resets++
	return nil
}

func (s *memQuotaStore) IncChatUsage(context.Context, int64) error {
	s.incs++
	return nil
}

type echoChatClient struct{}

func (echoChatClient) Ask(_ context.Context, question string) (string, error) {
	return "answer to: " + question, nil
}

func (echoChatClient) AdaptPrompt(_ context.Context, userPrompt string) (string, error) {
	return "cinematic " + userPrompt, nil
}

func (echoChatClient) Transcribe(context.Context, []byte, string) (string, error) {
	return "transcribed", nil
}

func newTestChatService(store *memQuotaStore, now time.Time) *ChatService {
	svc := NewChatService(store, echoChatClient{}, discardLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func chatClientAt(lastReset time.Time, used, limit int) *models.Client {
	return &models.Client{
		ID:                 7,
		TelegramID:         111,
		FreeChatUsedToday:  used,
		FreeChatDailyLimit: limit,
		FreeChatLastReset:  lastReset,
	}
}

func TestEnsureQuotaResetsOnNewDay(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	store := &memQuotaStore{}
	svc := newTestChatService(store, now)

	client := chatClientAt(now.AddDate(0, 0, -1), 10, 10)
	if err := svc.EnsureQuota(context.Background(), client); err != nil {
		t.Fatalf("EnsureQuota: %v", err)
	}
	if store.resets != 1 {
		t.Errorf("resets = %d, want 1", store.resets)
	}
	if client.FreeChatUsedToday != 0 {
		t.Errorf("used = %d, want 0 after reset", client.FreeChatUsedToday)
	}
}

func TestEnsureQuotaSameDayNoop(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	store := &memQuotaStore{}
	svc := newTestChatService(store, now)

	// Reset happened earlier the same day; a later call must not reset
	// again even though the clock moved.
	client := chatClientAt(now.Add(-6*time.Hour), 4, 10)
	for i := 0; i < 2; i++ {
		if err := svc.EnsureQuota(context.Background(), client); err != nil {
			t.Fatalf("EnsureQuota: %v", err)
		}
	}
	if store.resets != 0 {
		t.Errorf("same-day reset happened %d times, want 0", store.resets)
	}
	if client.FreeChatUsedToday != 4 {
		t.Errorf("used = %d, want 4 preserved", client.FreeChatUsedToday)
	}
}

func TestAskConsumesQuota(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	store := &memQuotaStore{}
	svc := newTestChatService(store, now)

	client := chatClientAt(now, 0, 2)
	answer, err := svc.Ask(context.Background(), client, "why is the sky blue")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "answer to: why is the sky blue" {
		t.Errorf("answer = %q", answer)
	}
	if store.incs != 1 || client.FreeChatUsedToday != 1 {
		t.Errorf("incs=%d used=%d, want 1/1", store.incs, client.FreeChatUsedToday)
	}
}

func TestAskExhaustedQuota(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	store := &memQuotaStore{}
	svc := newTestChatService(store, now)

	client := chatClientAt(now, 2, 2)
	if _, err := svc.Ask(context.Background(), client, "one more"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("want ErrQuotaExhausted, got %v", err)
	}
	if store.incs != 0 {
		t.Errorf("exhausted quota must not be consumed, incs=%d", store.incs)
	}
}

func TestAskAfterMidnightRollover(t *testing.T) {
	now := time.Date(2026, 3, 13, 0, 5, 0, 0, time.UTC)
	store := &memQuotaStore{}
	svc := newTestChatService(store, now)

	// Fully spent yesterday; just past midnight the quota is fresh.
	client := chatClientAt(now.AddDate(0, 0, -1), 10, 10)
	if _, err := svc.Ask(context.Background(), client, "good morning"); err != nil {
		t.Fatalf("Ask after rollover: %v", err)
	}
	if store.resets != 1 {
		t.Errorf("resets = %d, want 1", store.resets)
	}
	if client.FreeChatUsedToday != 1 {
		t.Errorf("used = %d, want 1", client.FreeChatUsedToday)
	}
}

func TestRemaining(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	svc := newTestChatService(&memQuotaStore{}, now)

	client := chatClientAt(now, 3, 10)
	left, err := svc.Remaining(context.Background(), client)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 7 {
		t.Errorf("remaining = %d, want 7", left)
	}
}
