package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/TGVideoBot/internal/models"
)

// ClientStore is the slice of the client repository the services need.
type ClientStore interface {
	FindByID(ctx context.Context, id int64) (*models.Client, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.Client, error)
	FindByReferralCode(ctx context.Context, code string) (*models.Client, error)
	Create(ctx context.Context, client *models.Client) (*models.Client, error)
	UpdateProfile(ctx context.Context, clientID int64, username, name string) error
	SetReferralCode(ctx context.Context, clientID int64, code string) error
	Balance(ctx context.Context, clientID int64) (int, error)
}

type ReferralStore interface {
	CreateOnce(ctx context.Context, inviterID, invitedID int64, inviterReward, invitedBonus int) (bool, error)
	CountByInviter(ctx context.Context, inviterID int64) (int, error)
}

type ClientService struct {
	clients   ClientStore
	referrals ReferralStore

	freeChatDailyLimit  int
	referralRewardCoins int
	referralBonusCoins  int

	log *slog.Logger
}

func NewClientService(clients ClientStore, referrals ReferralStore, freeChatDailyLimit, referralRewardCoins, referralBonusCoins int, log *slog.Logger) *ClientService {
	return &ClientService{
		clients:             clients,
		referrals:           referrals,
		freeChatDailyLimit:  freeChatDailyLimit,
		referralRewardCoins: referralRewardCoins,
		referralBonusCoins:  referralBonusCoins,
		log:                 log,
	}
}

// Ensure loads the client by telegram id, creating the record on first
// contact. A referral code carried in the /start payload is applied only
// on that first contact: returning users never trigger a referral, and a
// client can be invited at most once.
func (s *ClientService) Ensure(ctx context.Context, telegramID int64, username, name, referralCode string) (*models.Client, error) {
	client, err := s.clients.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	if client != nil {
		if client.Username != username || client.Name != name {
			if err := s.clients.UpdateProfile(ctx, client.ID, username, name); err != nil {
				return nil, fmt.Errorf("update profile: %w", err)
			}
			client.Username = username
			client.Name = name
		}
		return client, nil
	}

	client, err = s.clients.Create(ctx, &models.Client{
		TelegramID:         telegramID,
		Username:           username,
		Name:               name,
		FreeChatDailyLimit: s.freeChatDailyLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.log.Info("client registered", "client_id", client.ID, "telegram_id", telegramID)

	if referralCode != "" {
		if err := s.applyReferral(ctx, client, referralCode); err != nil {
			// Registration must not fail because of a bad invite link.
			s.log.Error("apply referral", "client_id", client.ID, "code", referralCode, "error", err)
		}
	}
	return client, nil
}

func (s *ClientService) applyReferral(ctx context.Context, invited *models.Client, code string) error {
	inviter, err := s.clients.FindByReferralCode(ctx, code)
	if err != nil {
		return fmt.Errorf("find inviter: %w", err)
	}
	if inviter == nil {
		return nil
	}
	created, err := s.referrals.CreateOnce(ctx, inviter.ID, invited.ID, s.referralRewardCoins, s.referralBonusCoins)
	if err != nil {
		return fmt.Errorf("create referral: %w", err)
	}
	if created {
		invited.Balance += s.referralBonusCoins
		s.log.Info("referral applied", "inviter_id", inviter.ID, "invited_id", invited.ID)
	}
	return nil
}

// ReferralCode returns the client's invite code, minting one on first use.
func (s *ClientService) ReferralCode(ctx context.Context, client *models.Client) (string, error) {
	if client.ReferralCode != "" {
		return client.ReferralCode, nil
	}
	code := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if err := s.clients.SetReferralCode(ctx, client.ID, code); err != nil {
		return "", fmt.Errorf("set referral code: %w", err)
	}
	// A concurrent mint may have won; the stored code is authoritative.
	fresh, err := s.clients.FindByID(ctx, client.ID)
	if err != nil {
		return "", fmt.Errorf("reload client: %w", err)
	}
	if fresh == nil {
		return "", fmt.Errorf("client %d disappeared", client.ID)
	}
	client.ReferralCode = fresh.ReferralCode
	return fresh.ReferralCode, nil
}

// ReferralStats reports the invite code, how many clients the invite
// brought in and the coins earned from them.
func (s *ClientService) ReferralStats(ctx context.Context, client *models.Client) (code string, invited int, earned int, err error) {
	code, err = s.ReferralCode(ctx, client)
	if err != nil {
		return "", 0, 0, err
	}
	invited, err = s.referrals.CountByInviter(ctx, client.ID)
	if err != nil {
		return "", 0, 0, fmt.Errorf("count invited: %w", err)
	}
	return code, invited, client.ReferralEarnings, nil
}

func (s *ClientService) Balance(ctx context.Context, clientID int64) (int, error) {
	return s.clients.Balance(ctx, clientID)
}
