package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGVideoBot/internal/admin"
	"github.com/digkill/TGVideoBot/internal/config"
	"github.com/digkill/TGVideoBot/internal/database"
	"github.com/digkill/TGVideoBot/internal/gpt"
	"github.com/digkill/TGVideoBot/internal/payment"
	"github.com/digkill/TGVideoBot/internal/poller"
	"github.com/digkill/TGVideoBot/internal/repository"
	"github.com/digkill/TGVideoBot/internal/service"
	"github.com/digkill/TGVideoBot/internal/storage"
	"github.com/digkill/TGVideoBot/internal/telegram"
	"github.com/digkill/TGVideoBot/internal/veo"
	"github.com/digkill/TGVideoBot/pkg/logger"
)

// Default top-up buttons, seeded on an empty coin_packages table.
var defaultPackages = []int{1, 5, 10, 25, 50}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	veoClient := veo.NewClient(cfg, logr)
	gptClient := gpt.NewClient(cfg)

	clientRepo := repository.NewClientRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	packageRepo := repository.NewPackageRepository(db)

	if err := packageRepo.EnsureDefaults(ctx, defaultPackages); err != nil {
		log.Fatalf("seed packages: %v", err)
	}

	providers := []payment.Provider{
		payment.NewYooKassa(cfg.YooKassaShopID, cfg.YooKassaSecretKey, cfg.YooKassaBaseURL),
		payment.NewCryptoBot(cfg.CryptoBotToken, cfg.CryptoBotBaseURL, cfg.USDTRateRub),
	}
	stars := payment.NewStars(cfg.StarRateRub)

	clientService := service.NewClientService(clientRepo, referralRepo, cfg.FreeChatDailyLimit, cfg.ReferralRewardCoins, cfg.ReferralBonusCoins, logr)
	paymentService := service.NewPaymentService(paymentRepo, packageRepo, providers, stars, cfg.CoinRateRub, cfg.MinTopupCoins, cfg.MaxTopupCoins, cfg.YooKassaReturnURL, logr)
	generationService := service.NewGenerationService(generationRepo, clientRepo, veoClient, cfg.FastVideoCost, cfg.QualityVideoCost, cfg.MaxVideosPerBatch, logr)
	chatService := service.NewChatService(clientRepo, gptClient, logr)

	uploader, err := storage.NewUploader(cfg)
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	bot := telegram.NewBot(cfg, botAPI, logr, clientService, paymentService, generationService, chatService, uploader)

	sweeps := poller.New(logr)
	if err := sweeps.Add("payments", cfg.PaymentPollInterval, func(ctx context.Context) error {
		return paymentService.ReconcileOnce(ctx, bot)
	}); err != nil {
		log.Fatalf("schedule payment poller: %v", err)
	}
	if err := sweeps.Add("generations", cfg.GenerationPollInterval, func(ctx context.Context) error {
		return generationService.PollOnce(ctx, bot)
	}); err != nil {
		log.Fatalf("schedule generation poller: %v", err)
	}
	sweeps.Start()
	defer sweeps.Stop()

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr,
		clientRepo, paymentRepo, generationRepo, packageRepo, paymentService, bot)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
