package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGVideoBot/internal/config"
	"github.com/digkill/TGVideoBot/internal/models"
	"github.com/digkill/TGVideoBot/internal/service"
)

var errReferenceNotImage = errors.New("reference not image")

type ImageStorage interface {
	UploadReference(ctx context.Context, data []byte, contentType string) (string, error)
}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	clients    *service.ClientService
	payments   *service.PaymentService
	generation *service.GenerationService
	chat       *service.ChatService
	storage    ImageStorage
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, clients *service.ClientService, payments *service.PaymentService, generation *service.GenerationService, chat *service.ChatService, storage ImageStorage) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		clients:    clients,
		payments:   payments,
		generation: generation,
		chat:       chat,
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.PreCheckoutQuery != nil {
				b.handlePreCheckout(update.PreCheckoutQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)

	if len(msg.Photo) > 0 || msg.Document != nil {
		if session.State != StateAwaitingReference {
			b.sendText(msg.Chat.ID, "Фото пригодится как референс при создании видео. Начните с /video.")
			return
		}
		if err := b.handleReferencePhoto(ctx, msg, session); err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(msg.Chat.ID, "Это не изображение. Пришлите фото или нажмите «Без фото».")
			} else {
				b.log.Error("reference upload", "err", err)
				b.sendText(msg.Chat.ID, "Не удалось сохранить фото, попробуйте снова.")
			}
		}
		return
	}

	switch session.State {
	case StateAwaitingPrompt:
		b.handlePromptMessage(ctx, msg, session)
	case StateAwaitingTopupAmount:
		b.handleCustomAmount(ctx, msg)
	case StateChatting:
		b.handleChatMessage(ctx, msg)
	default:
		b.sendMainMenu(msg.Chat.ID)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		referralCode := strings.TrimSpace(msg.CommandArguments())
		client, err := b.ensureClientWithCode(ctx, msg.From, msg.Chat.ID, referralCode)
		if err != nil {
			b.log.Error("ensure client", "err", err)
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf(
			"Привет, %s!\n\nЯ создаю видео по описанию и отвечаю на вопросы.\n\n🎬 Быстрое видео — %d монеты, качественное — %d монеты.\n💬 Бесплатный чат — %d вопросов в день.\n\nВаш баланс: %d монет.",
			displayName(client), b.cfg.FastVideoCost, b.cfg.QualityVideoCost, client.FreeChatDailyLimit, client.Balance,
		))
		b.sendMainMenu(msg.Chat.ID)
	case "video":
		b.startVideoFlow(msg.Chat.ID)
	case "chat":
		b.startChatMode(msg.Chat.ID)
	case "topup":
		b.showTopupOptions(ctx, msg.Chat.ID)
	case "balance":
		b.showBalance(ctx, msg.From, msg.Chat.ID)
	case "ref":
		b.showReferral(ctx, msg.From, msg.Chat.ID)
	case "menu", "cancel":
		b.state.Reset(msg.Chat.ID)
		b.sendMainMenu(msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Откройте меню: /menu")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data
	b.ackCallback(cb.ID)

	switch {
	case data == "menu_video":
		b.startVideoFlow(chatID)
	case data == "menu_chat":
		b.startChatMode(chatID)
	case data == "menu_topup":
		b.showTopupOptions(ctx, chatID)
	case data == "menu_balance":
		b.showBalance(ctx, cb.From, chatID)
	case data == "menu_ref":
		b.showReferral(ctx, cb.From, chatID)
	case data == "fmt_fast", data == "fmt_quality":
		b.handleFormatChoice(chatID, data)
	case strings.HasPrefix(data, "side_"):
		b.handleAspectChoice(chatID, data)
	case data == "skip_photo":
		b.askCount(chatID)
	case strings.HasPrefix(data, "cnt_"):
		b.handleCountChoice(ctx, cb, data)
	case data == "amt_custom":
		b.state.Set(chatID, &Session{State: StateAwaitingTopupAmount})
		b.sendText(chatID, fmt.Sprintf("Введите количество монет (от %d до %d):", b.cfg.MinTopupCoins, b.cfg.MaxTopupCoins))
	case strings.HasPrefix(data, "amt_"):
		coins, err := strconv.Atoi(strings.TrimPrefix(data, "amt_"))
		if err != nil {
			return
		}
		b.startTopup(ctx, cb.From, chatID, coins)
	case strings.HasPrefix(data, "mtd_"):
		b.handleMethodChoice(ctx, chatID, data)
	case strings.HasPrefix(data, "chk_"):
		b.handlePaymentCheck(ctx, chatID, strings.TrimPrefix(data, "chk_"))
	case strings.HasPrefix(data, "cxl_"):
		b.handlePaymentCancel(ctx, chatID, strings.TrimPrefix(data, "cxl_"))
	}
}

// --- main menu ---

func (b *Bot) sendMainMenu(chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎬 Создать видео", "menu_video"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Чат с ИИ", "menu_chat"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Баланс", "menu_balance"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💰 Пополнить", "menu_topup"),
			tgbotapi.NewInlineKeyboardButtonData("👥 Пригласить друга", "menu_ref"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Что будем делать?")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send menu", "err", err)
	}
}

// --- video wizard ---

func (b *Bot) startVideoFlow(chatID int64) {
	b.state.Set(chatID, &Session{State: StateAwaitingFormat})
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("⚡ Быстрое — %d мон.", b.cfg.FastVideoCost), "fmt_fast"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("💎 Качественное — %d мон.", b.cfg.QualityVideoCost), "fmt_quality"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Выберите формат видео:")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send format keyboard", "err", err)
	}
}

func (b *Bot) handleFormatChoice(chatID int64, data string) {
	session := b.state.Get(chatID)
	if session.State != StateAwaitingFormat {
		b.startVideoFlow(chatID)
		return
	}
	if data == "fmt_quality" {
		session.Model = models.ModelVeoQuality
	} else {
		session.Model = models.ModelVeoFast
	}
	session.State = StateAwaitingAspect
	b.state.Set(chatID, session)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🖥 Горизонтальное 16:9", "side_16_9"),
			tgbotapi.NewInlineKeyboardButtonData("📱 Вертикальное 9:16", "side_9_16"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Выберите ориентацию:")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send aspect keyboard", "err", err)
	}
}

func (b *Bot) handleAspectChoice(chatID int64, data string) {
	session := b.state.Get(chatID)
	if session.State != StateAwaitingAspect {
		b.startVideoFlow(chatID)
		return
	}
	if data == "side_9_16" {
		session.AspectRatio = "9:16"
	} else {
		session.AspectRatio = "16:9"
	}
	session.State = StateAwaitingPrompt
	b.state.Set(chatID, session)
	b.sendText(chatID, "Опишите, что должно быть на видео. Можно текстом или голосовым сообщением.")
}

func (b *Bot) handlePromptMessage(ctx context.Context, msg *tgbotapi.Message, session *Session) {
	prompt := strings.TrimSpace(msg.Text)
	if prompt == "" && msg.Voice != nil {
		data, _, err := b.downloadFile(ctx, msg.Voice.FileID)
		if err != nil {
			b.log.Error("download voice", "err", err)
			b.sendText(msg.Chat.ID, "Не удалось получить голосовое сообщение, попробуйте текстом.")
			return
		}
		prompt, err = b.chat.Transcribe(ctx, data, "voice.ogg")
		if err != nil {
			b.log.Error("transcribe voice", "err", err)
			b.sendText(msg.Chat.ID, "Не удалось распознать голос, попробуйте текстом.")
			return
		}
		prompt = strings.TrimSpace(prompt)
	}
	if prompt == "" {
		b.sendText(msg.Chat.ID, "Описание не может быть пустым.")
		return
	}

	adapted, err := b.chat.AdaptPrompt(ctx, prompt)
	if err != nil {
		b.log.Error("adapt prompt", "err", err)
		adapted = prompt
	}

	session.Prompt = adapted
	session.State = StateAwaitingReference
	b.state.Set(msg.Chat.ID, session)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Без фото", "skip_photo"),
		),
	)
	reply := tgbotapi.NewMessage(msg.Chat.ID, "Можно добавить фото-референс: видео будет оживлять его. Пришлите фото или нажмите «Без фото».")
	reply.ReplyMarkup = keyboard
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send reference keyboard", "err", err)
	}
}

func (b *Bot) handleReferencePhoto(ctx context.Context, msg *tgbotapi.Message, session *Session) error {
	var fileID string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errReferenceNotImage
		}
		fileID = msg.Document.FileID
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return nil
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	if detectedType != "" {
		contentType = detectedType
	}

	url, err := b.storage.UploadReference(ctx, data, contentType)
	if err != nil {
		return err
	}

	session.ReferenceURLs = append(session.ReferenceURLs, url)
	b.state.Set(msg.Chat.ID, session)
	b.askCount(msg.Chat.ID)
	return nil
}

func (b *Bot) askCount(chatID int64) {
	session := b.state.Get(chatID)
	if session.State != StateAwaitingReference {
		return
	}
	session.State = StateAwaitingCount
	b.state.Set(chatID, session)

	unit := b.generation.UnitCost(session.Model)
	var buttons []tgbotapi.InlineKeyboardButton
	for i := 1; i <= b.generation.MaxBatchSize(); i++ {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d — %d мон.", i, unit*i), fmt.Sprintf("cnt_%d", i)))
	}
	msg := tgbotapi.NewMessage(chatID, "Сколько вариантов видео сгенерировать?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send count keyboard", "err", err)
	}
}

func (b *Bot) handleCountChoice(ctx context.Context, cb *tgbotapi.CallbackQuery, data string) {
	chatID := cb.Message.Chat.ID
	session := b.state.Get(chatID)
	if session.State != StateAwaitingCount || session.Prompt == "" {
		b.startVideoFlow(chatID)
		return
	}
	count, err := strconv.Atoi(strings.TrimPrefix(data, "cnt_"))
	if err != nil {
		return
	}

	client, err := b.ensureClient(ctx, cb.From, chatID)
	if err != nil {
		b.log.Error("ensure client dispatch", "err", err)
		return
	}

	result, err := b.generation.Dispatch(ctx, client, service.DispatchRequest{
		Model:       session.Model,
		AspectRatio: session.AspectRatio,
		Prompt:      session.Prompt,
		ImageURLs:   session.ReferenceURLs,
		Count:       count,
		MessageID:   cb.Message.MessageID,
	})
	if err != nil {
		if errors.Is(err, service.ErrInsufficientBalance) {
			b.sendText(chatID, fmt.Sprintf("Недостаточно монет: нужно %d. Пополните баланс.", b.generation.UnitCost(session.Model)*count))
			b.showTopupOptions(ctx, chatID)
			return
		}
		b.log.Error("dispatch generation", "err", err)
		b.sendText(chatID, "Не удалось запустить генерацию, попробуйте позже.")
		return
	}
	b.state.Reset(chatID)

	if len(result.Jobs) > 0 {
		b.sendText(chatID, fmt.Sprintf("Запустил генерацию: %d видео. Пришлю результат, как только будет готов — обычно это занимает несколько минут.", len(result.Jobs)))
	}
	if result.FailedUnits > 0 {
		b.sendText(chatID, fmt.Sprintf("Не удалось запустить %d из %d видео, %d монет возвращено на баланс.", result.FailedUnits, count, result.RefundedCoins))
		b.reportToOperators(fmt.Sprintf("Сбой запуска генерации: client=%d, failed=%d, refunded=%d", client.ID, result.FailedUnits, result.RefundedCoins))
	}
}

// --- free chat ---

func (b *Bot) startChatMode(chatID int64) {
	b.state.Set(chatID, &Session{State: StateChatting})
	b.sendText(chatID, "Режим чата включён — задавайте вопрос. Вернуться в меню: /menu")
}

func (b *Bot) handleChatMessage(ctx context.Context, msg *tgbotapi.Message) {
	question := strings.TrimSpace(msg.Text)
	if question == "" {
		return
	}
	client, err := b.ensureClient(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure client chat", "err", err)
		return
	}
	answer, err := b.chat.Ask(ctx, client, question)
	if err != nil {
		if errors.Is(err, service.ErrQuotaExhausted) {
			b.sendText(msg.Chat.ID, fmt.Sprintf("Лимит бесплатных вопросов на сегодня исчерпан (%d в день). Попробуйте завтра.", client.FreeChatDailyLimit))
			return
		}
		b.log.Error("chat ask", "err", err)
		b.sendText(msg.Chat.ID, "Не удалось получить ответ, попробуйте позже.")
		return
	}
	b.sendText(msg.Chat.ID, answer)
}

// --- top-up flow ---

func (b *Bot) showTopupOptions(ctx context.Context, chatID int64) {
	packages, err := b.payments.Packages(ctx)
	if err != nil {
		b.log.Error("list packages", "err", err)
		b.sendText(chatID, "Не удалось загрузить варианты пополнения, попробуйте позже.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, pkg := range packages {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d мон. — %d ₽", pkg.Coins, b.payments.CoinPriceMinor(pkg.Coins)/100),
			fmt.Sprintf("amt_%d", pkg.Coins)))
		if len(row) == 2 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✏️ Другая сумма", "amt_custom")))

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Сколько монет купить? 1 монета = %d ₽.", b.cfg.CoinRateRub))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send topup keyboard", "err", err)
	}
}

func (b *Bot) handleCustomAmount(ctx context.Context, msg *tgbotapi.Message) {
	coins, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if err != nil {
		b.sendText(msg.Chat.ID, "Введите число — количество монет.")
		return
	}
	b.state.Reset(msg.Chat.ID)
	b.startTopup(ctx, msg.From, msg.Chat.ID, coins)
}

func (b *Bot) startTopup(ctx context.Context, from *tgbotapi.User, chatID int64, coins int) {
	client, err := b.ensureClient(ctx, from, chatID)
	if err != nil {
		b.log.Error("ensure client topup", "err", err)
		return
	}
	p, err := b.payments.StartTopup(ctx, client, coins)
	if err != nil {
		if errors.Is(err, service.ErrAmountOutOfRange) {
			b.sendText(chatID, fmt.Sprintf("Можно купить от %d до %d монет за раз.", b.cfg.MinTopupCoins, b.cfg.MaxTopupCoins))
			return
		}
		b.log.Error("start topup", "err", err)
		b.sendText(chatID, "Не удалось создать платёж, попробуйте позже.")
		return
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Банковская карта", fmt.Sprintf("mtd_yookassa_%d", p.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🪙 Криптовалюта (USDT)", fmt.Sprintf("mtd_cryptobot_%d", p.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ Telegram Stars", fmt.Sprintf("mtd_stars_%d", p.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", fmt.Sprintf("cxl_%d", p.ID)),
		),
	)
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Покупка %d монет за %d ₽. Выберите способ оплаты:", p.CoinsRequested, p.AmountMinor/100))
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send method keyboard", "err", err)
	}
}

func (b *Bot) handleMethodChoice(ctx context.Context, chatID int64, data string) {
	parts := strings.SplitN(strings.TrimPrefix(data, "mtd_"), "_", 2)
	if len(parts) != 2 {
		return
	}
	method := models.PaymentMethod(parts[0])
	paymentID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	p, err := b.payments.SelectMethod(ctx, paymentID, method)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentFinalized):
			b.sendText(chatID, "Этот платёж уже завершён.")
		case errors.Is(err, service.ErrPaymentNotFound):
			b.sendText(chatID, "Платёж не найден.")
		default:
			b.log.Error("select method", "payment_id", paymentID, "method", method, "err", err)
			b.sendText(chatID, "Не удалось выставить счёт, попробуйте другой способ оплаты.")
		}
		return
	}

	if method == models.MethodStars {
		b.sendStarsInvoice(chatID, p)
		return
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Я оплатил", fmt.Sprintf("chk_%d", p.ID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отменить", fmt.Sprintf("cxl_%d", p.ID)),
		),
	)
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Счёт на %d ₽ создан. Оплатите по ссылке:\n%s\n\nПосле оплаты нажмите «Я оплатил».", p.AmountMinor/100, p.CheckURL))
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send payment link", "err", err)
	}
}

func (b *Bot) sendStarsInvoice(chatID int64, p *models.Payment) {
	stars := b.payments.StarsAmount(p)
	invoice := tgbotapi.NewInvoice(chatID,
		fmt.Sprintf("%d монет", p.CoinsRequested),
		"Пополнение баланса",
		service.StarsPayload(p.ID),
		"", // Stars invoices carry no provider token
		"topup",
		"XTR",
		[]tgbotapi.LabeledPrice{{Label: fmt.Sprintf("%d монет", p.CoinsRequested), Amount: stars}},
	)
	if _, err := b.api.Send(invoice); err != nil {
		b.log.Error("send stars invoice", "payment_id", p.ID, "err", err)
		b.sendText(chatID, "Не удалось выставить счёт в Stars, попробуйте другой способ оплаты.")
	}
}

func (b *Bot) handlePaymentCheck(ctx context.Context, chatID int64, rawID string) {
	paymentID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return
	}
	p, err := b.payments.Check(ctx, paymentID)
	if err != nil {
		b.log.Error("check payment", "payment_id", paymentID, "err", err)
		b.sendText(chatID, "Не удалось проверить платёж, попробуйте чуть позже.")
		return
	}
	switch p.Status {
	case models.PaymentPaid:
		b.sendText(chatID, fmt.Sprintf("Оплата получена! На баланс зачислено %d монет.%s", p.CoinsRequested, b.balanceLine(ctx, p.ClientID)))
	case models.PaymentPending:
		b.sendText(chatID, "Платёж ещё не подтверждён. Если вы только что оплатили, подождите минуту и проверьте снова.")
	default:
		b.sendText(chatID, fmt.Sprintf("Платёж закрыт со статусом «%s». Монеты не списаны.", p.Status))
	}
}

func (b *Bot) handlePaymentCancel(ctx context.Context, chatID int64, rawID string) {
	paymentID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return
	}
	canceled, err := b.payments.Cancel(ctx, paymentID)
	if err != nil {
		b.log.Error("cancel payment", "payment_id", paymentID, "err", err)
		return
	}
	if canceled {
		b.sendText(chatID, "Платёж отменён.")
	} else {
		b.sendText(chatID, "Платёж уже завершён, отменить нельзя.")
	}
}

// --- telegram stars callbacks ---

func (b *Bot) handlePreCheckout(query *tgbotapi.PreCheckoutQuery) {
	_, ok := service.ParseStarsPayload(query.InvoicePayload)
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 ok,
	}
	if !ok {
		response.ErrorMessage = "Платёж не найден"
	}
	if _, err := b.api.Request(response); err != nil {
		b.log.Error("answer pre-checkout", "err", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	paymentID, ok := service.ParseStarsPayload(msg.SuccessfulPayment.InvoicePayload)
	if !ok {
		b.log.Error("unexpected invoice payload", "payload", msg.SuccessfulPayment.InvoicePayload)
		return
	}
	p, credited, err := b.payments.FinalizeStars(ctx, paymentID, msg.SuccessfulPayment.TelegramPaymentChargeID)
	if err != nil {
		b.log.Error("finalize stars payment", "payment_id", paymentID, "err", err)
		b.reportToOperators(fmt.Sprintf("Stars-платёж %d получен, но не зачислен: %v", paymentID, err))
		return
	}
	if credited {
		b.sendText(msg.Chat.ID, fmt.Sprintf("Оплата получена! На баланс зачислено %d монет.%s", p.CoinsRequested, b.balanceLine(ctx, p.ClientID)))
	}
}

// --- balance and referrals ---

func (b *Bot) showBalance(ctx context.Context, from *tgbotapi.User, chatID int64) {
	client, err := b.ensureClient(ctx, from, chatID)
	if err != nil {
		b.log.Error("ensure client balance", "err", err)
		return
	}
	remaining, err := b.chat.Remaining(ctx, client)
	if err != nil {
		b.log.Error("chat remaining", "err", err)
		remaining = 0
	}
	b.sendText(chatID, fmt.Sprintf(
		"📊 Баланс: %d монет\n💬 Бесплатных вопросов сегодня: %d из %d\n\n🎬 Быстрое видео — %d мон., качественное — %d мон.",
		client.Balance, remaining, client.FreeChatDailyLimit, b.cfg.FastVideoCost, b.cfg.QualityVideoCost,
	))
}

func (b *Bot) showReferral(ctx context.Context, from *tgbotapi.User, chatID int64) {
	client, err := b.ensureClient(ctx, from, chatID)
	if err != nil {
		b.log.Error("ensure client referral", "err", err)
		return
	}
	code, invited, earned, err := b.clients.ReferralStats(ctx, client)
	if err != nil {
		b.log.Error("referral stats", "err", err)
		b.sendText(chatID, "Не удалось получить реферальную ссылку, попробуйте позже.")
		return
	}
	link := fmt.Sprintf("https://t.me/%s?start=%s", b.api.Self.UserName, code)
	b.sendText(chatID, fmt.Sprintf(
		"👥 Ваша ссылка для приглашений:\n%s\n\nПриглашено: %d\nЗаработано: %d монет\n\nЗа каждого нового пользователя вы получаете %d мон., а он — %d мон. в подарок.",
		link, invited, earned, b.cfg.ReferralRewardCoins, b.cfg.ReferralBonusCoins,
	))
}

// --- notifier hooks for the background pollers ---

func (b *Bot) GenerationCompleted(job models.GenerationJob, resultURL string) {
	video := tgbotapi.NewVideo(job.ClientTelegramID, tgbotapi.FileURL(resultURL))
	video.Caption = "🎬 Ваше видео готово!"
	if job.MessageID != 0 {
		video.ReplyToMessageID = job.MessageID
	}
	if _, err := b.api.Send(video); err != nil {
		b.log.Error("send result video", "job_id", job.ID, "err", err)
		b.sendText(job.ClientTelegramID, fmt.Sprintf("🎬 Видео готово: %s", resultURL))
	}
}

func (b *Bot) GenerationFailed(job models.GenerationJob, reason string, refunded int) {
	b.sendText(job.ClientTelegramID, fmt.Sprintf("К сожалению, видео не получилось сгенерировать. %d монет возвращено на баланс.", refunded))
	b.reportToOperators(fmt.Sprintf("Генерация %d (task %s) завершилась ошибкой: %s", job.ID, job.TaskID, reason))
}

func (b *Bot) PaymentPaid(p models.Payment) {
	b.sendText(p.ClientTelegramID, fmt.Sprintf("Оплата получена! На баланс зачислено %d монет.%s", p.CoinsRequested, b.balanceLine(context.Background(), p.ClientID)))
}

func (b *Bot) PaymentClosed(p models.Payment) {
	b.sendText(p.ClientTelegramID, fmt.Sprintf("Платёж на %d монет закрыт со статусом «%s».", p.CoinsRequested, p.Status))
}

// --- helpers ---

// balanceLine renders the " Баланс: N монет." suffix for paid notices.
// Lookup failures degrade to an empty suffix, the credit itself already
// happened.
func (b *Bot) balanceLine(ctx context.Context, clientID int64) string {
	balance, err := b.clients.Balance(ctx, clientID)
	if err != nil {
		b.log.Error("fetch balance for notice", "client_id", clientID, "err", err)
		return ""
	}
	return fmt.Sprintf(" Баланс: %d монет.", balance)
}

func (b *Bot) ensureClient(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.Client, error) {
	return b.ensureClientWithCode(ctx, from, chatID, "")
}

func (b *Bot) ensureClientWithCode(ctx context.Context, from *tgbotapi.User, chatID int64, referralCode string) (*models.Client, error) {
	telegramID := chatID
	username := ""
	name := ""
	if from != nil {
		telegramID = from.ID
		username = from.UserName
		name = strings.TrimSpace(from.FirstName + " " + from.LastName)
	}
	return b.clients.Ensure(ctx, telegramID, username, name, referralCode)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	return body, strings.TrimSpace(ct), nil
}

func (b *Bot) reportToOperators(text string) {
	for _, chatID := range b.cfg.OperatorChatIDs {
		b.sendText(chatID, "⚠️ "+text)
	}
}

func (b *Bot) ackCallback(callbackID string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func displayName(client *models.Client) string {
	if client.Name != "" {
		return client.Name
	}
	if client.Username != "" {
		return "@" + client.Username
	}
	return "друг"
}
