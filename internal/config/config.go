package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting
// services. It replaces the admin-panel live-config registry of the old
// deployment: every tunable is read once at startup.
type Config struct {
	BotToken string
	MySQLDSN string

	VeoAPIKey  string
	VeoBaseURL string

	GPTAPIKey          string
	GPTBaseURL         string
	GPTChatModel       string
	GPTTranscribeModel string
	PromptAdapterModel string

	RequestTimeout time.Duration

	// Pricing. Coins are the bot's internal currency; fiat amounts are
	// kept in minor units (kopeks).
	CoinRateRub       int
	USDTRateRub       float64
	StarRateRub       float64
	MinTopupCoins     int
	MaxTopupCoins     int
	FastVideoCost     int
	QualityVideoCost  int
	MaxVideosPerBatch int

	FreeChatDailyLimit int

	ReferralRewardCoins int
	ReferralBonusCoins  int

	YooKassaShopID    string
	YooKassaSecretKey string
	YooKassaReturnURL string
	YooKassaBaseURL   string

	CryptoBotToken   string
	CryptoBotBaseURL string

	PaymentPollInterval    time.Duration
	GenerationPollInterval time.Duration

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	OperatorChatIDs []int64

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		VeoBaseURL:         getEnv("VEO_BASE_URL", "https://api.kie.ai"),
		GPTBaseURL:         getEnv("GPT_BASE_URL", "https://api.openai.com"),
		GPTChatModel:       getEnv("GPT_CHAT_MODEL", "gpt-4o-mini"),
		GPTTranscribeModel: getEnv("GPT_TRANSCRIBE_MODEL", "whisper-1"),
		PromptAdapterModel: getEnv("PROMPT_ADAPTER_MODEL", ""),

		RequestTimeout: time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),

		CoinRateRub:       getInt("COIN_RATE_RUB", 80),
		USDTRateRub:       getFloat("USDT_RATE_RUB", 95),
		StarRateRub:       getFloat("STAR_RATE_RUB", 1.6),
		MinTopupCoins:     getInt("MIN_TOPUP_COINS", 1),
		MaxTopupCoins:     getInt("MAX_TOPUP_COINS", 1000),
		FastVideoCost:     getInt("FAST_VIDEO_COST", 2),
		QualityVideoCost:  getInt("QUALITY_VIDEO_COST", 4),
		MaxVideosPerBatch: getInt("MAX_VIDEOS_PER_BATCH", 3),

		FreeChatDailyLimit: getInt("FREE_CHAT_DAILY_LIMIT", 10),

		ReferralRewardCoins: getInt("REFERRAL_REWARD_COINS", 1),
		ReferralBonusCoins:  getInt("REFERRAL_BONUS_COINS", 1),

		YooKassaShopID:    os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecretKey: os.Getenv("YOOKASSA_SECRET_KEY"),
		YooKassaReturnURL: getEnv("YOOKASSA_RETURN_URL", "https://t.me"),
		YooKassaBaseURL:   getEnv("YOOKASSA_BASE_URL", "https://api.yookassa.ru"),

		CryptoBotToken:   os.Getenv("CRYPTOBOT_TOKEN"),
		CryptoBotBaseURL: getEnv("CRYPTOBOT_BASE_URL", "https://pay.crypt.bot"),

		PaymentPollInterval:    time.Minute * time.Duration(getInt("PAYMENT_POLL_MINUTES", 2)),
		GenerationPollInterval: time.Minute * time.Duration(getInt("GENERATION_POLL_MINUTES", 1)),

		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "change-me"),

		OperatorChatIDs: getInt64List("OPERATOR_CHAT_IDS"),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "references"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.VeoAPIKey = os.Getenv("VEO_API_KEY")
	cfg.GPTAPIKey = os.Getenv("GPT_API_KEY")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.VeoAPIKey == "" {
		missing = append(missing, "VEO_API_KEY")
	}
	if cfg.GPTAPIKey == "" {
		missing = append(missing, "GPT_API_KEY")
	}
	if cfg.YooKassaShopID == "" {
		missing = append(missing, "YOOKASSA_SHOP_ID")
	}
	if cfg.YooKassaSecretKey == "" {
		missing = append(missing, "YOOKASSA_SECRET_KEY")
	}
	if cfg.CryptoBotToken == "" {
		missing = append(missing, "CRYPTOBOT_TOKEN")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt64List(key string) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely on process environment is fine.
	return nil
}
