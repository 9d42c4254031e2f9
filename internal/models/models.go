package models

import "time"

type PaymentMethod string

const (
	MethodYooKassa  PaymentMethod = "yookassa"
	MethodCryptoBot PaymentMethod = "cryptobot"
	MethodStars     PaymentMethod = "stars"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
	PaymentExpired  PaymentStatus = "expired"
)

// Terminal reports whether the status is absorbing: once set, no further
// transition may leave it.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentPaid, PaymentFailed, PaymentCanceled, PaymentExpired:
		return true
	}
	return false
}

type GenerationStatus string

const (
	GenerationInProgress GenerationStatus = "in_progress"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

type VideoModel string

const (
	ModelVeoFast    VideoModel = "veo3_fast"
	ModelVeoQuality VideoModel = "veo3"
)

type Client struct {
	ID                 int64
	TelegramID         int64
	Username           string
	Name               string
	Balance            int
	FreeChatUsedToday  int
	FreeChatDailyLimit int
	FreeChatLastReset  time.Time
	ReferralCode       string
	ReferralEarnings   int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NeedsChatQuotaReset reports whether the daily free-chat counter belongs
// to a previous day and must be zeroed before use.
func (c *Client) NeedsChatQuotaReset(today time.Time) bool {
	y1, m1, d1 := c.FreeChatLastReset.Date()
	y2, m2, d2 := today.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (c *Client) HasFreeChatQuota() bool {
	return c.FreeChatUsedToday < c.FreeChatDailyLimit
}

type Payment struct {
	ID       int64
	ClientID int64
	// Telegram id of the owning client, filled by joined reads so that
	// notification paths don't need a second lookup.
	ClientTelegramID int64
	Method           PaymentMethod
	Status           PaymentStatus
	CoinsRequested   int
	AmountMinor      int
	Currency         string
	ExternalID       string
	CheckURL         string
	RawPayload       string
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type GenerationJob struct {
	ID               int64
	ClientID         int64
	ClientTelegramID int64
	TaskID           string
	Model            VideoModel
	AspectRatio      string
	Prompt           string
	Status           GenerationStatus
	CoinsCharged     int
	ResultURL        string
	FailureReason    string
	MessageID        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Referral struct {
	ID            int64
	InviterID     int64
	InvitedID     int64
	InviterReward int
	InvitedBonus  int
	CreatedAt     time.Time
}

type LedgerEntry struct {
	ID        int64
	ClientID  int64
	Delta     int
	Reason    string
	Reference string
	CreatedAt time.Time
}

type CoinPackage struct {
	ID        int64
	Coins     int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
