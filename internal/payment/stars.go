package payment

import "math"

// Stars converts fiat amounts into Telegram Stars. The in-app currency has
// no polling API: the invoice is raised through the messaging platform and
// confirmation arrives as a successful-payment callback.
type Stars struct {
	starRateRub float64
}

func NewStars(starRateRub float64) *Stars {
	return &Stars{starRateRub: starRateRub}
}

// AmountToStars rounds up so the charge never undercuts the fiat price.
func (s *Stars) AmountToStars(amountMinor int) int {
	rub := float64(amountMinor) / 100
	return int(math.Ceil(rub / s.starRateRub))
}
