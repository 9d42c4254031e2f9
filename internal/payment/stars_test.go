package payment

import "testing"

func TestAmountToStars(t *testing.T) {
	stars := NewStars(1.6)
	cases := []struct {
		minor int
		want  int
	}{
		{8000, 50},    // 80 rub, one coin
		{40000, 250},  // 400 rub
		{16000, 100},  // 160 rub, exact
		{100, 1},      // 1 rub rounds up
		{1, 1},        // 1 kopek still costs a star
		{8100, 51},    // 81 rub rounds up from 50.625
	}
	for _, tc := range cases {
		if got := stars.AmountToStars(tc.minor); got != tc.want {
			t.Errorf("AmountToStars(%d) = %d, want %d", tc.minor, got, tc.want)
		}
	}
}
