package affiliate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierRate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	monthsAgo := func(n int) time.Time { return now.AddDate(0, -n, 0) }

	tests := []struct {
		name      string
		referrals int
		first     time.Time
		want      float64
	}{
		{"no referrals", 0, monthsAgo(1), 0},
		{"one referral, fresh subscription", 1, now, 0.10},
		{"four referrals, 12 months exactly", 4, monthsAgo(12), 0.10},
		{"four referrals, 13 months", 4, monthsAgo(13), 0},
		{"five referrals, 13 months", 5, monthsAgo(13), 0.15},
		{"nine referrals, 18 months exactly", 9, monthsAgo(18), 0.15},
		{"nine referrals, 19 months", 9, monthsAgo(19), 0},
		{"ten referrals, very old subscription", 10, monthsAgo(60), 0.15},
		{"ten referrals, fresh subscription", 10, now, 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TierRate(tt.referrals, tt.first, now), 1e-9)
		})
	}
}

func TestMonthsBetween(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time {
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{"same day", d(2026, 3, 10), d(2026, 3, 10), 0},
		{"under a month", d(2026, 3, 10), d(2026, 4, 9), 0},
		{"exactly a month", d(2026, 3, 10), d(2026, 4, 10), 1},
		{"fourteen months across a year boundary", d(2025, 1, 5), d(2026, 3, 5), 14},
		{"day-of-month not yet reached", d(2025, 1, 31), d(2026, 2, 28), 12},
		{"b before a clamps to zero", d(2026, 5, 1), d(2026, 4, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, monthsBetween(tt.a, tt.b))
		})
	}
}
