package affiliate

import "time"

// TierRate returns the commission rate for an affiliate with the given number
// of actively paying referrals and the given tenure of the paying
// subscription, measured from its first payment date.
//
//	1-4 referrals, subscription younger than 12 months: 10%
//	5-9 referrals, subscription younger than 18 months: 15%
//	10+ referrals: 15% regardless of tenure
//
// Outside those windows the rate is zero; the referral link is still
// recorded so the count keeps growing.
func TierRate(activeReferrals int, firstPaymentDate, now time.Time) float64 {
	months := monthsBetween(firstPaymentDate, now)
	switch {
	case activeReferrals >= 10:
		return 0.15
	case activeReferrals >= 5:
		if months <= 18 {
			return 0.15
		}
	case activeReferrals >= 1:
		if months <= 12 {
			return 0.10
		}
	}
	return 0
}

// monthsBetween counts whole calendar months from a to b, clamped at zero.
func monthsBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
