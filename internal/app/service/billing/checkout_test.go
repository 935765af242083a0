package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/types"
)

func TestValidateCheckout(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	renewal := func(issuedAt time.Time, affDiscount int64) *Payload {
		return &Payload{
			Kind:        PayloadKindRenewal,
			Plan:        types.PlanTypeBasic,
			ShortID:     "abc12",
			IssuedAt:    issuedAt,
			AffDiscount: affDiscount,
		}
	}
	purchase := func(discountID uint64, affDiscount int64) *Payload {
		p := &Payload{Kind: PayloadKindPurchase, Plan: types.PlanTypeBasic, AffDiscount: affDiscount}
		if discountID > 0 {
			p.DiscountUsed = true
			p.DiscountID = discountID
		}
		return p
	}

	tests := []struct {
		name    string
		p       *Payload
		facts   checkoutFacts
		wantErr error
	}{
		{"fresh renewal", renewal(now.Add(-time.Hour), 0), checkoutFacts{SubExists: true}, nil},
		{"renewal at ttl edge", renewal(now.Add(-24*time.Hour), 0), checkoutFacts{SubExists: true}, nil},
		{"expired renewal invoice", renewal(now.Add(-25*time.Hour), 0), checkoutFacts{SubExists: true}, ErrInvoiceExpired},
		{"renewal for vanished subscription", renewal(now.Add(-time.Hour), 0), checkoutFacts{}, ErrNotSubscribed},
		{"quoted offset still covered", renewal(now.Add(-time.Hour), 50), checkoutFacts{SubExists: true, Balance: decimal.NewFromInt(50)}, nil},
		{"quoted offset no longer covered", renewal(now.Add(-time.Hour), 50), checkoutFacts{SubExists: true, Balance: decimal.NewFromInt(49)}, ErrQuoteStale},
		{"purchase offset stale", purchase(0, 30), checkoutFacts{Balance: decimal.NewFromInt(10)}, ErrQuoteStale},
		{"blacklisted purchase refused", purchase(0, 0), checkoutFacts{Blacklisted: true}, ErrBlacklisted},
		{"blacklist does not bind renewals", renewal(now.Add(-time.Hour), 0), checkoutFacts{Blacklisted: true, SubExists: true}, nil},
		{"quoted discount deleted", purchase(7, 0), checkoutFacts{}, ErrDiscountGone},
		{"quoted discount deactivated", purchase(7, 0), checkoutFacts{Discount: &models.Discount{Code: "SPRING", Active: false}}, ErrDiscountGone},
		{"quoted discount still redeemable", purchase(7, 0), checkoutFacts{Discount: &models.Discount{Code: "SPRING", Active: true}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCheckout(tt.p, "u1", tt.facts, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
