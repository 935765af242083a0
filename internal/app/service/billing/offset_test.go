package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAffiliateOffset(t *testing.T) {
	tests := []struct {
		name    string
		balance decimal.Decimal
		price   int64
		want    int64
	}{
		{"zero balance", decimal.Zero, 100, 0},
		{"balance below price", decimal.NewFromInt(50), 100, 50},
		{"balance equals price keeps one unit charged", decimal.NewFromInt(100), 100, 99},
		{"balance above price keeps one unit charged", decimal.NewFromInt(500), 100, 99},
		{"fractional balance floors", decimal.NewFromFloat(49.75), 100, 49},
		{"price of one never offsets", decimal.NewFromInt(500), 1, 0},
		{"free price never offsets", decimal.NewFromInt(500), 0, 0},
		{"negative balance", decimal.NewFromInt(-10), 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AffiliateOffset(tt.balance, tt.price))
		})
	}
}

// A 100-unit plan under a 20% discount with a 50-unit affiliate balance
// charges 30: the balance covers what it can after the discount.
func TestPurchasePricingWorkedExample(t *testing.T) {
	base := int64(100)
	afterDiscount := base - int64(float64(base)*20/100+0.5)
	assert.Equal(t, int64(80), afterDiscount)

	offset := AffiliateOffset(decimal.NewFromInt(50), afterDiscount)
	assert.Equal(t, int64(50), offset)
	assert.Equal(t, int64(30), afterDiscount-offset)

	tag := EncodePurchase("basic", 42, offset)
	assert.Equal(t, "sub|plan:basic|discount_used:true|discount_id:42|aff_discount:50", tag)
}
