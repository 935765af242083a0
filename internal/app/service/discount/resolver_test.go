package discount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/types"
)

func fixed(id uint64, value int64, planScope types.DiscountPlanScope) *models.Discount {
	return &models.Discount{
		ID:        id,
		Code:      "FX",
		Type:      types.DiscountTypeFixed,
		Value:     value,
		PlanScope: planScope,
		Active:    true,
	}
}

func percentage(id uint64, value int64, planScope types.DiscountPlanScope) *models.Discount {
	return &models.Discount{
		ID:        id,
		Code:      "PC",
		Type:      types.DiscountTypePercentage,
		Value:     value,
		PlanScope: planScope,
		Active:    true,
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		candidates []*models.Discount
		plan       types.PlanType
		basePrice  int64
		wantPrice  int64
		wantID     uint64
	}{
		{
			name:       "no candidates returns base price",
			candidates: nil,
			plan:       types.PlanTypeBasic,
			basePrice:  100,
			wantPrice:  100,
			wantID:     0,
		},
		{
			name:       "all-scope percentage applies to any plan",
			candidates: []*models.Discount{percentage(1, 20, types.DiscountPlanScopeAll)},
			plan:       types.PlanTypePremium,
			basePrice:  100,
			wantPrice:  80,
			wantID:     1,
		},
		{
			name: "plan-scoped skips non-matching plan",
			candidates: []*models.Discount{
				fixed(1, 30, types.DiscountPlanScope(types.PlanTypeBasic)),
			},
			plan:      types.PlanTypePremium,
			basePrice: 100,
			wantPrice: 100,
			wantID:    0,
		},
		{
			name: "creation order breaks ties",
			candidates: []*models.Discount{
				fixed(3, 10, types.DiscountPlanScopeAll),
				fixed(7, 50, types.DiscountPlanScopeAll),
			},
			plan:      types.PlanTypeBasic,
			basePrice: 100,
			wantPrice: 90,
			wantID:    3,
		},
		{
			name: "non-matching earlier candidate falls through to later one",
			candidates: []*models.Discount{
				fixed(3, 10, types.DiscountPlanScope(types.PlanTypeStandard)),
				fixed(7, 50, types.DiscountPlanScopeAll),
			},
			plan:      types.PlanTypeBasic,
			basePrice: 100,
			wantPrice: 50,
			wantID:    7,
		},
		{
			name:       "fixed discount floors at zero",
			candidates: []*models.Discount{fixed(1, 500, types.DiscountPlanScopeAll)},
			plan:       types.PlanTypeBasic,
			basePrice:  100,
			wantPrice:  0,
			wantID:     1,
		},
		{
			name:       "percentage rounds half up",
			candidates: []*models.Discount{percentage(1, 15, types.DiscountPlanScopeAll)},
			plan:       types.PlanTypeBasic,
			basePrice:  90, // 13.5 off rounds to 14
			wantPrice:  76,
			wantID:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, applied := Resolve(tt.candidates, tt.plan, tt.basePrice)
			assert.Equal(t, tt.wantPrice, price)
			if tt.wantID == 0 {
				assert.Nil(t, applied)
			} else {
				require.NotNil(t, applied)
				assert.Equal(t, tt.wantID, applied.ID)
			}
		})
	}
}

func TestScopeConflict(t *testing.T) {
	basic := types.DiscountPlanScope(types.PlanTypeBasic)
	premium := types.DiscountPlanScope(types.PlanTypePremium)

	tests := []struct {
		name     string
		d        *models.Discount
		active   []*models.Discount
		conflict bool
	}{
		{
			name:     "nothing active",
			d:        fixed(1, 10, types.DiscountPlanScopeAll),
			active:   nil,
			conflict: false,
		},
		{
			name:     "all vs all",
			d:        fixed(2, 10, types.DiscountPlanScopeAll),
			active:   []*models.Discount{fixed(1, 10, types.DiscountPlanScopeAll)},
			conflict: true,
		},
		{
			name:     "all excludes active narrow",
			d:        fixed(2, 10, types.DiscountPlanScopeAll),
			active:   []*models.Discount{fixed(1, 10, basic)},
			conflict: true,
		},
		{
			name:     "narrow excluded by active all",
			d:        fixed(2, 10, basic),
			active:   []*models.Discount{fixed(1, 10, types.DiscountPlanScopeAll)},
			conflict: true,
		},
		{
			name:     "same narrow scope",
			d:        fixed(2, 10, basic),
			active:   []*models.Discount{fixed(1, 10, basic)},
			conflict: true,
		},
		{
			name:     "disjoint narrow scopes coexist",
			d:        fixed(2, 10, basic),
			active:   []*models.Discount{fixed(1, 10, premium)},
			conflict: false,
		},
		{
			name:     "conflict found among several",
			d:        fixed(3, 10, basic),
			active:   []*models.Discount{fixed(1, 10, premium), fixed(2, 10, basic)},
			conflict: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ScopeConflict(tt.d, tt.active)
			if tt.conflict {
				assert.ErrorIs(t, err, ErrScopeConflict)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDiscountRedeemable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	two := 2

	tests := []struct {
		name string
		d    *models.Discount
		want bool
	}{
		{"active unbounded", &models.Discount{Active: true}, true},
		{"inactive", &models.Discount{Active: false}, false},
		{"expired", &models.Discount{Active: true, ExpiryTime: &past}, false},
		{"not yet expired", &models.Discount{Active: true, ExpiryTime: &future}, true},
		{"at cap", &models.Discount{Active: true, MaxUses: &two, UsageCount: 2}, false},
		{"below cap", &models.Discount{Active: true, MaxUses: &two, UsageCount: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Redeemable(now))
		})
	}
}
