package types

type DiscountType string

const (
	DiscountTypeFixed      DiscountType = "fixed"
	DiscountTypePercentage DiscountType = "percentage"
)

type DiscountScope string

const (
	DiscountScopeUser DiscountScope = "user" // capped by max_uses
	DiscountScopeTime DiscountScope = "time" // capped by expiry_time
)

// DiscountPlanScope limits a discount to one plan tier, or "all" for every
// tier. At most one discount per scope may be active, and an "all" discount
// excludes any narrower one (and vice versa).
type DiscountPlanScope string

const DiscountPlanScopeAll DiscountPlanScope = "all"

func (s DiscountPlanScope) Matches(plan PlanType) bool {
	return s == DiscountPlanScopeAll || string(s) == string(plan)
}
