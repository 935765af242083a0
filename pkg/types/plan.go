package types

type PlanType string

const (
	PlanTypeBasic    PlanType = "basic"
	PlanTypeStandard PlanType = "standard"
	PlanTypePremium  PlanType = "premium"
)

func (p PlanType) Valid() bool {
	switch p {
	case PlanTypeBasic, PlanTypeStandard, PlanTypePremium:
		return true
	}
	return false
}

// Plan is a purchasable membership tier. Plans are configuration data, not
// database rows; the price is in integer minor units (XTR stars).
type Plan struct {
	Type         PlanType `json:"type" mapstructure:"type"`
	Title        string   `json:"title" mapstructure:"title"`
	Price        int64    `json:"price" mapstructure:"price"`
	IntervalDays int      `json:"interval_days" mapstructure:"interval_days"`
}

func (p *Plan) Purchasable() bool {
	return p != nil && p.Price > 0 && p.IntervalDays > 0
}
