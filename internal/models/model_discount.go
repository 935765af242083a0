package models

import (
	"time"

	"github.com/lunarlabs/memberd/pkg/types"
)

// Discount is a promotional code. Activation invariants (one per plan scope,
// "all" excludes narrower scopes) are enforced by the discount service, not
// by constraints here.
type Discount struct {
	ID         uint64                  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code       string                  `gorm:"column:code;type:varchar(32);not null;uniqueIndex" json:"code"`
	Type       types.DiscountType      `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Value      int64                   `gorm:"column:value;type:bigint;not null" json:"value"`
	Scope      types.DiscountScope     `gorm:"column:scope;type:varchar(16);not null" json:"scope"`
	PlanScope  types.DiscountPlanScope `gorm:"column:plan_scope;type:varchar(32);not null;default:'all'" json:"plan_scope"`
	MaxUses    *int                    `gorm:"column:max_uses;default:null" json:"max_uses"`
	ExpiryTime *time.Time              `gorm:"column:expiry_time;default:null" json:"expiry_time"`
	UsageCount int                     `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	Active     bool                    `gorm:"column:active;not null;default:false" json:"active"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

func (Discount) TableName() string {
	return "discount"
}

// Expired reports whether the discount's time cap has passed.
func (d *Discount) Expired(now time.Time) bool {
	return d.ExpiryTime != nil && d.ExpiryTime.Before(now)
}

// Capped reports whether the discount has no redemption slots left.
func (d *Discount) Capped() bool {
	return d.MaxUses != nil && d.UsageCount >= *d.MaxUses
}

// Redeemable reports whether the discount can still be applied at time now.
func (d *Discount) Redeemable(now time.Time) bool {
	return d != nil && d.Active && !d.Expired(now) && !d.Capped()
}

// Apply computes the discounted price in minor units, floored at zero.
func (d *Discount) Apply(basePrice int64) int64 {
	var out int64
	switch d.Type {
	case types.DiscountTypePercentage:
		out = basePrice - int64(float64(basePrice)*float64(d.Value)/100+0.5)
	default:
		out = basePrice - d.Value
	}
	if out < 0 {
		return 0
	}
	return out
}

// DiscountUsage marks a single redemption. The unique (discount_id, user_id)
// pair is the sole guard against a user redeeming the same code twice.
type DiscountUsage struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DiscountID uint64    `gorm:"column:discount_id;not null;uniqueIndex:uniq_discount_user,priority:1" json:"discount_id"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uniq_discount_user,priority:2" json:"user_id"`
	UsageTime  time.Time `gorm:"column:usage_time;not null" json:"usage_time"`
}

func (DiscountUsage) TableName() string {
	return "discount_usage"
}
