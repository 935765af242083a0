package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AffiliateUser maps a referred user to the affiliate whose link they last
// followed. Re-assignable until the first qualifying purchase: the most
// recent referrer wins.
type AffiliateUser struct {
	ReferredUserID  string    `gorm:"column:referred_user_id;type:varchar(64);primaryKey" json:"referred_user_id"`
	AffiliateUserID string    `gorm:"column:affiliate_user_id;type:varchar(64);not null;index" json:"affiliate_user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (AffiliateUser) TableName() string {
	return "affiliate_user"
}

// AffiliateSettings holds an affiliate's code and cumulative earnings
// balance. Earnings move by commission credits, refund clawbacks and
// withdrawal debits, always under the per-affiliate mutex.
type AffiliateSettings struct {
	AffiliateUserID string          `gorm:"column:affiliate_user_id;type:varchar(64);primaryKey" json:"affiliate_user_id"`
	AffiliateCode   string          `gorm:"column:affiliate_code;type:varchar(16);not null;uniqueIndex" json:"affiliate_code"`
	Earnings        decimal.Decimal `gorm:"column:earnings;type:numeric(20,8);not null;default:0" json:"earnings"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (AffiliateSettings) TableName() string {
	return "affiliate_settings"
}

// Referral is the immutable ledger entry for a rewarded referral. Its
// existence (not the AffiliateUser mapping) guards against paying a
// first-purchase bonus twice for the same referred user. AmountEarned is
// what a later refund claws back.
type Referral struct {
	ID              uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	AffiliateUserID string          `gorm:"column:affiliate_user_id;type:varchar(64);not null;uniqueIndex:uniq_affiliate_referred,priority:1" json:"affiliate_user_id"`
	ReferredUserID  string          `gorm:"column:referred_user_id;type:varchar(64);not null;uniqueIndex:uniq_affiliate_referred,priority:2" json:"referred_user_id"`
	AmountEarned    decimal.Decimal `gorm:"column:amount_earned;type:numeric(20,8);not null" json:"amount_earned"`
	ShortID         string          `gorm:"column:short_id;type:varchar(32);not null;index" json:"short_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (Referral) TableName() string {
	return "referral"
}
