package models

import "time"

// RefundRecord survives subscription deletion on purpose: refund eligibility
// is once per user lifetime, so the flag cannot live on the subscription row.
type RefundRecord struct {
	UserID      string    `gorm:"column:user_id;type:varchar(64);primaryKey" json:"user_id"`
	Blacklisted bool      `gorm:"column:blacklisted;not null;default:false" json:"blacklisted"`
	RefundUsed  bool      `gorm:"column:refund_used;not null;default:false" json:"refund_used"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (RefundRecord) TableName() string {
	return "refund_record"
}
