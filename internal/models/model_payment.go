package models

import "time"

// ProcessedPayment is the permanent record of a settled provider charge.
// Subscription rows shed their transaction id on every renewal, so this
// table is what keeps a replayed event a no-op long after the id rotated
// off the row.
type ProcessedPayment struct {
	TransactionID string    `gorm:"column:transaction_id;type:varchar(128);primary_key" json:"transaction_id"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (ProcessedPayment) TableName() string {
	return "processed_payment"
}
