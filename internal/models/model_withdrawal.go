package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusAccepted WithdrawalStatus = "accepted"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// WithdrawalRequest is an affiliate's request to pay out their commission
// balance. Requests are operator-approved; accepting one debits the full
// balance at acceptance time.
type WithdrawalRequest struct {
	ID              string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	AffiliateUserID string           `gorm:"column:affiliate_user_id;type:varchar(64);not null;index" json:"affiliate_user_id"`
	WalletAddress   string           `gorm:"column:wallet_address;type:varchar(128);not null" json:"wallet_address"`
	WalletType      string           `gorm:"column:wallet_type;type:varchar(16);not null" json:"wallet_type"`
	Amount          decimal.Decimal  `gorm:"column:amount;type:numeric(20,8);not null" json:"amount"`
	Status          WithdrawalStatus `gorm:"column:status;type:varchar(16);not null;default:'pending'" json:"status"`
	// Extra keeps the operator's resolution note and any provider payout refs.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_request"
}
