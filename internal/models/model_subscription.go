package models

import (
	"time"

	"github.com/lunarlabs/memberd/pkg/types"
)

// Subscription is the single paying relationship of a user. Exactly one
// non-cancelled row may exist per user at a time.
//
// TransactionID is the provider charge id and is replaced on every renewal;
// ShortID is the immutable handle all user-facing operations key on.
type Subscription struct {
	ID            string         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TransactionID string         `gorm:"column:transaction_id;type:varchar(128);not null;uniqueIndex" json:"transaction_id"`
	ShortID       string         `gorm:"column:short_id;type:varchar(32);not null;uniqueIndex" json:"short_id"`
	UserID        string         `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	PlanType      types.PlanType `gorm:"column:plan_type;type:varchar(32);not null" json:"plan_type"`
	// AmountCharged is the gross plan value in minor units, net of the
	// promotional discount but before the affiliate-balance offset.
	AmountCharged int64 `gorm:"column:amount_charged;type:bigint;not null" json:"amount_charged"`
	// PaymentDate moves forward on each renewal; FirstPaymentDate is set once
	// at creation and anchors the refund window and commission tenure.
	PaymentDate      time.Time `gorm:"column:payment_date;not null" json:"payment_date"`
	FirstPaymentDate time.Time `gorm:"column:first_payment_date;not null" json:"first_payment_date"`
	NextInvoiceDate  time.Time `gorm:"column:next_invoice_date;not null;index" json:"next_invoice_date"`
	// RecurringIntervalDays is the plan cadence captured at purchase time.
	RecurringIntervalDays int  `gorm:"column:recurring_interval_days;not null" json:"recurring_interval_days"`
	CancelPending         bool `gorm:"column:cancel_pending;not null;default:false" json:"cancel_pending"`
	// Comped marks an operator-granted subscription. Comped rows never had a
	// real charge and are excluded from refunds.
	Comped bool `gorm:"column:comped;not null;default:false" json:"comped"`
	// LastInvoicedFor records the NextInvoiceDate a renewal invoice was last
	// issued against, so a repeated sweep does not re-send it.
	LastInvoicedFor *time.Time `gorm:"column:last_invoiced_for;default:null" json:"last_invoiced_for"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Due reports whether the paid period has lapsed without a renewal payment.
func (s *Subscription) Due(now time.Time) bool {
	return s != nil && s.NextInvoiceDate.Before(now)
}

// InvoicedFor reports whether a renewal invoice was already issued against
// the current next-invoice date.
func (s *Subscription) InvoicedFor(due time.Time) bool {
	return s != nil && s.LastInvoicedFor != nil && s.LastInvoicedFor.Equal(due)
}
