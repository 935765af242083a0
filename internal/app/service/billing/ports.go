package billing

import (
	"context"
	"time"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/types"
)

// SubscriptionStore is the persistence surface the engine settles against.
// Implemented by the subscription store; bound in the module.
type SubscriptionStore interface {
	Save(ctx context.Context, sub *models.Subscription) (*models.Subscription, bool, error)
	GetByShortID(ctx context.Context, shortID string) (*models.Subscription, error)
	Renew(ctx context.Context, transactionID, newTransactionID string, newAmount int64, newPaymentDate, newNextInvoiceDate time.Time) (bool, error)
	MarkCancelPending(ctx context.Context, transactionID string) error
	ClearCancelPending(ctx context.Context, transactionID string) error
	MarkInvoiced(ctx context.Context, transactionID string, forDate time.Time) error
	Extend(ctx context.Context, transactionID string, d time.Duration) (*models.Subscription, error)
	Delete(ctx context.Context, transactionID string) error
	HasActive(ctx context.Context, userID string) (bool, error)
	CountByPlan(ctx context.Context) (map[types.PlanType]int64, error)
}

// Invoice is a renewal payment request delivered to the user through the
// messenger bridge. Amount is in integer minor units after all offsets.
type Invoice struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	PayloadTag  string `json:"payload_tag"`
	FinalNotice bool   `json:"final_notice"`
}

// Invoicer delivers renewal invoices to users.
type Invoicer interface {
	SendInvoice(ctx context.Context, inv Invoice) error
}

// AccessController grants and revokes the member resource (channel access)
// tied to an active subscription.
type AccessController interface {
	GrantAccess(ctx context.Context, userID string) error
	RevokeAccess(ctx context.Context, userID string) error
}

// Notifier pushes plain-text messages to users and to the operator channel.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, message string) error
	NotifyOperator(ctx context.Context, message string) error
}
