package scheduler

import (
	"time"

	"github.com/lunarlabs/memberd/internal/models"
)

const (
	// invoiceLeadTime is how far ahead of the due date a renewal invoice
	// goes out.
	invoiceLeadTime = 3 * 24 * time.Hour
	// finalNoticeLeadTime marks the last-day invoice as a final warning.
	finalNoticeLeadTime = 24 * time.Hour
)

type Action string

const (
	ActionNone    Action = "none"
	ActionCancel  Action = "cancel"
	ActionExpire  Action = "expire"
	ActionInvoice Action = "invoice"
)

// Decision is what one sweep pass does with one subscription row.
type Decision struct {
	Action      Action
	FinalNotice bool
}

// Decide classifies a subscription at time now. Exactly one action applies
// per row: the terminal paths (pending cancellation reached its date, or the
// due date passed unpaid) win over invoicing, and a cycle already invoiced
// is left alone so re-running a sweep over the same snapshot is quiet.
func Decide(sub *models.Subscription, now time.Time) Decision {
	due := sub.NextInvoiceDate
	switch {
	case sub.CancelPending && !due.After(now):
		return Decision{Action: ActionCancel}
	case due.Before(now):
		return Decision{Action: ActionExpire}
	case !due.After(now.Add(invoiceLeadTime)):
		if sub.InvoicedFor(due) {
			return Decision{Action: ActionNone}
		}
		return Decision{
			Action:      ActionInvoice,
			FinalNotice: !due.After(now.Add(finalNoticeLeadTime)),
		}
	}
	return Decision{Action: ActionNone}
}
