package billing

import "errors"

var (
	ErrUnknownPlan        = errors.New("unknown or unpurchasable plan")
	ErrBlacklisted        = errors.New("user is blacklisted")
	ErrAlreadySubscribed  = errors.New("user already holds an active subscription")
	ErrNotSubscribed      = errors.New("user holds no subscription")
	ErrNotOwner           = errors.New("subscription belongs to another user")
	ErrNotOperator        = errors.New("operator privileges required")
	ErrCancelTooLate      = errors.New("cancellation must be requested at least one day before the next invoice")
	ErrRefundWindowClosed = errors.New("refund window has closed")
	ErrRefundAlreadyUsed  = errors.New("refund already used")
	ErrCompNotRefundable  = errors.New("complimentary subscriptions are not refundable")
	ErrInvoiceExpired     = errors.New("renewal invoice has expired")
	ErrQuoteStale         = errors.New("quoted affiliate offset no longer covered by balance")
	ErrDiscountGone       = errors.New("quoted discount is no longer redeemable")
)
