package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunarlabs/memberd/internal/app/service/affiliate"
	"github.com/lunarlabs/memberd/internal/app/service/discount"
	"github.com/lunarlabs/memberd/internal/app/service/subscription"
	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/config"
	"github.com/lunarlabs/memberd/pkg/logctx"
	"github.com/lunarlabs/memberd/pkg/metrics"
	"github.com/lunarlabs/memberd/pkg/tool"
	"github.com/lunarlabs/memberd/pkg/types"
)

// renewalInvoiceTTL is how long a sent renewal invoice stays payable. The
// quoted affiliate offset is only a snapshot, so stale invoices are refused
// at pre-checkout rather than honored at yesterday's numbers.
const renewalInvoiceTTL = 24 * time.Hour

// Engine drives the money flows: purchase quoting, payment-event settlement,
// renewals, refunds and cancellation. It orchestrates the subscription store,
// discount service and commission ledger and talks to the messenger bridge
// through the Invoicer, AccessController and Notifier ports.
type Engine struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	db        *gorm.DB
	store     SubscriptionStore
	discounts *discount.Service
	ledger    *affiliate.Service
	invoicer  Invoicer
	access    AccessController
	notifier  Notifier

	now func() time.Time
}

func NewEngine(
	cfg *config.Config,
	log *zap.SugaredLogger,
	db *gorm.DB,
	store SubscriptionStore,
	discounts *discount.Service,
	ledger *affiliate.Service,
	invoicer Invoicer,
	access AccessController,
	notifier Notifier,
) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log,
		db:        db,
		store:     store,
		discounts: discounts,
		ledger:    ledger,
		invoicer:  invoicer,
		access:    access,
		notifier:  notifier,
		now:       time.Now,
	}
}

// AffiliateOffset is how much of the price an affiliate balance can absorb:
// the whole balance, but never the full price. At least one minor unit is
// always charged so the provider sees a real payment.
func AffiliateOffset(balance decimal.Decimal, priceAfterDiscount int64) int64 {
	if priceAfterDiscount <= 1 || !balance.IsPositive() {
		return 0
	}
	offset := balance.IntPart()
	if max := priceAfterDiscount - 1; offset > max {
		offset = max
	}
	return offset
}

// Quote is the priced purchase offer shown to the user before checkout.
type Quote struct {
	Plan            *types.Plan      `json:"plan"`
	BasePrice       int64            `json:"base_price"`
	AfterDiscount   int64            `json:"after_discount"`
	Discount        *models.Discount `json:"discount,omitempty"`
	AffiliateOffset int64            `json:"affiliate_offset"`
	FinalPrice      int64            `json:"final_price"`
	PayloadTag      string           `json:"payload_tag"`
}

// QuotePurchase prices a first purchase for the user: plan price, minus the
// best applicable discount, minus the user's own affiliate balance.
func (e *Engine) QuotePurchase(ctx context.Context, userID string, planType types.PlanType) (*Quote, error) {
	plan := e.cfg.GetPlan(planType)
	if !plan.Purchasable() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planType)
	}

	blacklisted, err := e.Blacklisted(ctx, userID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, fmt.Errorf("%w: %s", ErrBlacklisted, userID)
	}

	active, err := e.store.HasActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, userID)
	}

	afterDiscount, applied, err := e.discounts.ResolveForPurchase(ctx, userID, planType, plan.Price)
	if err != nil {
		return nil, err
	}

	var offset int64
	if e.cfg.Affiliate.Enabled {
		balance, err := e.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		offset = AffiliateOffset(balance, afterDiscount)
	}

	var discountID uint64
	if applied != nil {
		discountID = applied.ID
	}
	return &Quote{
		Plan:            plan,
		BasePrice:       plan.Price,
		AfterDiscount:   afterDiscount,
		Discount:        applied,
		AffiliateOffset: offset,
		FinalPrice:      afterDiscount - offset,
		PayloadTag:      EncodePurchase(planType, discountID, offset),
	}, nil
}

// SendPurchaseInvoice quotes the purchase and hands the bridge an invoice to
// present, payload tag attached. The returned quote mirrors what was sent.
func (e *Engine) SendPurchaseInvoice(ctx context.Context, userID string, planType types.PlanType) (*Quote, error) {
	quote, err := e.QuotePurchase(ctx, userID, planType)
	if err != nil {
		return nil, err
	}
	inv := Invoice{
		UserID:      userID,
		Title:       quote.Plan.Title,
		Description: fmt.Sprintf("%s membership, renews every %d days.", quote.Plan.Title, quote.Plan.IntervalDays),
		Amount:      quote.FinalPrice,
		PayloadTag:  quote.PayloadTag,
	}
	if err := e.invoicer.SendInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to send purchase invoice: %w", err)
	}
	metrics.InvoicesSent.Inc()
	logctx.FromCtx(ctx, e.log).Infow("purchase invoice sent",
		"user_id", userID, "plan", planType, "amount", inv.Amount)
	return quote, nil
}

// PaymentEvent is a confirmed charge reported by the payment provider.
type PaymentEvent struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	UserID        string `json:"user_id" binding:"required"`
	AmountPaid    int64  `json:"amount_paid"`
	PayloadTag    string `json:"payload_tag"`
}

// HandlePaymentEvent settles a confirmed payment. The money has already
// moved, so this never returns a user-visible rejection: payloads that do
// not decode are acknowledged as plain payments, and post-settlement side
// effects that fail are logged for reconciliation instead of unwinding the
// subscription.
func (e *Engine) HandlePaymentEvent(ctx context.Context, ev PaymentEvent) error {
	log := logctx.FromCtx(ctx, e.log)

	p, err := ParsePayloadTag(ev.PayloadTag)
	if err != nil {
		metrics.PaymentEvents.WithLabelValues("plain").Inc()
		log.Warnw("payment with unrecognized payload, acknowledging as plain",
			"transaction_id", ev.TransactionID, "user_id", ev.UserID, "error", err)
		e.notifyUser(ctx, ev.UserID, "Thanks for your payment!")
		return nil
	}

	switch p.Kind {
	case PayloadKindRenewal:
		metrics.PaymentEvents.WithLabelValues("renewal").Inc()
		return e.settleRenewal(ctx, ev, p)
	default:
		metrics.PaymentEvents.WithLabelValues("purchase").Inc()
		return e.settlePurchase(ctx, ev, p)
	}
}

func (e *Engine) settlePurchase(ctx context.Context, ev PaymentEvent, p *Payload) error {
	log := logctx.FromCtx(ctx, e.log)

	plan := e.cfg.GetPlan(p.Plan)
	if !plan.Purchasable() {
		log.Errorw("paid purchase references unknown plan",
			"transaction_id", ev.TransactionID, "plan", p.Plan)
		e.notifyOperator(ctx, fmt.Sprintf("payment %s references unknown plan %s, needs manual review", ev.TransactionID, p.Plan))
		return nil
	}

	now := e.now()
	// The subscription records the full plan value net of the promotional
	// discount: what was paid plus the affiliate balance that covered the rest.
	recorded := ev.AmountPaid + p.AffDiscount

	sub := &models.Subscription{
		TransactionID:         ev.TransactionID,
		ShortID:               tool.GenerateShortID(),
		UserID:                ev.UserID,
		PlanType:              p.Plan,
		AmountCharged:         recorded,
		PaymentDate:           now,
		FirstPaymentDate:      now,
		NextInvoiceDate:       now.AddDate(0, 0, plan.IntervalDays),
		RecurringIntervalDays: plan.IntervalDays,
	}
	saved, created, err := e.store.Save(ctx, sub)
	if err != nil {
		return err
	}
	if !created {
		log.Infow("purchase event replayed, side effects skipped",
			"transaction_id", ev.TransactionID)
		return nil
	}

	if p.DiscountUsed && p.DiscountID > 0 {
		if err := e.discounts.Redeem(ctx, p.DiscountID, ev.UserID); err != nil {
			log.Errorw("discount redemption failed after settlement, needs reconciliation",
				"transaction_id", ev.TransactionID, "discount_id", p.DiscountID, "error", err)
		}
	}
	if p.AffDiscount > 0 {
		if err := e.ledger.Debit(ctx, ev.UserID, decimal.NewFromInt(p.AffDiscount)); err != nil {
			log.Errorw("affiliate offset debit failed after settlement, needs reconciliation",
				"transaction_id", ev.TransactionID, "amount", p.AffDiscount, "error", err)
		}
	}

	e.recordCommission(ctx, ev.UserID, saved.ShortID, recorded, now, now, false)

	if err := e.access.GrantAccess(ctx, ev.UserID); err != nil {
		log.Errorw("access grant failed, needs reconciliation", "user_id", ev.UserID, "error", err)
		e.notifyOperator(ctx, fmt.Sprintf("access grant failed for user %s (tx %s)", ev.UserID, ev.TransactionID))
	}
	e.notifyUser(ctx, ev.UserID, fmt.Sprintf("Your %s subscription is active. Manage it with id %s.", plan.Title, saved.ShortID))

	log.Infow("purchase settled",
		"transaction_id", ev.TransactionID, "short_id", saved.ShortID,
		"user_id", ev.UserID, "plan", p.Plan, "amount_recorded", recorded)
	return nil
}

func (e *Engine) settleRenewal(ctx context.Context, ev PaymentEvent, p *Payload) error {
	log := logctx.FromCtx(ctx, e.log)

	sub, err := e.store.GetByShortID(ctx, p.ShortID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			log.Errorw("renewal paid for missing subscription",
				"transaction_id", ev.TransactionID, "short_id", p.ShortID)
			e.notifyOperator(ctx, fmt.Sprintf("renewal payment %s for unknown subscription %s, needs manual review", ev.TransactionID, p.ShortID))
			return nil
		}
		return err
	}
	now := e.now()
	recorded := ev.AmountPaid + p.AffDiscount
	// The cadence anchors on the due date, not the payment date, so paying a
	// couple of days early never shortens the period.
	nextInvoice := sub.NextInvoiceDate.AddDate(0, 0, sub.RecurringIntervalDays)
	applied, err := e.store.Renew(ctx, sub.TransactionID, ev.TransactionID, recorded, now, nextInvoice)
	if err != nil {
		return err
	}
	if !applied {
		log.Infow("renewal event replayed, side effects skipped",
			"transaction_id", ev.TransactionID, "short_id", sub.ShortID)
		return nil
	}

	if p.AffDiscount > 0 {
		if err := e.ledger.Debit(ctx, ev.UserID, decimal.NewFromInt(p.AffDiscount)); err != nil {
			log.Errorw("affiliate offset debit failed after settlement, needs reconciliation",
				"transaction_id", ev.TransactionID, "amount", p.AffDiscount, "error", err)
		}
	}

	// Recurring commission is based on what actually moved, not the gross.
	e.recordCommission(ctx, ev.UserID, sub.ShortID, ev.AmountPaid, sub.FirstPaymentDate, now, true)

	e.notifyUser(ctx, ev.UserID, fmt.Sprintf("Subscription %s renewed until %s.", sub.ShortID, nextInvoice.Format("2006-01-02")))
	log.Infow("renewal settled",
		"transaction_id", ev.TransactionID, "short_id", sub.ShortID,
		"user_id", ev.UserID, "next_invoice", nextInvoice)
	return nil
}

// recordCommission runs the ledger and turns its decision into affiliate
// notifications. The subscription is already durable at this point, so
// failures alert the operator instead of propagating.
func (e *Engine) recordCommission(ctx context.Context, userID, shortID string, basis int64, firstPaymentDate, now time.Time, recurring bool) {
	log := logctx.FromCtx(ctx, e.log)

	if !e.cfg.Affiliate.Enabled {
		return
	}
	result, err := e.ledger.RecordCommission(ctx, userID, shortID, basis, firstPaymentDate, now, recurring)
	if err != nil {
		log.Errorw("commission recording failed, needs reconciliation",
			"user_id", userID, "short_id", shortID, "basis", basis, "error", err)
		e.notifyOperator(ctx, fmt.Sprintf("commission recording failed for user %s (sub %s)", userID, shortID))
		return
	}
	if result == nil {
		return
	}
	metrics.CommissionsRecorded.Inc()
	switch {
	case result.Credited:
		e.notifyUser(ctx, result.AffiliateUserID,
			fmt.Sprintf("You earned %s in commission from a referral.", result.Amount))
	case !recurring && !result.ReferralCreated:
		e.notifyUser(ctx, result.AffiliateUserID,
			"A referred user subscribed again. This referral was already rewarded, so no new bonus applies.")
	}
}

// checkoutFacts are the storage lookups behind the pre-checkout decision.
type checkoutFacts struct {
	Blacklisted bool
	SubExists   bool
	Balance     decimal.Decimal
	Discount    *models.Discount
}

// validateCheckout decides whether a charge the provider is about to make is
// still honorable. Stale renewal invoices, offsets no longer covered by the
// balance and discounts that have since been exhausted are all refused here,
// before money moves.
func validateCheckout(p *Payload, userID string, facts checkoutFacts, now time.Time) error {
	if p.Kind == PayloadKindPurchase && facts.Blacklisted {
		return fmt.Errorf("%w: %s", ErrBlacklisted, userID)
	}

	if p.Kind == PayloadKindRenewal {
		if now.Sub(p.IssuedAt) > renewalInvoiceTTL {
			return fmt.Errorf("%w: issued %s", ErrInvoiceExpired, p.IssuedAt.Format(time.RFC3339))
		}
		if !facts.SubExists {
			return fmt.Errorf("%w: %s", ErrNotSubscribed, p.ShortID)
		}
	}

	if p.AffDiscount > 0 && facts.Balance.LessThan(decimal.NewFromInt(p.AffDiscount)) {
		return fmt.Errorf("%w: offset %d, balance %s", ErrQuoteStale, p.AffDiscount, facts.Balance)
	}

	if p.Kind == PayloadKindPurchase && p.DiscountUsed && p.DiscountID > 0 {
		if facts.Discount == nil {
			return fmt.Errorf("%w: id %d", ErrDiscountGone, p.DiscountID)
		}
		if !facts.Discount.Redeemable(now) {
			return fmt.Errorf("%w: code %s", ErrDiscountGone, facts.Discount.Code)
		}
	}
	return nil
}

// ValidateCheckout is the pre-checkout gate: it gathers the current state
// behind the payload tag and runs the checkout decision over it. Tags that
// do not decode are plain payments and always acceptable.
func (e *Engine) ValidateCheckout(ctx context.Context, userID, payloadTag string) error {
	p, err := ParsePayloadTag(payloadTag)
	if err != nil {
		return nil
	}

	var facts checkoutFacts
	if p.Kind == PayloadKindPurchase {
		if facts.Blacklisted, err = e.Blacklisted(ctx, userID); err != nil {
			return err
		}
	}
	if p.Kind == PayloadKindRenewal {
		if _, err := e.store.GetByShortID(ctx, p.ShortID); err == nil {
			facts.SubExists = true
		} else if !errors.Is(err, subscription.ErrNotFound) {
			return err
		}
	}
	if p.AffDiscount > 0 {
		if facts.Balance, err = e.ledger.Balance(ctx, userID); err != nil {
			return err
		}
	}
	if p.Kind == PayloadKindPurchase && p.DiscountUsed && p.DiscountID > 0 {
		d, err := e.discounts.GetByID(ctx, p.DiscountID)
		if err != nil && !errors.Is(err, discount.ErrNotFound) {
			return err
		}
		facts.Discount = d
	}
	return validateCheckout(p, userID, facts, e.now())
}

// SendRenewalInvoice issues the next-cycle invoice for a due subscription,
// computing the affiliate offset fresh from the current balance, and marks
// the cycle invoiced so a repeated sweep stays quiet.
func (e *Engine) SendRenewalInvoice(ctx context.Context, sub *models.Subscription, finalNotice bool) error {
	log := logctx.FromCtx(ctx, e.log)

	plan := e.cfg.GetPlan(sub.PlanType)
	if !plan.Purchasable() {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, sub.PlanType)
	}

	var offset int64
	if e.cfg.Affiliate.Enabled {
		balance, err := e.ledger.Balance(ctx, sub.UserID)
		if err != nil {
			return err
		}
		offset = AffiliateOffset(balance, plan.Price)
	}

	now := e.now()
	inv := Invoice{
		UserID:      sub.UserID,
		Title:       fmt.Sprintf("%s renewal", plan.Title),
		Description: fmt.Sprintf("Renews subscription %s for %d days.", sub.ShortID, sub.RecurringIntervalDays),
		Amount:      plan.Price - offset,
		PayloadTag:  EncodeRenewal(sub.ShortID, sub.PlanType, offset, now),
		FinalNotice: finalNotice,
	}
	if err := e.invoicer.SendInvoice(ctx, inv); err != nil {
		return fmt.Errorf("failed to send renewal invoice: %w", err)
	}
	if err := e.store.MarkInvoiced(ctx, sub.TransactionID, sub.NextInvoiceDate); err != nil {
		return err
	}
	metrics.InvoicesSent.Inc()
	log.Infow("renewal invoice sent",
		"short_id", sub.ShortID, "user_id", sub.UserID,
		"amount", inv.Amount, "final_notice", finalNotice)
	return nil
}

// ExpireSubscription tears down a subscription whose grace window lapsed
// without payment.
func (e *Engine) ExpireSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := e.teardown(ctx, sub); err != nil {
		return err
	}
	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s expired without renewal. Access has been removed.", sub.ShortID))
	logctx.FromCtx(ctx, e.log).Infow("subscription expired", "short_id", sub.ShortID, "user_id", sub.UserID)
	return nil
}

// FinalizeCancellation tears down a cancel-pending subscription at the end
// of its paid period.
func (e *Engine) FinalizeCancellation(ctx context.Context, sub *models.Subscription) error {
	if err := e.teardown(ctx, sub); err != nil {
		return err
	}
	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s has ended as requested.", sub.ShortID))
	logctx.FromCtx(ctx, e.log).Infow("cancellation finalized", "short_id", sub.ShortID, "user_id", sub.UserID)
	return nil
}

// teardown is the shared terminal path: drop the row, clear the referral
// mapping and revoke access. All callers share its idempotence: re-running
// against an already-deleted row is a no-op.
func (e *Engine) teardown(ctx context.Context, sub *models.Subscription) error {
	if err := e.store.Delete(ctx, sub.TransactionID); err != nil {
		return err
	}
	if err := e.ledger.DeleteMapping(ctx, sub.UserID); err != nil {
		return err
	}
	if err := e.access.RevokeAccess(ctx, sub.UserID); err != nil {
		logctx.FromCtx(ctx, e.log).Errorw("access revoke failed, needs reconciliation",
			"user_id", sub.UserID, "error", err)
		e.notifyOperator(ctx, fmt.Sprintf("access revoke failed for user %s (sub %s)", sub.UserID, sub.ShortID))
	}
	return nil
}

func (e *Engine) notifyUser(ctx context.Context, userID, message string) {
	if err := e.notifier.NotifyUser(ctx, userID, message); err != nil {
		logctx.FromCtx(ctx, e.log).Warnw("user notification failed", "user_id", userID, "error", err)
	}
}

func (e *Engine) notifyOperator(ctx context.Context, message string) {
	if err := e.notifier.NotifyOperator(ctx, message); err != nil {
		logctx.FromCtx(ctx, e.log).Warnw("operator notification failed", "error", err)
	}
}
