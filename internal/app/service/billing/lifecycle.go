package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/logctx"
	"github.com/lunarlabs/memberd/pkg/tool"
	"github.com/lunarlabs/memberd/pkg/types"
)

const (
	// refundWindow is how long after the first payment a refund stays open.
	refundWindow = 3 * 24 * time.Hour
	// cancelLeadTime is the minimum gap between a cancellation request and
	// the next invoice date.
	cancelLeadTime = 24 * time.Hour
)

// refundEligible decides whether the actor may refund the subscription now.
// Operators bypass the time window; the comp exclusion and the
// once-per-lifetime rule hold for everyone.
func refundEligible(sub *models.Subscription, actor types.Actor, refundUsed bool, now time.Time) error {
	if !actor.CanActOn(sub.UserID) {
		return fmt.Errorf("%w: %s", ErrNotOwner, sub.ShortID)
	}
	if sub.Comped {
		return fmt.Errorf("%w: %s", ErrCompNotRefundable, sub.ShortID)
	}
	if !actor.Operator && now.After(sub.FirstPaymentDate.Add(refundWindow)) {
		return fmt.Errorf("%w: first payment was %s", ErrRefundWindowClosed, sub.FirstPaymentDate.Format("2006-01-02"))
	}
	if refundUsed {
		return fmt.Errorf("%w: user %s", ErrRefundAlreadyUsed, sub.UserID)
	}
	return nil
}

// Refund reverses a recent first purchase: claws back the affiliate bonus,
// deletes the subscription and its referral mapping, revokes access and
// burns the user's once-per-lifetime refund. The provider-side refund is
// issued manually, so the operator is told how much to send back.
func (e *Engine) Refund(ctx context.Context, actor types.Actor, shortID string) error {
	log := logctx.FromCtx(ctx, e.log)

	sub, err := e.store.GetByShortID(ctx, shortID)
	if err != nil {
		return err
	}
	used, err := e.refundUsed(ctx, sub.UserID)
	if err != nil {
		return err
	}
	if err := refundEligible(sub, actor, used, e.now()); err != nil {
		return err
	}

	mapping, err := e.ledger.AffiliateOf(ctx, sub.UserID)
	if err != nil {
		return err
	}
	if mapping != nil {
		clawed, err := e.ledger.Clawback(ctx, mapping.AffiliateUserID, sub.UserID)
		if err != nil {
			return err
		}
		if clawed.IsPositive() {
			e.notifyUser(ctx, mapping.AffiliateUserID,
				fmt.Sprintf("A referred user refunded their subscription. %s in commission was reversed.", clawed))
		}
	}

	if err := e.teardown(ctx, sub); err != nil {
		return err
	}
	if err := e.markRefundUsed(ctx, sub.UserID); err != nil {
		return err
	}

	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s refunded. %d will be returned to you.", shortID, sub.AmountCharged))
	e.notifyOperator(ctx, fmt.Sprintf("refund approved for user %s (sub %s, tx %s): send back %d", sub.UserID, shortID, sub.TransactionID, sub.AmountCharged))
	log.Infow("subscription refunded",
		"short_id", shortID, "user_id", sub.UserID, "amount", sub.AmountCharged, "operator", actor.Operator)
	return nil
}

func (e *Engine) refundRecord(ctx context.Context, userID string) (*models.RefundRecord, error) {
	var rec models.RefundRecord
	err := e.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RefundRecord{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (e *Engine) refundUsed(ctx context.Context, userID string) (bool, error) {
	rec, err := e.refundRecord(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.RefundUsed, nil
}

func (e *Engine) markRefundUsed(ctx context.Context, userID string) error {
	rec, err := e.refundRecord(ctx, userID)
	if err != nil {
		return err
	}
	rec.RefundUsed = true
	return e.db.WithContext(ctx).Save(rec).Error
}

// Blacklisted reports whether the user is barred from purchasing.
func (e *Engine) Blacklisted(ctx context.Context, userID string) (bool, error) {
	rec, err := e.refundRecord(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.Blacklisted, nil
}

// SetBlacklist flips the operator bar on a user. An existing refund-used
// flag is preserved.
func (e *Engine) SetBlacklist(ctx context.Context, actor types.Actor, userID string, blacklisted bool) error {
	if !actor.Operator {
		return fmt.Errorf("%w: blacklist", ErrNotOperator)
	}
	rec, err := e.refundRecord(ctx, userID)
	if err != nil {
		return err
	}
	rec.Blacklisted = blacklisted
	if err := e.db.WithContext(ctx).Save(rec).Error; err != nil {
		return err
	}
	logctx.FromCtx(ctx, e.log).Infow("blacklist updated", "user_id", userID, "blacklisted", blacklisted)
	return nil
}

// RequestCancellation flags the subscription to end at the close of the paid
// period instead of renewing. Must land at least a day before the next
// invoice so an already-issued invoice is never silently voided.
func (e *Engine) RequestCancellation(ctx context.Context, actor types.Actor, shortID string) (*models.Subscription, error) {
	sub, err := e.store.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActOn(sub.UserID) {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, shortID)
	}
	if e.now().After(sub.NextInvoiceDate.Add(-cancelLeadTime)) {
		return nil, fmt.Errorf("%w: next invoice %s", ErrCancelTooLate, sub.NextInvoiceDate.Format(time.RFC3339))
	}
	if err := e.store.MarkCancelPending(ctx, sub.TransactionID); err != nil {
		return nil, err
	}
	sub.CancelPending = true
	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s will end on %s. You can undo this until then.", shortID, sub.NextInvoiceDate.Format("2006-01-02")))
	return sub, nil
}

// UndoCancellation clears a pending cancellation before it takes effect.
func (e *Engine) UndoCancellation(ctx context.Context, actor types.Actor, shortID string) (*models.Subscription, error) {
	sub, err := e.store.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActOn(sub.UserID) {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, shortID)
	}
	if err := e.store.ClearCancelPending(ctx, sub.TransactionID); err != nil {
		return nil, err
	}
	sub.CancelPending = false
	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s will keep renewing.", shortID))
	return sub, nil
}

// CancelImmediately is the operator's hard stop: teardown right now, not at
// period end.
func (e *Engine) CancelImmediately(ctx context.Context, actor types.Actor, shortID string) error {
	if !actor.Operator {
		return fmt.Errorf("%w: immediate cancel", ErrNotOperator)
	}
	sub, err := e.store.GetByShortID(ctx, shortID)
	if err != nil {
		return err
	}
	if err := e.teardown(ctx, sub); err != nil {
		return err
	}
	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s has been cancelled.", shortID))
	logctx.FromCtx(ctx, e.log).Infow("subscription cancelled by operator", "short_id", shortID, "user_id", sub.UserID)
	return nil
}

// GrantComp creates a complimentary subscription for the given number of
// days. No charge exists behind it, so it is flagged non-refundable and
// records a zero amount.
func (e *Engine) GrantComp(ctx context.Context, actor types.Actor, userID string, planType types.PlanType, days int) (*models.Subscription, error) {
	if !actor.Operator {
		return nil, fmt.Errorf("%w: comp grant", ErrNotOperator)
	}
	plan := e.cfg.GetPlan(planType)
	if !plan.Purchasable() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planType)
	}
	active, err := e.store.HasActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, userID)
	}
	if days <= 0 {
		days = plan.IntervalDays
	}

	now := e.now()
	sub := &models.Subscription{
		TransactionID:         "comp-" + tool.GenerateUUIDV7(),
		ShortID:               tool.GenerateShortID(),
		UserID:                userID,
		PlanType:              planType,
		AmountCharged:         0,
		PaymentDate:           now,
		FirstPaymentDate:      now,
		NextInvoiceDate:       now.AddDate(0, 0, days),
		RecurringIntervalDays: plan.IntervalDays,
		Comped:                true,
	}
	saved, _, err := e.store.Save(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := e.access.GrantAccess(ctx, userID); err != nil {
		logctx.FromCtx(ctx, e.log).Errorw("access grant failed, needs reconciliation", "user_id", userID, "error", err)
	}
	e.notifyUser(ctx, userID, fmt.Sprintf("You have been granted %s access for %d days.", plan.Title, days))
	logctx.FromCtx(ctx, e.log).Infow("comp subscription granted",
		"short_id", saved.ShortID, "user_id", userID, "plan", planType, "days", days)
	return saved, nil
}

// Extend pushes a subscription's next invoice out by whole months of 30
// days, an operator courtesy.
func (e *Engine) Extend(ctx context.Context, actor types.Actor, shortID string, months int) (*models.Subscription, error) {
	if !actor.Operator {
		return nil, fmt.Errorf("%w: extension", ErrNotOperator)
	}
	if months <= 0 {
		return nil, fmt.Errorf("extension months must be positive, got %d", months)
	}
	sub, err := e.store.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	updated, err := e.store.Extend(ctx, sub.TransactionID, time.Duration(months)*30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	e.notifyUser(ctx, sub.UserID, fmt.Sprintf("Subscription %s extended until %s.", shortID, updated.NextInvoiceDate.Format("2006-01-02")))
	return updated, nil
}

// Stats is the operator dashboard summary. MonthlyIncome normalizes each
// subscription's charge to a 30-day month regardless of its cadence.
type Stats struct {
	TotalSubscriptions int64                    `json:"total_subscriptions"`
	ByPlan             map[types.PlanType]int64 `json:"by_plan"`
	Revenue            int64                    `json:"revenue"`
	MonthlyIncome      int64                    `json:"monthly_income"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	byPlan, err := e.store.CountByPlan(ctx)
	if err != nil {
		return nil, err
	}
	var total, revenue int64
	for _, n := range byPlan {
		total += n
	}
	err = e.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("coalesce(sum(amount_charged), 0)").
		Scan(&revenue).Error
	if err != nil {
		return nil, err
	}
	var monthly float64
	err = e.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("recurring_interval_days > 0").
		Select("coalesce(sum(amount_charged * 30.0 / recurring_interval_days), 0)").
		Scan(&monthly).Error
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalSubscriptions: total,
		ByPlan:             byPlan,
		Revenue:            revenue,
		MonthlyIncome:      int64(monthly + 0.5),
	}, nil
}
