package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/logctx"
	"github.com/lunarlabs/memberd/pkg/tool"
	"github.com/lunarlabs/memberd/pkg/types"
)

// ErrNotFound is returned when no subscription matches the given handle.
var ErrNotFound = errors.New("subscription not found")

// Store owns subscription rows and their lifecycle. All mutations run inside
// a transaction with the row locked FOR UPDATE, so a renewal sweep racing a
// manual cancellation cannot interleave into an inconsistent next_invoice_date.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewStore(db *gorm.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: log}
}

// Save persists a new subscription, idempotent on transaction id: a replayed
// payment event comes back with created=false, which gates all downstream
// commission and notification side effects. The processed-payment row is the
// gate; it outlives the subscription, so a replay stays a no-op even after
// the id rotated off the row or the subscription ended. The returned row is
// nil on a replay whose subscription no longer carries that id.
func (s *Store) Save(ctx context.Context, sub *models.Subscription) (*models.Subscription, bool, error) {
	var out *models.Subscription
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProcessedPayment{TransactionID: sub.TransactionID, UserID: sub.UserID})
		if res.Error != nil {
			return fmt.Errorf("failed to record processed payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var existing models.Subscription
			err := tx.Where("transaction_id = ?", sub.TransactionID).First(&existing).Error
			if err == nil {
				out = &existing
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to load subscription: %w", err)
			}
			logctx.FromCtx(ctx, s.log).Infow("subscription already saved, skipping",
				"transaction_id", sub.TransactionID)
			return nil
		}

		if sub.ID == "" {
			sub.ID = tool.GenerateUUIDV7()
		}
		if sub.FirstPaymentDate.IsZero() {
			sub.FirstPaymentDate = sub.PaymentDate
		}
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		created = true
		out = sub
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		logctx.FromCtx(ctx, s.log).Infow("subscription saved",
			"transaction_id", sub.TransactionID, "short_id", sub.ShortID, "user_id", sub.UserID)
	}
	return out, created, nil
}

func (s *Store) GetByShortID(ctx context.Context, shortID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("short_id = ?", shortID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: short_id %s", ErrNotFound, shortID)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetByTransactionID(ctx context.Context, transactionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction_id %s", ErrNotFound, transactionID)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// HasActive reports whether the user holds a non-cancel-pending subscription.
func (s *Store) HasActive(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND cancel_pending = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountPayingUsers returns how many of the given users hold at least one
// subscription row. The ledger uses this as the active-referral count,
// recomputed at commission time.
func (s *Store) CountPayingUsers(ctx context.Context, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Distinct("user_id").
		Where("user_id IN ?", userIDs).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Renew replaces the provider transaction id and rolls the payment window
// forward. The short id stays put; last_invoiced_for is cleared so the next
// cycle's invoice can go out. Returns applied=false when the new transaction
// id was already settled once, however long ago: the processed-payment row
// is inserted in the same transaction as the roll, so a replayed renewal
// event can never apply twice.
func (s *Store) Renew(ctx context.Context, transactionID, newTransactionID string, newAmount int64, newPaymentDate, newNextInvoiceDate time.Time) (bool, error) {
	applied := false
	err := s.withRowLock(ctx, transactionID, func(tx *gorm.DB, sub *models.Subscription) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProcessedPayment{TransactionID: newTransactionID, UserID: sub.UserID})
		if res.Error != nil {
			return fmt.Errorf("failed to record processed payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		sub.TransactionID = newTransactionID
		sub.AmountCharged = newAmount
		sub.PaymentDate = newPaymentDate
		sub.NextInvoiceDate = newNextInvoiceDate
		sub.LastInvoicedFor = nil
		applied = true
		return tx.Save(sub).Error
	})
	return applied, err
}

func (s *Store) MarkCancelPending(ctx context.Context, transactionID string) error {
	return s.setCancelPending(ctx, transactionID, true)
}

func (s *Store) ClearCancelPending(ctx context.Context, transactionID string) error {
	return s.setCancelPending(ctx, transactionID, false)
}

func (s *Store) setCancelPending(ctx context.Context, transactionID string, pending bool) error {
	return s.withRowLock(ctx, transactionID, func(tx *gorm.DB, sub *models.Subscription) error {
		sub.CancelPending = pending
		return tx.Save(sub).Error
	})
}

// MarkInvoiced records that a renewal invoice went out for the given due
// date; a repeated sweep over the same snapshot then skips the row.
func (s *Store) MarkInvoiced(ctx context.Context, transactionID string, forDate time.Time) error {
	return s.withRowLock(ctx, transactionID, func(tx *gorm.DB, sub *models.Subscription) error {
		sub.LastInvoicedFor = &forDate
		return tx.Save(sub).Error
	})
}

// Extend pushes the next invoice date out, an operator courtesy operation.
func (s *Store) Extend(ctx context.Context, transactionID string, d time.Duration) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.withRowLock(ctx, transactionID, func(tx *gorm.DB, sub *models.Subscription) error {
		sub.NextInvoiceDate = sub.NextInvoiceDate.Add(d)
		sub.LastInvoicedFor = nil
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

// Delete removes the row. Deleting an already-deleted subscription is a
// no-op so terminal scheduler actions stay idempotent.
func (s *Store) Delete(ctx context.Context, transactionID string) error {
	res := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Delete(&models.Subscription{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logctx.FromCtx(ctx, s.log).Debugw("delete of missing subscription ignored", "transaction_id", transactionID)
	}
	return nil
}

// CountByPlan returns subscriber counts keyed by plan type.
func (s *Store) CountByPlan(ctx context.Context) (map[types.PlanType]int64, error) {
	type row struct {
		PlanType types.PlanType
		N        int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("plan_type, count(*) as n").
		Group("plan_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.PlanType]int64, len(rows))
	for _, r := range rows {
		out[r.PlanType] = r.N
	}
	return out, nil
}

// Scan request/response for the admin listing.
type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.Subscription `json:"items"`
	Total int64                  `json:"total"`
}

// filtersAnd joins the request filters into a single AND expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// Scan implements paginated/admin listing with filters
func (s *Store) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	var rows []*models.Subscription
	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return &ScanResponse{Items: rows, Total: total}, nil
}

func (s *Store) withRowLock(ctx context.Context, transactionID string, fn func(tx *gorm.DB, sub *models.Subscription) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("transaction_id = ?", transactionID).
			First(&sub).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: transaction_id %s", ErrNotFound, transactionID)
			}
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		return fn(tx, &sub)
	})
}
