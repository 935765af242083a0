package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/keymutex"
	"github.com/lunarlabs/memberd/pkg/logctx"
	"github.com/lunarlabs/memberd/pkg/tool"
	"github.com/lunarlabs/memberd/pkg/types"
)

var (
	ErrNotFound        = errors.New("discount not found")
	ErrScopeConflict   = errors.New("a conflicting discount is already active")
	ErrAlreadyRedeemed = errors.New("discount already redeemed by user")
	ErrNotRedeemable   = errors.New("discount is inactive, expired or at its usage cap")
)

const codeLength = 8

// Service owns promotional discounts: the operator lifecycle (create,
// activate, deactivate, delete) and the purchase-time resolution/redemption
// path. Usage-count increments serialize per code through a key mutex so two
// concurrent redemptions cannot both take the last max_uses slot.
type Service struct {
	db    *gorm.DB
	log   *zap.SugaredLogger
	codes *keymutex.KeyMutex
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, codes: keymutex.New()}
}

type CreateRequest struct {
	Type       types.DiscountType
	Value      int64
	Scope      types.DiscountScope
	PlanScope  types.DiscountPlanScope
	MaxUses    *int
	ExpiryTime *time.Time
}

// Create mints a discount with a random code. Discounts are born inactive.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Discount, error) {
	if req.Value <= 0 {
		return nil, fmt.Errorf("discount value must be positive, got %d", req.Value)
	}
	if req.Type == types.DiscountTypePercentage && req.Value > 100 {
		return nil, fmt.Errorf("percentage discount cannot exceed 100, got %d", req.Value)
	}
	if req.PlanScope == "" {
		req.PlanScope = types.DiscountPlanScopeAll
	}

	d := &models.Discount{
		Code:       tool.GenerateCode(codeLength),
		Type:       req.Type,
		Value:      req.Value,
		Scope:      req.Scope,
		PlanScope:  req.PlanScope,
		MaxUses:    req.MaxUses,
		ExpiryTime: req.ExpiryTime,
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, fmt.Errorf("failed to create discount: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("discount created", "code", d.Code, "type", d.Type, "plan_scope", d.PlanScope)
	return d, nil
}

// Activate turns a discount on, enforcing the scope invariants: at most one
// active discount per plan scope, and an all-scope discount excludes any
// narrower active one (and vice versa).
func (s *Service) Activate(ctx context.Context, code string) (*models.Discount, error) {
	var out *models.Discount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := getByCode(tx, code, true)
		if err != nil {
			return err
		}

		var active []*models.Discount
		if err := tx.Where("active = ? AND code <> ?", true, code).Find(&active).Error; err != nil {
			return fmt.Errorf("failed to list active discounts: %w", err)
		}
		if err := ScopeConflict(d, active); err != nil {
			return err
		}

		d.Active = true
		if err := tx.Save(d).Error; err != nil {
			return fmt.Errorf("failed to activate discount: %w", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("discount activated", "code", code)
	return out, nil
}

// ScopeConflict reports the invariant activating d alongside the given
// active discounts would break: at most one active discount per plan scope,
// and an all-scope discount excludes any narrower active one (and vice
// versa). Nil when d may go active.
func ScopeConflict(d *models.Discount, active []*models.Discount) error {
	for _, a := range active {
		if a.PlanScope == types.DiscountPlanScopeAll ||
			d.PlanScope == types.DiscountPlanScopeAll ||
			a.PlanScope == d.PlanScope {
			return fmt.Errorf("%w: %s (scope %s)", ErrScopeConflict, a.Code, a.PlanScope)
		}
	}
	return nil
}

func (s *Service) Deactivate(ctx context.Context, code string) (*models.Discount, error) {
	var out *models.Discount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := getByCode(tx, code, true)
		if err != nil {
			return err
		}
		d.Active = false
		if err := tx.Save(d).Error; err != nil {
			return fmt.Errorf("failed to deactivate discount: %w", err)
		}
		out = d
		return nil
	})
	return out, err
}

func (s *Service) Delete(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).Where("code = ?", code).Delete(&models.Discount{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete discount: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]*models.Discount, error) {
	var out []*models.Discount
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*models.Discount, error) {
	return getByCode(s.db.WithContext(ctx), code, false)
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*models.Discount, error) {
	var d models.Discount
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &d, nil
}

// ActiveDiscountsFor returns the redeemable candidates for a user in
// creation order: active, not expired, not at cap, not yet redeemed by
// this user. The result is a snapshot; Redeem re-checks under lock.
func (s *Service) ActiveDiscountsFor(ctx context.Context, userID string) ([]*models.Discount, error) {
	now := time.Now()
	var candidates []*models.Discount
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Where("expiry_time IS NULL OR expiry_time > ?", now).
		Where("max_uses IS NULL OR usage_count < max_uses").
		Order("id asc").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active discounts: %w", err)
	}

	out := make([]*models.Discount, 0, len(candidates))
	for _, d := range candidates {
		var usage models.DiscountUsage
		err := s.db.WithContext(ctx).
			Where("discount_id = ? AND user_id = ?", d.ID, userID).
			First(&usage).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ResolveForPurchase finds the discount to apply to a purchase and the
// resulting price. Returns the base price and nil when nothing applies.
func (s *Service) ResolveForPurchase(ctx context.Context, userID string, plan types.PlanType, basePrice int64) (int64, *models.Discount, error) {
	candidates, err := s.ActiveDiscountsFor(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	price, applied := Resolve(candidates, plan, basePrice)
	return price, applied, nil
}

// Resolve picks the first candidate whose plan scope matches and computes
// the discounted price. Candidates must already be filtered for activity,
// expiry, cap and prior redemption, and ordered by creation.
func Resolve(candidates []*models.Discount, plan types.PlanType, basePrice int64) (int64, *models.Discount) {
	for _, d := range candidates {
		if !d.PlanScope.Matches(plan) {
			continue
		}
		return d.Apply(basePrice), d
	}
	return basePrice, nil
}

// Redeem records a confirmed redemption: usage-count increment plus the
// unique usage row, in one transaction, serialized per code. Called only
// after the triggering payment is confirmed, so abandoned invoices do not
// consume limited-use slots.
func (s *Service) Redeem(ctx context.Context, discountID uint64, userID string) error {
	d, err := s.GetByID(ctx, discountID)
	if err != nil {
		return err
	}

	return s.codes.Do(d.Code, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var locked models.Discount
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, discountID).Error; err != nil {
				return fmt.Errorf("failed to lock discount: %w", err)
			}
			if !locked.Redeemable(time.Now()) {
				return fmt.Errorf("%w: code %s", ErrNotRedeemable, locked.Code)
			}

			var usage models.DiscountUsage
			err := tx.Where("discount_id = ? AND user_id = ?", discountID, userID).First(&usage).Error
			if err == nil {
				return fmt.Errorf("%w: code %s user %s", ErrAlreadyRedeemed, locked.Code, userID)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			locked.UsageCount++
			if err := tx.Save(&locked).Error; err != nil {
				return fmt.Errorf("failed to bump usage count: %w", err)
			}
			if err := tx.Create(&models.DiscountUsage{
				DiscountID: discountID,
				UserID:     userID,
				UsageTime:  time.Now(),
			}).Error; err != nil {
				return fmt.Errorf("failed to record discount usage: %w", err)
			}
			logctx.FromCtx(ctx, s.log).Infow("discount redeemed",
				"code", locked.Code, "user_id", userID, "usage_count", locked.UsageCount)
			return nil
		})
	})
}

func getByCode(tx *gorm.DB, code string, forUpdate bool) (*models.Discount, error) {
	var d models.Discount
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("code = ?", code).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: code %s", ErrNotFound, code)
		}
		return nil, err
	}
	return &d, nil
}
