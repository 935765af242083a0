package affiliate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/config"
	"github.com/lunarlabs/memberd/pkg/keymutex"
	"github.com/lunarlabs/memberd/pkg/logctx"
	"github.com/lunarlabs/memberd/pkg/tool"
)

var (
	ErrNotAffiliate        = errors.New("user has no affiliate account")
	ErrCodeNotFound        = errors.New("affiliate code not found")
	ErrSelfReferral        = errors.New("users cannot refer themselves")
	ErrWithdrawalsDisabled = errors.New("withdrawals are disabled")
	ErrBelowMinimum        = errors.New("balance below withdrawal minimum")
	ErrWithdrawalNotFound  = errors.New("withdrawal request not found")
	ErrAlreadyProcessed    = errors.New("withdrawal request already processed")
)

const affiliateCodeLength = 6

// PayingCounter reports how many of the given users currently pay for a
// subscription. Satisfied by the subscription store.
type PayingCounter interface {
	CountPayingUsers(ctx context.Context, userIDs []string) (int, error)
}

// Service is the commission ledger: affiliate enrollment, referral tracking,
// the earnings balance and its withdrawal lifecycle. Balance mutations
// serialize per affiliate through a key mutex on top of row locks, so a
// commission credit racing a withdrawal debit cannot lose an update.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	cfg      *config.Config
	counter  PayingCounter
	balances *keymutex.KeyMutex
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, cfg *config.Config, counter PayingCounter) *Service {
	return &Service{db: db, log: log, cfg: cfg, counter: counter, balances: keymutex.New()}
}

// EnsureAffiliate returns the user's affiliate settings, enrolling them with
// a fresh code on first call.
func (s *Service) EnsureAffiliate(ctx context.Context, userID string) (*models.AffiliateSettings, error) {
	var settings models.AffiliateSettings
	err := s.db.WithContext(ctx).Where("affiliate_user_id = ?", userID).First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	code, err := s.freshCode(ctx)
	if err != nil {
		return nil, err
	}
	settings = models.AffiliateSettings{
		AffiliateUserID: userID,
		AffiliateCode:   code,
		Earnings:        decimal.Zero,
	}
	if err := s.db.WithContext(ctx).Create(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to enroll affiliate: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("affiliate enrolled", "user_id", userID, "code", code)
	return &settings, nil
}

func (s *Service) freshCode(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		code := tool.GenerateCode(affiliateCodeLength)
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.AffiliateSettings{}).
			Where("affiliate_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errors.New("failed to generate a unique affiliate code")
}

func (s *Service) GetByCode(ctx context.Context, code string) (*models.AffiliateSettings, error) {
	var settings models.AffiliateSettings
	if err := s.db.WithContext(ctx).Where("affiliate_code = ?", code).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, code)
		}
		return nil, err
	}
	return &settings, nil
}

func (s *Service) GetByUser(ctx context.Context, userID string) (*models.AffiliateSettings, error) {
	var settings models.AffiliateSettings
	if err := s.db.WithContext(ctx).Where("affiliate_user_id = ?", userID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotAffiliate, userID)
		}
		return nil, err
	}
	return &settings, nil
}

// TrackReferral binds a referred user to the owner of the given code. The
// most recent link followed wins until the first qualifying purchase.
func (s *Service) TrackReferral(ctx context.Context, code, referredUserID string) error {
	settings, err := s.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if settings.AffiliateUserID == referredUserID {
		return ErrSelfReferral
	}

	mapping := models.AffiliateUser{
		ReferredUserID:  referredUserID,
		AffiliateUserID: settings.AffiliateUserID,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referred_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"affiliate_user_id", "updated_at"}),
	}).Create(&mapping).Error
	if err != nil {
		return fmt.Errorf("failed to track referral: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("referral tracked",
		"affiliate", settings.AffiliateUserID, "referred", referredUserID)
	return nil
}

// AffiliateOf returns the affiliate mapped to the referred user, or nil when
// the user was not referred.
func (s *Service) AffiliateOf(ctx context.Context, referredUserID string) (*models.AffiliateUser, error) {
	var mapping models.AffiliateUser
	err := s.db.WithContext(ctx).Where("referred_user_id = ?", referredUserID).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// DeleteMapping drops the referral binding, freeing the user to be referred
// again. Missing mapping is a no-op.
func (s *Service) DeleteMapping(ctx context.Context, referredUserID string) error {
	return s.db.WithContext(ctx).
		Where("referred_user_id = ?", referredUserID).
		Delete(&models.AffiliateUser{}).Error
}

func (s *Service) referredUserIDs(ctx context.Context, affiliateUserID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.AffiliateUser{}).
		Where("affiliate_user_id = ?", affiliateUserID).
		Pluck("referred_user_id", &ids).Error
	return ids, err
}

// Balance returns the affiliate's current earnings balance, zero when the
// user has no affiliate account.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	settings, err := s.GetByUser(ctx, userID)
	if errors.Is(err, ErrNotAffiliate) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return settings.Earnings, nil
}

// Credit adds to the affiliate's balance under the per-affiliate mutex.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.adjust(ctx, userID, amount)
}

// Debit subtracts from the balance, clamping at zero. A clamped debit is
// logged loudly since it means the ledger drifted.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.adjust(ctx, userID, amount.Neg())
}

func (s *Service) adjust(ctx context.Context, userID string, delta decimal.Decimal) error {
	return s.balances.Do(userID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var settings models.AffiliateSettings
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("affiliate_user_id = ?", userID).
				First(&settings).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrNotAffiliate, userID)
				}
				return err
			}

			next := settings.Earnings.Add(delta)
			if next.IsNegative() {
				logctx.FromCtx(ctx, s.log).Warnw("balance debit clamped at zero",
					"user_id", userID, "balance", settings.Earnings, "delta", delta)
				next = decimal.Zero
			}
			settings.Earnings = next
			if err := tx.Save(&settings).Error; err != nil {
				return fmt.Errorf("failed to adjust balance: %w", err)
			}
			return nil
		})
	})
}

// CommissionResult is what RecordCommission decided and did, for the caller
// to turn into notifications.
type CommissionResult struct {
	AffiliateUserID string
	Amount          decimal.Decimal
	Rate            float64
	ReferralCreated bool
	Credited        bool
}

// RecordCommission computes and credits the commission for a confirmed
// payment by a referred user. Returns nil when no affiliate is owed anything:
// no mapping, or self-referral.
//
// First purchases credit only when the referral row is newly created, so a
// replayed payment event cannot pay the bonus twice. Recurring payments
// credit every time.
func (s *Service) RecordCommission(ctx context.Context, referredUserID, shortID string, basis int64, firstPaymentDate, now time.Time, recurring bool) (*CommissionResult, error) {
	log := logctx.FromCtx(ctx, s.log)

	mapping, err := s.AffiliateOf(ctx, referredUserID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, nil
	}
	if mapping.AffiliateUserID == referredUserID {
		log.Warnw("self-referral mapping ignored", "user_id", referredUserID)
		return nil, nil
	}

	referred, err := s.referredUserIDs(ctx, mapping.AffiliateUserID)
	if err != nil {
		return nil, err
	}
	active, err := s.counter.CountPayingUsers(ctx, referred)
	if err != nil {
		return nil, err
	}

	rate := TierRate(active, firstPaymentDate, now)
	amount := decimal.NewFromInt(basis).Mul(decimal.NewFromFloat(rate)).Round(0)

	result := &CommissionResult{
		AffiliateUserID: mapping.AffiliateUserID,
		Amount:          amount,
		Rate:            rate,
	}

	if recurring {
		if amount.IsPositive() {
			if err := s.Credit(ctx, mapping.AffiliateUserID, amount); err != nil {
				return nil, err
			}
			result.Credited = true
		}
		log.Infow("recurring commission recorded",
			"affiliate", mapping.AffiliateUserID, "referred", referredUserID,
			"rate", rate, "amount", amount, "active_referrals", active)
		return result, nil
	}

	created, err := s.ensureReferral(ctx, mapping.AffiliateUserID, referredUserID, amount, shortID)
	if err != nil {
		return nil, err
	}
	result.ReferralCreated = created
	if created && amount.IsPositive() {
		if err := s.Credit(ctx, mapping.AffiliateUserID, amount); err != nil {
			return nil, err
		}
		result.Credited = true
	}
	log.Infow("purchase commission recorded",
		"affiliate", mapping.AffiliateUserID, "referred", referredUserID,
		"rate", rate, "amount", amount, "referral_created", created)
	return result, nil
}

// ensureReferral inserts the ledger row for an (affiliate, referred) pair
// unless one already exists. The row is written even at a zero rate so the
// referral count keeps growing.
func (s *Service) ensureReferral(ctx context.Context, affiliateUserID, referredUserID string, amount decimal.Decimal, shortID string) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Referral
		err := tx.Where("affiliate_user_id = ? AND referred_user_id = ?", affiliateUserID, referredUserID).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&models.Referral{
			AffiliateUserID: affiliateUserID,
			ReferredUserID:  referredUserID,
			AmountEarned:    amount,
			ShortID:         shortID,
		}).Error; err != nil {
			return fmt.Errorf("failed to create referral: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

// Clawback reverses the first-purchase bonus for a refunded referred user:
// debits the affiliate by the referral row's recorded amount. Returns the
// clawed-back amount, zero when there is nothing to reverse.
func (s *Service) Clawback(ctx context.Context, affiliateUserID, referredUserID string) (decimal.Decimal, error) {
	var ref models.Referral
	err := s.db.WithContext(ctx).
		Where("affiliate_user_id = ? AND referred_user_id = ?", affiliateUserID, referredUserID).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if ref.AmountEarned.IsPositive() {
		if err := s.Debit(ctx, affiliateUserID, ref.AmountEarned); err != nil {
			return decimal.Zero, err
		}
	}
	logctx.FromCtx(ctx, s.log).Infow("commission clawed back",
		"affiliate", affiliateUserID, "referred", referredUserID, "amount", ref.AmountEarned)
	return ref.AmountEarned, nil
}

// CommissionInfo is the affiliate dashboard payload.
type CommissionInfo struct {
	AffiliateCode   string          `json:"affiliate_code"`
	Earnings        decimal.Decimal `json:"earnings"`
	TotalReferrals  int             `json:"total_referrals"`
	ActiveReferrals int             `json:"active_referrals"`
}

func (s *Service) Info(ctx context.Context, userID string) (*CommissionInfo, error) {
	settings, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	referred, err := s.referredUserIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.counter.CountPayingUsers(ctx, referred)
	if err != nil {
		return nil, err
	}
	return &CommissionInfo{
		AffiliateCode:   settings.AffiliateCode,
		Earnings:        settings.Earnings,
		TotalReferrals:  len(referred),
		ActiveReferrals: active,
	}, nil
}

// RequestWithdrawal opens a pending payout request for the full balance.
func (s *Service) RequestWithdrawal(ctx context.Context, userID, walletAddress, walletType string) (*models.WithdrawalRequest, error) {
	if !s.cfg.Affiliate.WithdrawalsEnabled {
		return nil, ErrWithdrawalsDisabled
	}
	settings, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	min := decimal.NewFromInt(s.cfg.Affiliate.MinWithdrawal)
	if settings.Earnings.LessThan(min) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrBelowMinimum, settings.Earnings, min)
	}

	req := &models.WithdrawalRequest{
		ID:              tool.GenerateUUIDV7(),
		AffiliateUserID: userID,
		WalletAddress:   walletAddress,
		WalletType:      walletType,
		Amount:          settings.Earnings,
		Status:          models.WithdrawalStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("withdrawal requested",
		"user_id", userID, "amount", req.Amount, "wallet_type", walletType)
	return req, nil
}

// AcceptWithdrawal approves a pending request and debits the affiliate's
// full balance at acceptance time, which may differ from the requested
// amount if commissions landed in between.
func (s *Service) AcceptWithdrawal(ctx context.Context, requestID string) (*models.WithdrawalRequest, error) {
	req, err := s.resolveWithdrawal(ctx, requestID, models.WithdrawalStatusAccepted)
	if err != nil {
		return nil, err
	}
	settings, err := s.GetByUser(ctx, req.AffiliateUserID)
	if err != nil {
		return nil, err
	}
	if settings.Earnings.IsPositive() {
		if err := s.Debit(ctx, req.AffiliateUserID, settings.Earnings); err != nil {
			return nil, err
		}
	}
	logctx.FromCtx(ctx, s.log).Infow("withdrawal accepted",
		"request_id", requestID, "user_id", req.AffiliateUserID, "paid", settings.Earnings)
	return req, nil
}

func (s *Service) RejectWithdrawal(ctx context.Context, requestID string) (*models.WithdrawalRequest, error) {
	return s.resolveWithdrawal(ctx, requestID, models.WithdrawalStatusRejected)
}

func (s *Service) resolveWithdrawal(ctx context.Context, requestID string, status models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	var out *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.WithdrawalRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", requestID).
			First(&req).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrWithdrawalNotFound, requestID)
			}
			return err
		}
		if req.Status != models.WithdrawalStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, requestID, req.Status)
		}
		req.Status = status
		if err := tx.Save(&req).Error; err != nil {
			return err
		}
		out = &req
		return nil
	})
	return out, err
}

func (s *Service) ListWithdrawals(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error) {
	q := s.db.WithContext(ctx).Order("created_at asc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*models.WithdrawalRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
