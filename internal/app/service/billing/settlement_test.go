package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lunarlabs/memberd/internal/app/service/subscription"
	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/config"
	"github.com/lunarlabs/memberd/pkg/types"
)

type fakeStore struct {
	SubscriptionStore

	sub          *models.Subscription
	saveCreated  bool
	renewApplied bool
	saveCalls    int
	renewCalls   int
}

func (f *fakeStore) Save(ctx context.Context, sub *models.Subscription) (*models.Subscription, bool, error) {
	f.saveCalls++
	if !f.saveCreated {
		return f.sub, false, nil
	}
	return sub, true, nil
}

func (f *fakeStore) GetByShortID(ctx context.Context, shortID string) (*models.Subscription, error) {
	if f.sub == nil || f.sub.ShortID != shortID {
		return nil, subscription.ErrNotFound
	}
	return f.sub, nil
}

func (f *fakeStore) Renew(ctx context.Context, transactionID, newTransactionID string, newAmount int64, newPaymentDate, newNextInvoiceDate time.Time) (bool, error) {
	f.renewCalls++
	return f.renewApplied, nil
}

type fakeNotifier struct {
	user     []string
	operator []string
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	f.user = append(f.user, message)
	return nil
}

func (f *fakeNotifier) NotifyOperator(ctx context.Context, message string) error {
	f.operator = append(f.operator, message)
	return nil
}

type fakeAccess struct {
	granted []string
	revoked []string
}

func (f *fakeAccess) GrantAccess(ctx context.Context, userID string) error {
	f.granted = append(f.granted, userID)
	return nil
}

func (f *fakeAccess) RevokeAccess(ctx context.Context, userID string) error {
	f.revoked = append(f.revoked, userID)
	return nil
}

func newSettlementEngine(store SubscriptionStore, notifier *fakeNotifier, access *fakeAccess, now time.Time) *Engine {
	return &Engine{
		cfg: &config.Config{
			Plans: []*types.Plan{
				{Type: types.PlanTypeBasic, Title: "Basic", Price: 100, IntervalDays: 30},
			},
		},
		log:      zap.NewNop().Sugar(),
		store:    store,
		notifier: notifier,
		access:   access,
		now:      func() time.Time { return now },
	}
}

func TestSettlePurchase(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("fresh event grants access and notifies", func(t *testing.T) {
		store := &fakeStore{saveCreated: true}
		notifier := &fakeNotifier{}
		access := &fakeAccess{}
		e := newSettlementEngine(store, notifier, access, now)

		ev := PaymentEvent{
			TransactionID: "tx-1",
			UserID:        "u1",
			AmountPaid:    100,
			PayloadTag:    EncodePurchase(types.PlanTypeBasic, 0, 0),
		}
		require.NoError(t, e.HandlePaymentEvent(context.Background(), ev))
		assert.Equal(t, 1, store.saveCalls)
		assert.Equal(t, []string{"u1"}, access.granted)
		assert.Len(t, notifier.user, 1)
	})

	t.Run("replayed event has no side effects", func(t *testing.T) {
		store := &fakeStore{saveCreated: false}
		notifier := &fakeNotifier{}
		access := &fakeAccess{}
		e := newSettlementEngine(store, notifier, access, now)

		ev := PaymentEvent{
			TransactionID: "tx-1",
			UserID:        "u1",
			AmountPaid:    100,
			PayloadTag:    EncodePurchase(types.PlanTypeBasic, 0, 0),
		}
		require.NoError(t, e.HandlePaymentEvent(context.Background(), ev))
		assert.Equal(t, 1, store.saveCalls)
		assert.Empty(t, access.granted)
		assert.Empty(t, notifier.user)
	})
}

func TestSettleRenewal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := func() *models.Subscription {
		return &models.Subscription{
			ShortID:               "abc12",
			UserID:                "u1",
			TransactionID:         "tx-2",
			PlanType:              types.PlanTypeBasic,
			RecurringIntervalDays: 30,
			NextInvoiceDate:       now.Add(24 * time.Hour),
			FirstPaymentDate:      now.Add(-60 * 24 * time.Hour),
		}
	}
	tag := EncodeRenewal("abc12", types.PlanTypeBasic, 0, now.Add(-time.Hour))

	t.Run("fresh renewal rolls forward and notifies", func(t *testing.T) {
		store := &fakeStore{sub: sub(), renewApplied: true}
		notifier := &fakeNotifier{}
		e := newSettlementEngine(store, notifier, &fakeAccess{}, now)

		ev := PaymentEvent{TransactionID: "tx-3", UserID: "u1", AmountPaid: 100, PayloadTag: tag}
		require.NoError(t, e.HandlePaymentEvent(context.Background(), ev))
		assert.Equal(t, 1, store.renewCalls)
		assert.Len(t, notifier.user, 1)
	})

	t.Run("replayed historical renewal has no side effects", func(t *testing.T) {
		// The event carries a transaction id already settled in an earlier
		// cycle; the store reports it as seen and nothing re-applies.
		store := &fakeStore{sub: sub(), renewApplied: false}
		notifier := &fakeNotifier{}
		e := newSettlementEngine(store, notifier, &fakeAccess{}, now)

		ev := PaymentEvent{TransactionID: "tx-1", UserID: "u1", AmountPaid: 100, PayloadTag: tag}
		require.NoError(t, e.HandlePaymentEvent(context.Background(), ev))
		assert.Equal(t, 1, store.renewCalls)
		assert.Empty(t, notifier.user)
	})
}
