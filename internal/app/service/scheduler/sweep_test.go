package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/config"
)

var sweepNow = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func subDueIn(d time.Duration) *models.Subscription {
	return &models.Subscription{
		ShortID:         "s1",
		UserID:          "u1",
		NextInvoiceDate: sweepNow.Add(d),
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		sub  *models.Subscription
		want Decision
	}{
		{
			name: "far from due does nothing",
			sub:  subDueIn(10 * 24 * time.Hour),
			want: Decision{Action: ActionNone},
		},
		{
			name: "due in three days invoices",
			sub:  subDueIn(3 * 24 * time.Hour),
			want: Decision{Action: ActionInvoice},
		},
		{
			name: "due tomorrow invoices with final notice",
			sub:  subDueIn(24 * time.Hour),
			want: Decision{Action: ActionInvoice, FinalNotice: true},
		},
		{
			name: "due right now invoices with final notice",
			sub:  subDueIn(0),
			want: Decision{Action: ActionInvoice, FinalNotice: true},
		},
		{
			name: "two days past due expires",
			sub:  subDueIn(-2 * 24 * time.Hour),
			want: Decision{Action: ActionExpire},
		},
		{
			name: "cancel pending before its date waits",
			sub: func() *models.Subscription {
				s := subDueIn(2 * 24 * time.Hour)
				s.CancelPending = true
				return s
			}(),
			want: Decision{Action: ActionInvoice, FinalNotice: false},
		},
		{
			name: "cancel pending past its date cancels, not expires",
			sub: func() *models.Subscription {
				s := subDueIn(-time.Hour)
				s.CancelPending = true
				return s
			}(),
			want: Decision{Action: ActionCancel},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.sub, sweepNow))
		})
	}
}

func TestDecideAlreadyInvoicedCycleIsQuiet(t *testing.T) {
	sub := subDueIn(24 * time.Hour)
	assert.Equal(t, ActionInvoice, Decide(sub, sweepNow).Action)

	due := sub.NextInvoiceDate
	sub.LastInvoicedFor = &due
	assert.Equal(t, ActionNone, Decide(sub, sweepNow).Action)

	// A new cycle invalidates the mark.
	sub.NextInvoiceDate = due.Add(30 * 24 * time.Hour)
	sub.LastInvoicedFor = &due
	assert.Equal(t, ActionNone, Decide(sub, sweepNow).Action) // not due yet
	assert.Equal(t, ActionInvoice, Decide(sub, sweepNow.Add(29*24*time.Hour)).Action)
}

type fakeLister struct {
	subs []*models.Subscription
}

func (f *fakeLister) ListAll(context.Context) ([]*models.Subscription, error) {
	return f.subs, nil
}

type fakeBiller struct {
	mu        sync.Mutex
	invoiced  []string
	expired   []string
	cancelled []string
}

func (f *fakeBiller) SendRenewalInvoice(_ context.Context, sub *models.Subscription, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiced = append(f.invoiced, sub.ShortID)
	return nil
}

func (f *fakeBiller) ExpireSubscription(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, sub.ShortID)
	return nil
}

func (f *fakeBiller) FinalizeCancellation(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sub.ShortID)
	return nil
}

func TestSweepDispatchesPerRow(t *testing.T) {
	due := subDueIn(24 * time.Hour)
	due.ShortID = "due"
	lapsed := subDueIn(-48 * time.Hour)
	lapsed.ShortID = "lapsed"
	cancelled := subDueIn(-time.Hour)
	cancelled.ShortID = "bye"
	cancelled.CancelPending = true
	idle := subDueIn(20 * 24 * time.Hour)
	idle.ShortID = "idle"

	biller := &fakeBiller{}
	s := NewScheduler(
		&config.Config{Scheduler: config.SchedulerConfig{MaxConcurrency: 2}},
		zap.NewNop().Sugar(),
		&fakeLister{subs: []*models.Subscription{due, lapsed, cancelled, idle}},
		biller,
	)
	s.now = func() time.Time { return sweepNow }

	s.Sweep(context.Background())

	assert.Equal(t, []string{"due"}, biller.invoiced)
	assert.Equal(t, []string{"lapsed"}, biller.expired)
	assert.Equal(t, []string{"bye"}, biller.cancelled)
}
