package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/types"
)

func TestRefundEligible(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := func(firstPayment time.Time, comped bool) *models.Subscription {
		return &models.Subscription{ShortID: "abc12", UserID: "u1", FirstPaymentDate: firstPayment, Comped: comped}
	}
	owner := types.Actor{UserID: "u1"}
	stranger := types.Actor{UserID: "u2"}
	operator := types.Actor{UserID: "op", Operator: true}

	tests := []struct {
		name    string
		sub     *models.Subscription
		actor   types.Actor
		used    bool
		wantErr error
	}{
		{"owner inside window", sub(now.Add(-48*time.Hour), false), owner, false, nil},
		{"owner at window edge", sub(now.Add(-72*time.Hour), false), owner, false, nil},
		{"owner just past window", sub(now.Add(-73*time.Hour), false), owner, false, ErrRefundWindowClosed},
		{"operator bypasses window", sub(now.Add(-30*24*time.Hour), false), operator, false, nil},
		{"stranger cannot refund", sub(now.Add(-time.Hour), false), stranger, false, ErrNotOwner},
		{"comped not refundable", sub(now.Add(-time.Hour), true), owner, false, ErrCompNotRefundable},
		{"comped not refundable even for operator", sub(now.Add(-time.Hour), true), operator, false, ErrCompNotRefundable},
		{"lifetime refund already used", sub(now.Add(-time.Hour), false), owner, true, ErrRefundAlreadyUsed},
		{"lifetime limit binds operators too", sub(now.Add(-time.Hour), false), operator, true, ErrRefundAlreadyUsed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := refundEligible(tt.sub, tt.actor, tt.used, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOperatorOnlyOperations(t *testing.T) {
	e := &Engine{}
	ctx := context.Background()
	caller := types.Actor{UserID: "u1"}

	t.Run("immediate cancel", func(t *testing.T) {
		assert.ErrorIs(t, e.CancelImmediately(ctx, caller, "abc12"), ErrNotOperator)
	})
	t.Run("comp grant", func(t *testing.T) {
		_, err := e.GrantComp(ctx, caller, "u2", types.PlanTypeBasic, 30)
		assert.ErrorIs(t, err, ErrNotOperator)
	})
	t.Run("extension", func(t *testing.T) {
		_, err := e.Extend(ctx, caller, "abc12", 1)
		assert.ErrorIs(t, err, ErrNotOperator)
	})
	t.Run("blacklist", func(t *testing.T) {
		assert.ErrorIs(t, e.SetBlacklist(ctx, caller, "u2", true), ErrNotOperator)
	})
}
