package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarlabs/memberd/pkg/types"
)

func TestEncodePurchase(t *testing.T) {
	assert.Equal(t, "sub|plan:basic", EncodePurchase(types.PlanTypeBasic, 0, 0))
	assert.Equal(t,
		"sub|plan:basic|discount_used:true|discount_id:42|aff_discount:50",
		EncodePurchase(types.PlanTypeBasic, 42, 50))
}

func TestEncodeRenewal(t *testing.T) {
	issued := time.Unix(1767225600, 0)
	assert.Equal(t,
		"renew|short:Xk2Fa|plan:premium|aff_discount:30|issued_at:1767225600",
		EncodeRenewal("Xk2Fa", types.PlanTypePremium, 30, issued))
	assert.Equal(t,
		"renew|short:Xk2Fa|plan:premium|issued_at:1767225600",
		EncodeRenewal("Xk2Fa", types.PlanTypePremium, 0, issued))
}

func TestParsePayloadTagRoundTrip(t *testing.T) {
	p, err := ParsePayloadTag(EncodePurchase(types.PlanTypeStandard, 7, 25))
	require.NoError(t, err)
	assert.Equal(t, PayloadKindPurchase, p.Kind)
	assert.Equal(t, types.PlanTypeStandard, p.Plan)
	assert.True(t, p.DiscountUsed)
	assert.Equal(t, uint64(7), p.DiscountID)
	assert.Equal(t, int64(25), p.AffDiscount)

	issued := time.Unix(1767225600, 0)
	p, err = ParsePayloadTag(EncodeRenewal("abc12", types.PlanTypeBasic, 10, issued))
	require.NoError(t, err)
	assert.Equal(t, PayloadKindRenewal, p.Kind)
	assert.Equal(t, "abc12", p.ShortID)
	assert.Equal(t, int64(10), p.AffDiscount)
	assert.True(t, p.IssuedAt.Equal(issued))
}

func TestParsePayloadTagRejects(t *testing.T) {
	tags := []string{
		"",
		"gift|plan:basic",
		"sub",
		"sub|plan:gold",
		"sub|plan:basic|aff_discount:abc",
		"sub|plan:basic|aff_discount:-5",
		"sub|plan:basic|discount_id:xyz",
		"renew|plan:basic|issued_at:1767225600",
		"renew|short:abc|plan:basic",
		"renew|short:abc|plan:basic|issued_at:soon",
		"sub|plainfield",
	}
	for _, tag := range tags {
		t.Run(tag, func(t *testing.T) {
			_, err := ParsePayloadTag(tag)
			assert.ErrorIs(t, err, ErrBadPayload)
		})
	}
}

func TestParsePayloadTagSkipsUnknownKeys(t *testing.T) {
	p, err := ParsePayloadTag("sub|plan:basic|future_field:whatever")
	require.NoError(t, err)
	assert.Equal(t, types.PlanTypeBasic, p.Plan)
}
