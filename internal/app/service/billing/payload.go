package billing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lunarlabs/memberd/pkg/types"
)

// Payload tags travel through the payment provider attached to an invoice
// and come back verbatim on the payment event. They are pipe-separated
// key:value fields after a kind marker, e.g.
//
//	sub|plan:basic|discount_used:true|discount_id:42|aff_discount:50
//	renew|short:Xk2Fa|plan:basic|aff_discount:50|issued_at:1767225600
//
// A tag that does not parse marks the payment as plain: acknowledged and
// logged, but granting nothing.

type PayloadKind string

const (
	PayloadKindPurchase PayloadKind = "sub"
	PayloadKindRenewal  PayloadKind = "renew"
)

// ErrBadPayload marks a tag that is not one of ours.
var ErrBadPayload = errors.New("unrecognized payload tag")

// Payload is the decoded form of a payload tag.
type Payload struct {
	Kind         PayloadKind
	Plan         types.PlanType
	DiscountUsed bool
	DiscountID   uint64
	AffDiscount  int64

	// Renewal only.
	ShortID  string
	IssuedAt time.Time
}

// EncodePurchase builds the tag for a first-purchase invoice.
func EncodePurchase(plan types.PlanType, discountID uint64, affDiscount int64) string {
	var b strings.Builder
	b.WriteString(string(PayloadKindPurchase))
	fmt.Fprintf(&b, "|plan:%s", plan)
	if discountID > 0 {
		fmt.Fprintf(&b, "|discount_used:true|discount_id:%d", discountID)
	}
	if affDiscount > 0 {
		fmt.Fprintf(&b, "|aff_discount:%d", affDiscount)
	}
	return b.String()
}

// EncodeRenewal builds the tag for a renewal invoice. issuedAt lets the
// pre-checkout gate reject invoices older than a day.
func EncodeRenewal(shortID string, plan types.PlanType, affDiscount int64, issuedAt time.Time) string {
	var b strings.Builder
	b.WriteString(string(PayloadKindRenewal))
	fmt.Fprintf(&b, "|short:%s|plan:%s", shortID, plan)
	if affDiscount > 0 {
		fmt.Fprintf(&b, "|aff_discount:%d", affDiscount)
	}
	fmt.Fprintf(&b, "|issued_at:%d", issuedAt.Unix())
	return b.String()
}

// ParsePayloadTag decodes a tag. Unknown kinds, missing required fields and
// malformed values all return ErrBadPayload; callers treat that as a plain
// payment, never as a failure.
func ParsePayloadTag(tag string) (*Payload, error) {
	parts := strings.Split(tag, "|")
	if len(parts) == 0 {
		return nil, ErrBadPayload
	}

	p := &Payload{Kind: PayloadKind(parts[0])}
	switch p.Kind {
	case PayloadKindPurchase, PayloadKindRenewal:
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrBadPayload, parts[0])
	}

	for _, field := range parts[1:] {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("%w: field %q", ErrBadPayload, field)
		}
		switch key {
		case "plan":
			p.Plan = types.PlanType(value)
		case "discount_used":
			p.DiscountUsed = value == "true"
		case "discount_id":
			id, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: discount_id %q", ErrBadPayload, value)
			}
			p.DiscountID = id
		case "aff_discount":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: aff_discount %q", ErrBadPayload, value)
			}
			p.AffDiscount = n
		case "short":
			p.ShortID = value
		case "issued_at":
			sec, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: issued_at %q", ErrBadPayload, value)
			}
			p.IssuedAt = time.Unix(sec, 0)
		default:
			// Unknown keys are skipped so old events survive new fields.
		}
	}

	if !p.Plan.Valid() {
		return nil, fmt.Errorf("%w: plan %q", ErrBadPayload, p.Plan)
	}
	if p.Kind == PayloadKindRenewal && (p.ShortID == "" || p.IssuedAt.IsZero()) {
		return nil, fmt.Errorf("%w: renewal tag missing short or issued_at", ErrBadPayload)
	}
	return p, nil
}
