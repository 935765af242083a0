package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunarlabs/memberd/internal/app/service/affiliate"
	"github.com/lunarlabs/memberd/internal/app/service/billing"
	"github.com/lunarlabs/memberd/internal/app/service/discount"
	"github.com/lunarlabs/memberd/internal/app/service/subscription"
	"github.com/lunarlabs/memberd/pkg/response"
)

// callerErrors are rejections of the request itself, as opposed to internal
// failures. They map to the bad-request response code.
var callerErrors = []error{
	billing.ErrUnknownPlan,
	billing.ErrBlacklisted,
	billing.ErrAlreadySubscribed,
	billing.ErrNotSubscribed,
	billing.ErrNotOwner,
	billing.ErrNotOperator,
	billing.ErrCancelTooLate,
	billing.ErrRefundWindowClosed,
	billing.ErrRefundAlreadyUsed,
	billing.ErrCompNotRefundable,
	billing.ErrInvoiceExpired,
	billing.ErrQuoteStale,
	billing.ErrDiscountGone,
	discount.ErrNotFound,
	discount.ErrScopeConflict,
	discount.ErrAlreadyRedeemed,
	discount.ErrNotRedeemable,
	affiliate.ErrNotAffiliate,
	affiliate.ErrCodeNotFound,
	affiliate.ErrSelfReferral,
	affiliate.ErrWithdrawalsDisabled,
	affiliate.ErrBelowMinimum,
	affiliate.ErrWithdrawalNotFound,
	affiliate.ErrAlreadyProcessed,
	subscription.ErrNotFound,
}

func respondErr(c *gin.Context, err error) {
	code := response.APIResponseCodeError
	for _, sentinel := range callerErrors {
		if errors.Is(err, sentinel) {
			code = response.APIResponseCodeBadRequest
			break
		}
	}
	c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
}
