package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/lunarlabs/memberd/internal/app/api/middleware"
	"github.com/lunarlabs/memberd/internal/app/service/billing"
	subsvc "github.com/lunarlabs/memberd/internal/app/service/subscription"
	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/response"
	"github.com/lunarlabs/memberd/pkg/types"
)

func actorFrom(c *gin.Context) types.Actor {
	return types.Actor{UserID: middleware.UserID(c)}
}

// SubscriptionItem is the user-facing view of a subscription row. Provider
// transaction ids stay internal; the short id is the handle users act on.
type SubscriptionItem struct {
	ShortID         string         `json:"short_id"`
	Plan            types.PlanType `json:"plan"`
	AmountCharged   int64          `json:"amount_charged"`
	PaymentDate     time.Time      `json:"payment_date"`
	NextInvoiceDate time.Time      `json:"next_invoice_date"`
	CancelPending   bool           `json:"cancel_pending"`
	Comped          bool           `json:"comped"`
}

func toSubscriptionItem(m *models.Subscription) *SubscriptionItem {
	return &SubscriptionItem{
		ShortID:         m.ShortID,
		Plan:            m.PlanType,
		AmountCharged:   m.AmountCharged,
		PaymentDate:     m.PaymentDate,
		NextInvoiceDate: m.NextInvoiceDate,
		CancelPending:   m.CancelPending,
		Comped:          m.Comped,
	}
}

// ApiListOwnSubscriptions returns the caller's subscriptions.
func ApiListOwnSubscriptions(store *subsvc.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		subs, err := store.ListByUser(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		items := lo.Map(subs, func(m *models.Subscription, _ int) *SubscriptionItem { return toSubscriptionItem(m) })
		c.JSON(http.StatusOK, response.OKT(items))
	}
}

type QuoteRequest struct {
	Plan types.PlanType `json:"plan" binding:"required"`
}

// ApiQuotePurchase prices a purchase for the caller: plan price, applicable
// discount and affiliate-balance offset. The payload tag goes onto the
// invoice the bridge sends.
func ApiQuotePurchase(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		quote, err := engine.QuotePurchase(c.Request.Context(), middleware.UserID(c), req.Plan)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(quote))
	}
}

// ApiPurchase quotes the plan and has the bridge present the invoice to the
// caller in one step.
func ApiPurchase(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		quote, err := engine.SendPurchaseInvoice(c.Request.Context(), middleware.UserID(c), req.Plan)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(quote))
	}
}

func ApiRequestCancellation(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := engine.RequestCancellation(c.Request.Context(), actorFrom(c), c.Param("short_id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func ApiUndoCancellation(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := engine.UndoCancellation(c.Request.Context(), actorFrom(c), c.Param("short_id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func ApiRefund(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.Refund(c.Request.Context(), actorFrom(c), c.Param("short_id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, engine *billing.Engine, store *subsvc.Store) {
	r.GET("", ApiListOwnSubscriptions(store))
	r.POST("/quote", ApiQuotePurchase(engine))
	r.POST("/purchase", ApiPurchase(engine))
	r.POST("/:short_id/cancel", ApiRequestCancellation(engine))
	r.POST("/:short_id/undo_cancel", ApiUndoCancellation(engine))
	r.POST("/:short_id/refund", ApiRefund(engine))
}
