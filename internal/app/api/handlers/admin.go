package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lunarlabs/memberd/internal/app/api/middleware"
	affsvc "github.com/lunarlabs/memberd/internal/app/service/affiliate"
	"github.com/lunarlabs/memberd/internal/app/service/billing"
	discsvc "github.com/lunarlabs/memberd/internal/app/service/discount"
	subsvc "github.com/lunarlabs/memberd/internal/app/service/subscription"
	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/response"
	"github.com/lunarlabs/memberd/pkg/types"
)

// operatorFrom builds the operator actor for a request that passed the
// operator-auth middleware.
func operatorFrom(c *gin.Context) types.Actor {
	return types.Actor{UserID: middleware.UserID(c), Operator: true}
}

type CreateDiscountRequest struct {
	Type      types.DiscountType      `json:"type" binding:"required"`
	Value     int64                   `json:"value" binding:"required"`
	Scope     types.DiscountScope     `json:"scope" binding:"required"`
	PlanScope types.DiscountPlanScope `json:"plan_scope"`
	MaxUses   *int                    `json:"max_uses"`
	ExpiresAt *time.Time              `json:"expires_at"`
}

func ApiCreateDiscount(svc *discsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateDiscountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		d, err := svc.Create(c.Request.Context(), discsvc.CreateRequest{
			Type:       req.Type,
			Value:      req.Value,
			Scope:      req.Scope,
			PlanScope:  req.PlanScope,
			MaxUses:    req.MaxUses,
			ExpiryTime: req.ExpiresAt,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(d))
	}
}

func ApiListDiscounts(svc *discsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ds, err := svc.List(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(ds))
	}
}

func ApiActivateDiscount(svc *discsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Activate(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(d))
	}
}

func ApiDeactivateDiscount(svc *discsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Deactivate(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(d))
	}
}

func ApiDeleteDiscount(svc *discsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("code")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// ApiScanSubscriptions is the paginated, filterable admin listing.
func ApiScanSubscriptions(store *subsvc.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subsvc.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := store.Scan(c.Request.Context(), &req)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// ApiForceCancel tears the subscription down immediately, skipping the
// end-of-period wait.
func ApiForceCancel(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.CancelImmediately(c.Request.Context(), operatorFrom(c), c.Param("short_id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// ApiForceRefund refunds on the user's behalf, allowed even outside the
// 3-day window. The once-per-lifetime rule still applies.
func ApiForceRefund(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.Refund(c.Request.Context(), operatorFrom(c), c.Param("short_id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

type ExtendRequest struct {
	Months int `json:"months" binding:"required"`
}

func ApiExtendSubscription(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExtendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := engine.Extend(c.Request.Context(), operatorFrom(c), c.Param("short_id"), req.Months)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type GrantCompRequest struct {
	UserID string         `json:"user_id" binding:"required"`
	Plan   types.PlanType `json:"plan" binding:"required"`
	Days   int            `json:"days"`
}

func ApiGrantComp(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GrantCompRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := engine.GrantComp(c.Request.Context(), operatorFrom(c), req.UserID, req.Plan, req.Days)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type BlacklistRequest struct {
	Blacklisted bool `json:"blacklisted"`
}

func ApiSetBlacklist(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BlacklistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := engine.SetBlacklist(c.Request.Context(), operatorFrom(c), c.Param("user_id"), req.Blacklisted); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func ApiStats(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := engine.Stats(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(stats))
	}
}

func ApiListWithdrawals(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := models.WithdrawalStatus(c.Query("status"))
		ws, err := svc.ListWithdrawals(c.Request.Context(), status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(ws))
	}
}

func ApiAcceptWithdrawal(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.AcceptWithdrawal(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(w))
	}
}

func ApiRejectWithdrawal(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.RejectWithdrawal(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(w))
	}
}

func RegisterAdminRoutes(r gin.IRouter, engine *billing.Engine, store *subsvc.Store, discounts *discsvc.Service, affiliates *affsvc.Service) {
	r.POST("/discounts", ApiCreateDiscount(discounts))
	r.GET("/discounts", ApiListDiscounts(discounts))
	r.POST("/discounts/:code/activate", ApiActivateDiscount(discounts))
	r.POST("/discounts/:code/deactivate", ApiDeactivateDiscount(discounts))
	r.DELETE("/discounts/:code", ApiDeleteDiscount(discounts))

	r.POST("/subscriptions/list", ApiScanSubscriptions(store))
	r.POST("/subscriptions/:short_id/cancel", ApiForceCancel(engine))
	r.POST("/subscriptions/:short_id/refund", ApiForceRefund(engine))
	r.POST("/subscriptions/:short_id/extend", ApiExtendSubscription(engine))
	r.POST("/comps", ApiGrantComp(engine))
	r.POST("/users/:user_id/blacklist", ApiSetBlacklist(engine))
	r.GET("/stats", ApiStats(engine))

	r.GET("/withdrawals", ApiListWithdrawals(affiliates))
	r.POST("/withdrawals/:id/accept", ApiAcceptWithdrawal(affiliates))
	r.POST("/withdrawals/:id/reject", ApiRejectWithdrawal(affiliates))
}
