package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunarlabs/memberd/internal/app/service/billing"
	"github.com/lunarlabs/memberd/pkg/response"
)

// ApiPaymentEvent ingests a confirmed payment from the provider bridge.
// Always acknowledged with 200 unless persistence itself failed, so the
// bridge only retries events we could not durably record.
func ApiPaymentEvent(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev billing.PaymentEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := engine.HandlePaymentEvent(c.Request.Context(), ev); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

type ValidateCheckoutRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	PayloadTag string `json:"payload_tag"`
}

// ApiValidateCheckout is the pre-checkout gate the provider calls before
// charging. A non-zero code means "do not charge".
func ApiValidateCheckout(engine *billing.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ValidateCheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := engine.ValidateCheckout(c.Request.Context(), req.UserID, req.PayloadTag); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, engine *billing.Engine) {
	r.POST("/events", ApiPaymentEvent(engine))
	r.POST("/validate", ApiValidateCheckout(engine))
}
