package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunarlabs/memberd/internal/app/api/middleware"
	affsvc "github.com/lunarlabs/memberd/internal/app/service/affiliate"
	"github.com/lunarlabs/memberd/pkg/response"
)

// ApiJoinAffiliate enrolls the caller as an affiliate and returns their code.
func ApiJoinAffiliate(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := svc.EnsureAffiliate(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(settings))
	}
}

// ApiAffiliateInfo returns the caller's code, balance and referral counts.
func ApiAffiliateInfo(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.Info(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(info))
	}
}

type TrackReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

// ApiTrackReferral records that the caller followed an affiliate link. The
// bridge calls this when a user arrives through a coded deep link.
func ApiTrackReferral(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TrackReferralRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := svc.TrackReferral(c.Request.Context(), req.Code, middleware.UserID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

type WithdrawalRequestBody struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	WalletType    string `json:"wallet_type" binding:"required"`
}

func ApiRequestWithdrawal(svc *affsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WithdrawalRequestBody
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		w, err := svc.RequestWithdrawal(c.Request.Context(), middleware.UserID(c), req.WalletAddress, req.WalletType)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(w))
	}
}

func RegisterAffiliateRoutes(r gin.IRouter, svc *affsvc.Service) {
	r.POST("/join", ApiJoinAffiliate(svc))
	r.GET("/info", ApiAffiliateInfo(svc))
	r.POST("/referrals", ApiTrackReferral(svc))
	r.POST("/withdrawals", ApiRequestWithdrawal(svc))
}
