package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/lunarlabs/memberd/pkg/config"
	"github.com/lunarlabs/memberd/pkg/response"
)

// CtxUserIDKey is where the caller identity lands in the gin context.
const CtxUserIDKey = "userID"

// UserIdentityMiddleware requires the X-User-ID header. The API is only
// reachable from the messenger bridge, which authenticates users upstream
// and forwards their id here.
func UserIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorT[any](response.APIResponseCodeBadRequest, "missing X-User-ID header"))
			return
		}
		c.Set(CtxUserIDKey, userID)
		ctx := context.WithValue(c.Request.Context(), "user_id", userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID reads the authenticated caller id set by UserIdentityMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

// OperatorAuthMiddleware guards the admin surface with an HMAC-signed JWT
// carrying role=operator.
func OperatorAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorT[any](response.APIResponseCodeBadRequest, "missing bearer token"))
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, prefix), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(cfg.Operator.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid token"))
			return
		}
		if role, _ := claims["role"].(string); role != "operator" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				response.ErrorT[any](response.APIResponseCodeBadRequest, "operator role required"))
			return
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set(CtxUserIDKey, sub)
		}
		c.Next()
	}
}
