package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

type ctxKey int

const ctxOperatorID ctxKey = iota

func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, ctxOperatorID, operatorID)
}

func OperatorID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxOperatorID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator_id not in context")
}

// RequireAccessToken verifies a bearer token and injects the operator identity
// into the request context. A nil manager disables the check (local runs
// without JWT_SECRET).
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithOperator(c.Request.Context(), claims.OperatorID))
		c.Set("operator_id", claims.OperatorID)

		c.Next()
	}
}
