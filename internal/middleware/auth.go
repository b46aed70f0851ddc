package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oakmart/auth-api/internal/service"
	appErrors "github.com/oakmart/auth-api/pkg/errors"
	"github.com/oakmart/auth-api/pkg/response"
)

// ContextUserKey is the gin context key storing the verified access claims.
const ContextUserKey = "currentUser"

// Authenticate protects routes by requiring a valid access token resolving
// to a live account. Claims are attached to the context for downstream
// handlers; the password hash never is.
func Authenticate(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalAuthenticate attaches claims when a valid token is present but
// never blocks. A token that is present but fails verification is logged as
// an abuse signal and the request proceeds anonymously.
func OptionalAuthenticate(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		claims, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.Warn("discarding invalid bearer token on optional route",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
				zap.Error(err))
			c.Next()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
