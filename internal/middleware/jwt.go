package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
)

const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUser      = "user"
	ContextClaims    = "claims"
)

type JWTMiddleware struct {
	jwtService  *service.JWTService
	userService *service.UserService
}

func NewJWTMiddleware(jwtService *service.JWTService, userService *service.UserService) *JWTMiddleware {
	return &JWTMiddleware{
		jwtService:  jwtService,
		userService: userService,
	}
}

func (m *JWTMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Authorization token required"})
			return
		}

		claims, err := m.jwtService.ValidateAccessToken(token)
		if err != nil {
			slog.Warn("Invalid token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid or expired token"})
			return
		}

		// Проверяем что пользователь существует
		user, err := m.userService.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not found"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUser, user)
		c.Set(ContextClaims, claims)

		c.Next()
	}
}

// RequireRole ставится после RequireAuth
func (m *JWTMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := c.Get(ContextUser)
		u, _ := user.(*models.User)
		if !ok || u == nil || !lo.Contains(roles, u.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{Error: "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		tokenParts := strings.Split(bearerToken, " ")
		if len(tokenParts) == 2 && strings.ToLower(tokenParts[0]) == "bearer" {
			return tokenParts[1]
		}
	}
	return ""
}

// UserID возвращает идентификатор из контекста или пустую строку
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
