package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/middleware"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
)

const refreshCookie = "refresh_token"

type AuthHandlers struct {
	s            *service.UserService
	jwtService   *service.JWTService
	secureCookie bool
}

func NewAuthHandlers(userService *service.UserService, jwtService *service.JWTService, secureCookie bool) *AuthHandlers {
	return &AuthHandlers{
		s:            userService,
		jwtService:   jwtService,
		secureCookie: secureCookie,
	}
}

// Register регистрация врача
// @Summary Регистрация пользователя
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RegisterRequest true "Данные пользователя"
// @Success 201 {object} service.AuthResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Email уже занят"
// @Router /auth/register [post]
func (h *AuthHandlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid registration request", err)
		return
	}

	authResponse, err := h.s.RegisterWithTokens(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setRefreshTokenCookie(c, authResponse.RefreshToken)

	c.JSON(http.StatusCreated, gin.H{
		"message":      "User registered successfully",
		"user":         authResponse.User,
		"access_token": authResponse.AccessToken,
		"token_type":   authResponse.TokenType,
		"expires_in":   authResponse.ExpiresIn,
	})
}

// Login вход по email и паролю
// @Summary Вход
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Учетные данные"
// @Success 200 {object} service.AuthResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid login request", err)
		return
	}

	authResponse, err := h.s.LoginWithTokens(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setRefreshTokenCookie(c, authResponse.RefreshToken)

	c.JSON(http.StatusOK, gin.H{
		"message":      "Login successful",
		"user":         authResponse.User,
		"access_token": authResponse.AccessToken,
		"token_type":   authResponse.TokenType,
		"expires_in":   authResponse.ExpiresIn,
	})
}

// RefreshToken новый access-токен по refresh-cookie
// @Summary Обновление токена
// @Tags auth
// @Produce json
// @Success 200 {object} service.AuthResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandlers) RefreshToken(c *gin.Context) {
	refreshToken, err := c.Cookie(refreshCookie)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "refresh token required"})
		return
	}

	authResponse, err := h.s.RefreshToken(c.Request.Context(), refreshToken)
	if err != nil {
		h.clearRefreshTokenCookie(c)
		respondError(c, err)
		return
	}

	h.setRefreshTokenCookie(c, authResponse.RefreshToken)

	c.JSON(http.StatusOK, gin.H{
		"access_token": authResponse.AccessToken,
		"token_type":   authResponse.TokenType,
		"expires_in":   authResponse.ExpiresIn,
	})
}

// Logout
// @Summary Выход
// @Tags auth
// @Produce json
// @Success 200 {object} models.MessageResponse
// @Router /auth/logout [post]
func (h *AuthHandlers) Logout(c *gin.Context) {
	h.clearRefreshTokenCookie(c)
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Logged out successfully"})
}

// GetProfile текущий пользователь
// @Summary Профиль
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.UserResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandlers) GetProfile(c *gin.Context) {
	user, exists := c.Get(middleware.ContextUser)
	currentUser, ok := user.(*models.User)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": service.NewUserResponse(currentUser)})
}

func (h *AuthHandlers) setRefreshTokenCookie(c *gin.Context, refreshToken string) {
	c.SetCookie(
		refreshCookie,
		refreshToken,
		int(h.jwtService.RefreshTokenTTL().Seconds()),
		"/",
		"",
		h.secureCookie,
		true, // httpOnly
	)
}

func (h *AuthHandlers) clearRefreshTokenCookie(c *gin.Context) {
	c.SetCookie(refreshCookie, "", -1, "/", "", h.secureCookie, true)
}
