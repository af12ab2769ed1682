// internal/service/jwt.go
package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const defaultJWTSecret = "your-super-secret-jwt-key-change-in-production"

type JWTService struct {
	secretKey       []byte
	accessTokenExp  time.Duration
	refreshTokenExp time.Duration
	issuer          string
}

type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func NewJWTService(cfg config.JWTConfig) *JWTService {
	secret := cfg.Secret
	if secret == "" {
		secret = defaultJWTSecret
		slog.Warn("Using default JWT secret - change in production!")
	}

	return &JWTService{
		secretKey:       []byte(secret),
		accessTokenExp:  cfg.AccessTokenExp,
		refreshTokenExp: cfg.RefreshTokenExp,
		issuer:          cfg.Issuer,
	}
}

func (s *JWTService) AccessTokenTTL() time.Duration  { return s.accessTokenExp }
func (s *JWTService) RefreshTokenTTL() time.Duration { return s.refreshTokenExp }

func (s *JWTService) GenerateAccessToken(user *models.User) (string, error) {
	return s.generate(user, TokenTypeAccess, s.accessTokenExp)
}

func (s *JWTService) GenerateRefreshToken(user *models.User) (string, error) {
	return s.generate(user, TokenTypeRefresh, s.refreshTokenExp)
}

func (s *JWTService) generate(user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateAccessToken отклоняет refresh-токены в заголовке Authorization
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}
