package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/utils"
)

var (
	ErrEmailTaken          = errors.New("user with this email already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidPassword     = errors.New("password must be between 8 and 72 characters")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
)

type AuthResponse struct {
	User         *UserResponse `json:"user"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func NewUserResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		LastName:  user.LastName,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

type UserService struct {
	r          *repository.UserRepository
	jwtService *JWTService
}

func NewUserService(r *repository.UserRepository, jwt *JWTService) *UserService {
	return &UserService{
		r:          r,
		jwtService: jwt,
	}
}

func (s *UserService) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existingUser, _ := s.r.GetByEmail(ctx, email)
	if existingUser != nil {
		return nil, ErrEmailTaken
	}

	hashPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooShort) || errors.Is(err, utils.ErrPasswordTooLong) {
			return nil, ErrInvalidPassword
		}
		slog.Error("Failed to hash password", "error", err)
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleDoctor
	}

	user := &models.User{
		Name:         req.Name,
		LastName:     req.LastName,
		PasswordHash: hashPassword,
		Email:        email,
		Role:         role,
	}

	if err = s.r.Create(ctx, user); err != nil {
		if database.IsDuplicate(err) {
			return nil, ErrEmailTaken
		}
		slog.Error("Failed to create user", "error", err, "email", email)
		return nil, err
	}

	slog.Info("User registered successfully",
		"user_id", user.ID,
		"email", user.Email,
		"role", user.Role,
	)

	return user, nil
}

func (s *UserService) Login(ctx context.Context, req *models.LoginRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.r.GetByEmail(ctx, email)
	if err != nil {
		if database.IsNotFound(err) {
			slog.Warn("Login attempt with non-existent email", "email", email)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := utils.CheckPassword(user.PasswordHash, req.Password); err != nil {
		slog.Warn("Invalid password attempt",
			"email", email,
			"user_id", user.ID,
		)
		return nil, ErrInvalidCredentials
	}

	slog.Info("User logged in successfully",
		"user_id", user.ID,
		"email", user.Email,
	)

	return user, nil
}

func (s *UserService) RegisterWithTokens(ctx context.Context, req *models.RegisterRequest) (*AuthResponse, error) {
	user, err := s.Register(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.generateAuthResponse(user)
}

func (s *UserService) LoginWithTokens(ctx context.Context, req *models.LoginRequest) (*AuthResponse, error) {
	user, err := s.Login(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.generateAuthResponse(user)
}

func (s *UserService) generateAuthResponse(user *models.User) (*AuthResponse, error) {
	accessToken, err := s.jwtService.GenerateAccessToken(user)
	if err != nil {
		return nil, errors.New("failed to generate access token")
	}

	refreshToken, err := s.jwtService.GenerateRefreshToken(user)
	if err != nil {
		return nil, errors.New("failed to generate refresh token")
	}

	return &AuthResponse{
		User:         NewUserResponse(user),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.jwtService.AccessTokenTTL().Seconds()),
	}, nil
}

func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtService.ValidateToken(refreshToken)
	if err != nil || claims.TokenType != TokenTypeRefresh {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.r.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	return s.generateAuthResponse(user)
}

func (s *UserService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.r.GetByID(ctx, userID)
	if database.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	return user, err
}
