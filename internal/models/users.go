package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
)

type User struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(100)" json:"name"`
	LastName     string    `gorm:"type:varchar(100)" json:"last_name"`
	Email        string    `json:"email" gorm:"type:varchar(255);unique;not null"`
	Role         string    `json:"role" gorm:"type:varchar(20);not null;default:doctor"`
	PasswordHash string    `json:"-" gorm:"column:password_hash;type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate устанавливает ID перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"omitempty,oneof=doctor admin"`
	Name     string `json:"name"`
	LastName string `json:"last_name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}
