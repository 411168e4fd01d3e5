package models

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// User is an Instaverse account (PostgreSQL)
type User struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Username    string    `json:"username" gorm:"size:50;uniqueIndex"`
	Email       string    `json:"email" gorm:"uniqueIndex"`
	FirebaseUID string    `json:"firebase_uid,omitempty" gorm:"index"` // set when the account signs in through Firebase
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DisplayName falls back to a neutral label when no username is set.
func (u *User) DisplayName() string {
	if u == nil || u.Username == "" {
		return "Someone"
	}
	return u.Username
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
