package models

import (
	"gorm.io/gorm"
)

// User represents a tenant account. All sequences, broadcasts, contacts and
// poll sources are owned by exactly one user.
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `json:"name"`
	Company      string `json:"company"`

	IsActive     bool `gorm:"default:true" json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"`
}
