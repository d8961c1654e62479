// Database models for user accounts
package db

import (
	"time"

	"gorm.io/gorm"
)

// User is an account that owns chats. Password holds a bcrypt hash and is
// nil for accounts created without credentials.
type User struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	Email     string         `json:"email" gorm:"uniqueIndex;size:255;not null"`
	FullName  *string        `json:"full_name" gorm:"size:255"`
	Password  *string        `json:"-" gorm:"size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}
