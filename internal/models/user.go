package models

import "time"

// User is the read-only identity projection used for display names.
type User struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	DisplayName string    `gorm:"not null" json:"display_name"`
	Email       string    `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
