package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text;index"`       // Email address.

	Membership string `gorm:"type:text;not null;default:'trial'"` // Raw membership string, canonicalized on read.

	GenerationCount int       `gorm:"not null;default:0"` // Units consumed in the current day window.
	LastResetAt     time.Time `gorm:"not null"`           // Start of the current day window.

	AudioMinutesLeft int       `gorm:"not null;default:0"` // Monthly live-audio minutes remaining.
	AudioResetAt     time.Time `gorm:""`                   // Start of the current live-audio month window.
	ImageCreditsLeft int       `gorm:"not null;default:0"` // Monthly image-gen credits remaining.
	ImageResetAt     time.Time `gorm:""`                   // Start of the current image-gen month window.

	Active bool `gorm:"not null;default:true"` // Whether the account may consume units.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
