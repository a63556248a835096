package models

import "time"

// AnomalyFlag is an advisory append-only record raised by usage heuristics.
type AnomalyFlag struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:text;not null;index"` // Request UUID of the triggering call.

	UserID  *uint64 `gorm:"index"`     // Authenticated user, when present.
	AnonKey string  `gorm:"type:text"` // Hashed-IP key for anonymous callers.

	Reason    string `gorm:"type:text;not null"` // Heuristic that fired.
	CostUnits int    `gorm:"not null;default:0"` // Units requested by the triggering call.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
