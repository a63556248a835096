package models

import (
	"time"

	"gorm.io/datatypes"
)

// Usage event outcomes.
const (
	// OutcomeAllowed marks a granted reservation.
	OutcomeAllowed = "allowed"
	// OutcomeBlocked marks a rejected reservation.
	OutcomeBlocked = "blocked"
	// OutcomeError marks a reservation that failed on a storage or internal error.
	OutcomeError = "error"
)

// UsageEvent is an append-only record of one guard decision.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:text;not null;index"` // Request UUID.

	UserID  *uint64 `gorm:"index"`     // Authenticated user, when present.
	AnonKey string  `gorm:"type:text"` // Hashed-IP key for anonymous callers.

	Tool      string `gorm:"type:text;index"`          // Named tool, empty for plain generations.
	Outcome   string `gorm:"type:text;not null;index"` // allowed, blocked, or error.
	ErrorCode string `gorm:"type:text"`                // Guard error code for non-allowed outcomes.

	CostUnits  int   `gorm:"not null;default:0"` // Units requested.
	CostMicros int64 `gorm:"not null;default:0"` // Estimated USD cost in micros.

	Membership string `gorm:"type:text"` // Canonical tier at decision time.

	Detail datatypes.JSON `gorm:"type:jsonb"` // Optional extra context.

	RequestedAt time.Time `gorm:"not null;index"`          // Decision timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
