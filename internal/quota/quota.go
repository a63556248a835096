// Package quota reserves daily generation units and monthly tool
// balances against the persisted user row. Charging is a single
// conditional UPDATE so concurrent requests can never overdraw a
// budget, and window resets are guarded by the observed reset
// timestamp so they apply exactly once per boundary.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/resetclock"
	"github.com/stagecraft-ai/usagegate/internal/tier"
)

var (
	// ErrUnknownTool rejects tool names with no registered policy.
	ErrUnknownTool = errors.New("quota: unknown tool")
	// ErrInvalidCost rejects non-positive unit costs.
	ErrInvalidCost = errors.New("quota: cost units must be positive")
)

// Reason classifies a refused reservation.
type Reason string

const (
	// ReasonDailyExhausted means the daily unit budget cannot cover the cost.
	ReasonDailyExhausted Reason = "daily_exhausted"
	// ReasonToolTierGated means the caller's tier is below the tool's minimum.
	ReasonToolTierGated Reason = "tool_tier_gated"
	// ReasonToolExhausted means the monthly tool balance cannot cover the cost.
	ReasonToolExhausted Reason = "tool_exhausted"
)

// Rejection is returned when a reservation is refused without charging.
type Rejection struct {
	Reason    Reason
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("quota: reservation refused (%s)", r.Reason)
}

// Grant reports the state of a user's budgets after a reservation or
// status read.
type Grant struct {
	UserID     uint64
	Membership tier.Tier

	Limit     int
	Remaining int
	ResetAt   time.Time

	Tool          string
	ToolRemaining int
	ToolResetAt   time.Time
}

// Engine performs quota reservations against the database.
type Engine struct {
	db    *gorm.DB
	clock *resetclock.Clock
	nowFn func() time.Time
}

// NewEngine creates an engine using the given reset clock.
func NewEngine(db *gorm.DB, clock *resetclock.Clock) *Engine {
	if clock == nil {
		clock = resetclock.NewUTC()
	}
	return &Engine{db: db, clock: clock, nowFn: time.Now}
}

// Reserve charges costUnits against the user's daily budget, and the
// named tool's monthly balance when toolName is non-empty. On refusal
// the returned error is a *Rejection and nothing is consumed. Storage
// errors are returned as-is; callers must treat them as a denial.
func (e *Engine) Reserve(ctx context.Context, userID uint64, costUnits int, toolName string) (Grant, error) {
	if costUnits <= 0 {
		return Grant{}, ErrInvalidCost
	}
	var policy *tier.ToolPolicy
	if toolName != "" {
		found, ok := tier.LookupTool(toolName)
		if !ok {
			return Grant{}, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
		}
		policy = &found
	}

	now := e.nowFn().UTC()
	user, membership, err := e.loadCurrent(ctx, userID, now)
	if err != nil {
		return Grant{}, err
	}

	limit := tier.DailyUnitLimit(membership)

	if policy != nil {
		if !policy.Allows(membership) {
			return Grant{}, &Rejection{
				Reason:    ReasonToolTierGated,
				Limit:     limit,
				Remaining: remainingUnits(limit, user.GenerationCount),
			}
		}
		user, err = e.applyMonthlyReset(ctx, user, *policy, membership, now)
		if err != nil {
			return Grant{}, err
		}
	}

	tx := e.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND generation_count + ? <= ?", user.ID, costUnits, limit)
	updates := map[string]any{
		"generation_count": gorm.Expr("generation_count + ?", costUnits),
	}
	if policy != nil {
		balanceColumn := toolBalanceColumn(policy.Name)
		tx = tx.Where(balanceColumn+" >= ?", costUnits)
		updates[balanceColumn] = gorm.Expr(balanceColumn+" - ?", costUnits)
	}
	result := tx.Updates(updates)
	if result.Error != nil {
		return Grant{}, fmt.Errorf("quota: charge user %d: %w", user.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return Grant{}, e.classifyRefusal(ctx, user.ID, policy, limit, costUnits, now)
	}

	charged, err := e.reload(ctx, user.ID)
	if err != nil {
		return Grant{}, err
	}
	return e.buildGrant(charged, membership, policy, limit, now), nil
}

// Status reports current budgets without charging. Stale windows are
// reset in place so the reported remainders reflect the active window.
func (e *Engine) Status(ctx context.Context, userID uint64, toolName string) (Grant, error) {
	var policy *tier.ToolPolicy
	if toolName != "" {
		found, ok := tier.LookupTool(toolName)
		if !ok {
			return Grant{}, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
		}
		policy = &found
	}

	now := e.nowFn().UTC()
	user, membership, err := e.loadCurrent(ctx, userID, now)
	if err != nil {
		return Grant{}, err
	}
	limit := tier.DailyUnitLimit(membership)
	if policy != nil && policy.Allows(membership) {
		user, err = e.applyMonthlyReset(ctx, user, *policy, membership, now)
		if err != nil {
			return Grant{}, err
		}
	}
	return e.buildGrant(user, membership, policy, limit, now), nil
}

// Membership returns the canonical tier for a user, creating the row
// with trial defaults on first sight. Inactive accounts report as
// expired.
func (e *Engine) Membership(ctx context.Context, userID uint64) (tier.Tier, error) {
	user, err := e.loadOrCreate(ctx, userID, e.nowFn().UTC())
	if err != nil {
		return "", err
	}
	if !user.Active {
		return tier.TierExpired, nil
	}
	return tier.Normalize(user.Membership), nil
}

// loadCurrent loads the user row, creating it with trial defaults on
// first sight, and applies the lazy daily reset.
func (e *Engine) loadCurrent(ctx context.Context, userID uint64, now time.Time) (models.User, tier.Tier, error) {
	user, err := e.loadOrCreate(ctx, userID, now)
	if err != nil {
		return models.User{}, "", err
	}
	user, err = e.applyDailyReset(ctx, user, now)
	if err != nil {
		return models.User{}, "", err
	}
	membership := tier.Normalize(user.Membership)
	if !user.Active {
		membership = tier.TierExpired
	}
	return user, membership, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, userID uint64, now time.Time) (models.User, error) {
	var user models.User
	err := e.db.WithContext(ctx).First(&user, userID).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("quota: load user %d: %w", userID, err)
	}

	fresh := models.User{
		ID:           userID,
		Username:     fmt.Sprintf("user-%d", userID),
		Membership:   string(tier.TierTrial),
		LastResetAt:  now,
		AudioResetAt: now,
		ImageResetAt: now,
		Active:       true,
	}
	if errCreate := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fresh).Error; errCreate != nil {
		return models.User{}, fmt.Errorf("quota: create user %d: %w", userID, errCreate)
	}
	if errLoad := e.db.WithContext(ctx).First(&user, userID).Error; errLoad != nil {
		return models.User{}, fmt.Errorf("quota: load user %d after create: %w", userID, errLoad)
	}
	return user, nil
}

// applyDailyReset zeroes the daily counter once per day key. The UPDATE
// is guarded by the observed last_reset_at so a racing request resets
// at most once; losers reload the winner's row.
func (e *Engine) applyDailyReset(ctx context.Context, user models.User, now time.Time) (models.User, error) {
	if e.clock.DayKey(user.LastResetAt) == e.clock.DayKey(now) {
		return user, nil
	}
	result := e.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_reset_at = ?", user.ID, user.LastResetAt).
		Updates(map[string]any{
			"generation_count": 0,
			"last_reset_at":    now,
		})
	if result.Error != nil {
		return models.User{}, fmt.Errorf("quota: daily reset user %d: %w", user.ID, result.Error)
	}
	return e.reload(ctx, user.ID)
}

// applyMonthlyReset restores the tool balance to the tier default once
// per month key, with the same observed-timestamp guard as the daily
// reset. A zero reset timestamp always counts as stale.
func (e *Engine) applyMonthlyReset(ctx context.Context, user models.User, policy tier.ToolPolicy, membership tier.Tier, now time.Time) (models.User, error) {
	observed := toolResetAt(user, policy.Name)
	if !observed.IsZero() && e.clock.MonthKey(observed) == e.clock.MonthKey(now) {
		return user, nil
	}
	tx := e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID)
	resetColumn := toolResetColumn(policy.Name)
	if observed.IsZero() {
		tx = tx.Where("("+resetColumn+" IS NULL OR "+resetColumn+" = ?)", observed)
	} else {
		tx = tx.Where(resetColumn+" = ?", observed)
	}
	result := tx.Updates(map[string]any{
		toolBalanceColumn(policy.Name): policy.MonthlyDefault(membership),
		resetColumn:                    now,
	})
	if result.Error != nil {
		return models.User{}, fmt.Errorf("quota: monthly reset user %d: %w", user.ID, result.Error)
	}
	return e.reload(ctx, user.ID)
}

// classifyRefusal reloads the row after a zero-row charge to decide
// which budget refused the reservation.
func (e *Engine) classifyRefusal(ctx context.Context, userID uint64, policy *tier.ToolPolicy, limit, costUnits int, now time.Time) error {
	user, err := e.reload(ctx, userID)
	if err != nil {
		return err
	}
	remaining := remainingUnits(limit, user.GenerationCount)
	if remaining < costUnits {
		return &Rejection{
			Reason:    ReasonDailyExhausted,
			Limit:     limit,
			Remaining: remaining,
			ResetAt:   e.clock.NextDailyReset(now),
		}
	}
	if policy != nil {
		return &Rejection{
			Reason:    ReasonToolExhausted,
			Limit:     limit,
			Remaining: toolBalance(user, policy.Name),
			ResetAt:   e.clock.NextMonthlyReset(now),
		}
	}
	// The daily budget covered the cost on reload, so a concurrent
	// charge raced us between the UPDATE and this read. Deny anyway.
	return &Rejection{
		Reason:    ReasonDailyExhausted,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   e.clock.NextDailyReset(now),
	}
}

func (e *Engine) reload(ctx context.Context, userID uint64) (models.User, error) {
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return models.User{}, fmt.Errorf("quota: reload user %d: %w", userID, err)
	}
	return user, nil
}

func (e *Engine) buildGrant(user models.User, membership tier.Tier, policy *tier.ToolPolicy, limit int, now time.Time) Grant {
	grant := Grant{
		UserID:     user.ID,
		Membership: membership,
		Limit:      limit,
		Remaining:  remainingUnits(limit, user.GenerationCount),
		ResetAt:    e.clock.NextDailyReset(now),
	}
	if policy != nil {
		grant.Tool = policy.Name
		grant.ToolRemaining = toolBalance(user, policy.Name)
		grant.ToolResetAt = e.clock.NextMonthlyReset(now)
	}
	return grant
}

func remainingUnits(limit, consumed int) int {
	remaining := limit - consumed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func toolBalanceColumn(toolName string) string {
	if toolName == tier.ToolLiveAudio {
		return "audio_minutes_left"
	}
	return "image_credits_left"
}

func toolResetColumn(toolName string) string {
	if toolName == tier.ToolLiveAudio {
		return "audio_reset_at"
	}
	return "image_reset_at"
}

func toolBalance(user models.User, toolName string) int {
	if toolName == tier.ToolLiveAudio {
		return user.AudioMinutesLeft
	}
	return user.ImageCreditsLeft
}

func toolResetAt(user models.User, toolName string) time.Time {
	if toolName == tier.ToolLiveAudio {
		return user.AudioResetAt
	}
	return user.ImageResetAt
}
