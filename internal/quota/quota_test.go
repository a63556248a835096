package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/db"
	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/resetclock"
	"github.com/stagecraft-ai/usagegate/internal/tier"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("sqlite:file:quota_%s?mode=memory&cache=shared", t.Name())
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return conn
}

func newTestEngine(t *testing.T, conn *gorm.DB, now time.Time) *Engine {
	t.Helper()
	engine := NewEngine(conn, resetclock.NewUTC())
	engine.nowFn = func() time.Time { return now }
	return engine
}

func seedUser(t *testing.T, conn *gorm.DB, user models.User) {
	t.Helper()
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func loadUser(t *testing.T, conn *gorm.DB, id uint64) models.User {
	t.Helper()
	var user models.User
	if err := conn.First(&user, id).Error; err != nil {
		t.Fatalf("load user %d: %v", id, err)
	}
	return user
}

func TestReserveChargesWithinDailyBudget(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "trial",
		GenerationCount: 19, LastResetAt: now, Active: true,
	})

	grant, err := engine.Reserve(context.Background(), 1, 1, "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if grant.Limit != 20 || grant.Remaining != 0 {
		t.Fatalf("expected limit 20 remaining 0, got %d/%d", grant.Remaining, grant.Limit)
	}
	if grant.Membership != tier.TierTrial {
		t.Fatalf("unexpected membership %q", grant.Membership)
	}
	if loadUser(t, conn, 1).GenerationCount != 20 {
		t.Fatal("generation count not charged")
	}
}

func TestReserveRejectsOverDailyBudgetWithoutCharging(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "trial",
		GenerationCount: 19, LastResetAt: now, Active: true,
	})

	_, err := engine.Reserve(context.Background(), 1, 2, "")
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Reason != ReasonDailyExhausted {
		t.Fatalf("unexpected reason %q", rejection.Reason)
	}
	if rejection.Remaining != 1 {
		t.Fatalf("expected remaining 1, got %d", rejection.Remaining)
	}
	if rejection.ResetAt.IsZero() {
		t.Fatal("rejection should carry the next daily reset")
	}
	if loadUser(t, conn, 1).GenerationCount != 19 {
		t.Fatal("rejected reservation must not charge")
	}
}

func TestReserveCreatesTrialUserOnFirstSight(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)

	grant, err := engine.Reserve(context.Background(), 42, 3, "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if grant.Limit != 20 || grant.Remaining != 17 {
		t.Fatalf("expected trial budget 17/20, got %d/%d", grant.Remaining, grant.Limit)
	}
	user := loadUser(t, conn, 42)
	if tier.Normalize(user.Membership) != tier.TierTrial || !user.Active {
		t.Fatalf("unexpected lazily created user: %+v", user)
	}
}

func TestDailyResetAppliesOncePerDay(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "performer",
		GenerationCount: 180, LastResetAt: now.AddDate(0, 0, -1), Active: true,
	})

	grant, err := engine.Reserve(context.Background(), 1, 5, "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if grant.Remaining != 195 {
		t.Fatalf("expected fresh window remaining 195, got %d", grant.Remaining)
	}
	first := loadUser(t, conn, 1)
	if first.GenerationCount != 5 {
		t.Fatalf("expected count 5 after reset and charge, got %d", first.GenerationCount)
	}

	// A second call in the same window must not reset again.
	if _, err := engine.Reserve(context.Background(), 1, 5, ""); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if loadUser(t, conn, 1).GenerationCount != 10 {
		t.Fatal("same-day reservation reset the counter a second time")
	}
}

func TestToolTierGateRejectsBeforeCharging(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "performer",
		LastResetAt: now, AudioMinutesLeft: 100, AudioResetAt: now, Active: true,
	})

	_, err := engine.Reserve(context.Background(), 1, 10, tier.ToolLiveAudio)
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Reason != ReasonToolTierGated {
		t.Fatalf("unexpected reason %q", rejection.Reason)
	}
	user := loadUser(t, conn, 1)
	if user.GenerationCount != 0 || user.AudioMinutesLeft != 100 {
		t.Fatal("tier-gated reservation must not touch any budget")
	}
}

func TestToolReserveDecrementsMonthlyBalance(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "professional",
		LastResetAt: now, AudioMinutesLeft: 30, AudioResetAt: now, Active: true,
	})

	grant, err := engine.Reserve(context.Background(), 1, 10, tier.ToolLiveAudio)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if grant.Tool != tier.ToolLiveAudio || grant.ToolRemaining != 20 {
		t.Fatalf("expected tool remaining 20, got %+v", grant)
	}
	user := loadUser(t, conn, 1)
	if user.AudioMinutesLeft != 20 || user.GenerationCount != 10 {
		t.Fatalf("expected both budgets charged, got %+v", user)
	}
}

func TestToolReserveRejectsWhenBalanceInsufficient(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "professional",
		LastResetAt: now, AudioMinutesLeft: 3, AudioResetAt: now, Active: true,
	})

	_, err := engine.Reserve(context.Background(), 1, 10, tier.ToolLiveAudio)
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Reason != ReasonToolExhausted {
		t.Fatalf("unexpected reason %q", rejection.Reason)
	}
	user := loadUser(t, conn, 1)
	if user.GenerationCount != 0 || user.AudioMinutesLeft != 3 {
		t.Fatal("refused tool reservation must not charge either budget")
	}
}

func TestMonthlyRolloverRestoresTierDefault(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "professional",
		LastResetAt: now, AudioMinutesLeft: 0, AudioResetAt: now.AddDate(0, -1, 0), Active: true,
	})

	grant, err := engine.Reserve(context.Background(), 1, 10, tier.ToolLiveAudio)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if grant.ToolRemaining != 290 {
		t.Fatalf("expected restored balance 290, got %d", grant.ToolRemaining)
	}
	if loadUser(t, conn, 1).AudioMinutesLeft != 290 {
		t.Fatal("monthly rollover did not restore the tier default")
	}
}

func TestInactiveUserHasNoBudget(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "professional",
		LastResetAt: now, Active: false,
	})

	_, err := engine.Reserve(context.Background(), 1, 1, "")
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Limit != 0 {
		t.Fatalf("inactive user should have limit 0, got %d", rejection.Limit)
	}
}

func TestReserveValidatesInputs(t *testing.T) {
	conn := openTestDB(t)
	engine := newTestEngine(t, conn, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	if _, err := engine.Reserve(context.Background(), 1, 0, ""); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
	if _, err := engine.Reserve(context.Background(), 1, 1, "mind-reading"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestStatusReportsWithoutCharging(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, conn, now)
	seedUser(t, conn, models.User{
		ID: 1, Username: "ada", Membership: "performer",
		GenerationCount: 7, LastResetAt: now, Active: true,
	})

	grant, err := engine.Status(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if grant.Limit != 200 || grant.Remaining != 193 {
		t.Fatalf("expected 193/200, got %d/%d", grant.Remaining, grant.Limit)
	}
	if loadUser(t, conn, 1).GenerationCount != 7 {
		t.Fatal("status must not charge")
	}
}
