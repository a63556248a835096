package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/db"
	"github.com/stagecraft-ai/usagegate/internal/models"
	internalsettings "github.com/stagecraft-ai/usagegate/internal/settings"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("sqlite:file:telemetry_%s?mode=memory&cache=shared", t.Name())
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return conn
}

func TestRecorderPersistsEvents(t *testing.T) {
	conn := openTestDB(t)
	recorder := NewRecorder(conn)
	recorder.Start(context.Background())

	userID := uint64(7)
	recorder.Record(Event{
		RequestID:  "req-1",
		UserID:     &userID,
		Tool:       "image-gen",
		Outcome:    models.OutcomeAllowed,
		CostUnits:  3,
		CostMicros: 6000,
		Membership: "performer",
		Detail:     map[string]any{"remaining": 47},
	})
	recorder.Record(Event{
		RequestID: "req-2",
		AnonKey:   "abcd1234",
		Outcome:   models.OutcomeBlocked,
		ErrorCode: "RATE_LIMITED",
		CostUnits: 1,
	})
	recorder.Stop()

	var events []models.UsageEvent
	if err := conn.Order("request_id").Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].RequestID != "req-1" || events[0].UserID == nil || *events[0].UserID != 7 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[0].Membership != "performer" || events[0].CostMicros != 6000 {
		t.Fatalf("unexpected first event fields: %+v", events[0])
	}
	var detail map[string]any
	if err := json.Unmarshal(events[0].Detail, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail["remaining"] != float64(47) {
		t.Fatalf("unexpected detail: %v", detail)
	}
	if events[1].AnonKey != "abcd1234" || events[1].ErrorCode != "RATE_LIMITED" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[1].RequestedAt.IsZero() {
		t.Fatal("requested_at should be defaulted")
	}
}

func TestRecorderFlagsHighCostEvents(t *testing.T) {
	conn := openTestDB(t)
	internalsettings.StoreDBConfig(time.Now(), map[string]json.RawMessage{
		internalsettings.AnomalyCostThresholdKey: json.RawMessage(`10`),
	})
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Now(), nil) })

	recorder := NewRecorder(conn)
	recorder.Start(context.Background())
	recorder.Record(Event{RequestID: "cheap", Outcome: models.OutcomeAllowed, CostUnits: 9})
	recorder.Record(Event{RequestID: "pricey", Outcome: models.OutcomeAllowed, CostUnits: 12})
	recorder.Stop()

	var flags []models.AnomalyFlag
	if err := conn.Find(&flags).Error; err != nil {
		t.Fatalf("load flags: %v", err)
	}
	if len(flags) != 1 {
		t.Fatalf("expected 1 anomaly flag, got %d", len(flags))
	}
	if flags[0].RequestID != "pricey" || flags[0].Reason != "high_unit_cost" || flags[0].CostUnits != 12 {
		t.Fatalf("unexpected flag: %+v", flags[0])
	}
}

func TestRecorderDropsAfterStop(t *testing.T) {
	conn := openTestDB(t)
	recorder := NewRecorder(conn)
	recorder.Start(context.Background())
	recorder.Stop()

	recorder.Record(Event{RequestID: "late", Outcome: models.OutcomeAllowed, CostUnits: 1})

	var count int64
	if err := conn.Model(&models.UsageEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no events after stop, got %d", count)
	}
}
