// Package telemetry records usage events and anomaly flags without
// blocking the request path. Events are queued on a bounded channel and
// flushed by a background worker; when the queue is full the event is
// dropped and a warning is logged.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/models"
	internalsettings "github.com/stagecraft-ai/usagegate/internal/settings"
)

const (
	defaultQueueSize = 256
	flushTimeout     = 5 * time.Second
)

// Event describes a single guard decision to be persisted.
type Event struct {
	RequestID   string
	UserID      *uint64
	AnonKey     string
	Tool        string
	Outcome     string
	ErrorCode   string
	CostUnits   int
	CostMicros  int64
	Membership  string
	Detail      map[string]any
	RequestedAt time.Time
}

// Recorder persists usage events asynchronously.
type Recorder struct {
	db     *gorm.DB
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder creates a recorder flushing into the given database.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{
		db:     db,
		events: make(chan Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// Start launches the flush worker. The worker drains queued events after
// ctx is cancelled and then exits.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	go r.run()
}

// Stop closes the queue and waits for the worker to drain it.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
}

// Record queues an event for persistence. It never blocks; events are
// dropped when the queue is full or the recorder has stopped.
func (r *Recorder) Record(ev Event) {
	if ev.RequestID == "" {
		ev.RequestID = NewRequestID()
	}
	if ev.RequestedAt.IsZero() {
		ev.RequestedAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		log.WithField("request_id", ev.RequestID).Warn("telemetry recorder stopped, dropping usage event")
		return
	}
	select {
	case r.events <- ev:
	default:
		log.WithField("request_id", ev.RequestID).Warn("telemetry queue full, dropping usage event")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		r.flush(ev)
	}
}

func (r *Recorder) flush(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	record := models.UsageEvent{
		RequestID:   ev.RequestID,
		UserID:      ev.UserID,
		AnonKey:     ev.AnonKey,
		Tool:        ev.Tool,
		Outcome:     ev.Outcome,
		ErrorCode:   ev.ErrorCode,
		CostUnits:   ev.CostUnits,
		CostMicros:  ev.CostMicros,
		Membership:  ev.Membership,
		RequestedAt: ev.RequestedAt,
	}
	if len(ev.Detail) > 0 {
		if detail, errDetail := json.Marshal(ev.Detail); errDetail == nil {
			record.Detail = datatypes.JSON(detail)
		}
	}
	if errCreate := r.db.WithContext(ctx).Create(&record).Error; errCreate != nil {
		log.WithError(errCreate).Warn("failed to persist usage event")
		return
	}

	threshold := internalsettings.IntValue(internalsettings.AnomalyCostThresholdKey, internalsettings.DefaultAnomalyCostThreshold)
	if threshold <= 0 || ev.CostUnits < threshold {
		return
	}
	flag := models.AnomalyFlag{
		RequestID: ev.RequestID,
		UserID:    ev.UserID,
		AnonKey:   ev.AnonKey,
		Reason:    "high_unit_cost",
		CostUnits: ev.CostUnits,
	}
	if errFlag := r.db.WithContext(ctx).Create(&flag).Error; errFlag != nil {
		log.WithError(errFlag).Warn("failed to persist anomaly flag")
	}
}
