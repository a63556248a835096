package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultQueryTimeout = 10 * time.Second
)

// Poller refreshes the settings snapshot from the database.
type Poller struct {
	db       *gorm.DB
	interval time.Duration

	latestAt  time.Time
	latestKey string
	hasLatest bool
}

// NewPoller constructs a settings poller.
func NewPoller(db *gorm.DB) *Poller {
	return &Poller{db: db, interval: defaultPollInterval}
}

// Start loads the snapshot once and refreshes it until the context ends.
func (p *Poller) Start(ctx context.Context) {
	if p == nil || p.db == nil {
		return
	}
	p.poll(ctx, true)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx, false)
			}
		}
	}()
}

// settingRow is the minimal projection of a settings row.
type settingRow struct {
	Key       string          `gorm:"column:key"`
	Value     json.RawMessage `gorm:"column:value"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

// poll reloads all settings when the newest row changed since the last poll.
func (p *Poller) poll(ctx context.Context, force bool) {
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var latest settingRow
	result := p.db.WithContext(qctx).
		Table("settings").
		Select("key", "updated_at").
		Order("updated_at DESC, key DESC").
		Limit(1).
		Find(&latest)
	if errFind := result.Error; errFind != nil {
		if errors.Is(errFind, context.Canceled) {
			return
		}
		log.WithError(errFind).Warn("settings poller: query latest row failed")
		return
	}
	hasLatest := result.RowsAffected > 0

	if !force && hasLatest == p.hasLatest &&
		latest.UpdatedAt.UTC().Equal(p.latestAt) && latest.Key == p.latestKey {
		return
	}

	var rows []settingRow
	if errFind := p.db.WithContext(qctx).
		Table("settings").
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		if errors.Is(errFind, context.Canceled) {
			return
		}
		log.WithError(errFind).Warn("settings poller: query settings failed")
		return
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}
	StoreDBConfig(maxUpdatedAt, values)

	if !hasLatest {
		p.latestAt = time.Time{}
		p.latestKey = ""
		p.hasLatest = false
		return
	}
	p.latestAt = latest.UpdatedAt.UTC()
	p.latestKey = latest.Key
	p.hasLatest = true
}
