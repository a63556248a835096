package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/models"
	internalsettings "github.com/stagecraft-ai/usagegate/internal/settings"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrate(conn, sqliteIndexes)
	case DialectPostgres, "":
		return migrate(conn, postgresIndexes)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migrate applies the shared schema plus dialect-specific indexes.
func migrate(conn *gorm.DB, indexes []ddl) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.User{},
		&models.UsageEvent{},
		&models.AnomalyFlag{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureGuardSettings(conn); errSeed != nil {
		return errSeed
	}

	for _, item := range indexes {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}
	return nil
}

// ddl defines an index or DDL statement to apply.
type ddl struct {
	name string // Human-readable name for error reporting.
	sql  string // SQL to execute.
}

var commonIndexes = []ddl{
	{
		name: "idx_usage_events_user_id_requested_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_usage_events_user_id_requested_at
			ON usage_events (user_id, requested_at DESC)
		`,
	},
	{
		name: "idx_usage_events_outcome_requested_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_usage_events_outcome_requested_at
			ON usage_events (outcome, requested_at DESC)
		`,
	},
	{
		name: "idx_usage_events_tool_requested_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_usage_events_tool_requested_at
			ON usage_events (tool, requested_at DESC)
		`,
	},
	{
		name: "idx_anomaly_flags_user_id_created_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_anomaly_flags_user_id_created_at
			ON anomaly_flags (user_id, created_at DESC)
		`,
	},
	{
		name: "idx_settings_updated_at_key",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_settings_updated_at_key
			ON settings (updated_at DESC, key DESC)
		`,
	},
	{
		name: "idx_users_active_membership",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_users_active_membership
			ON users (membership)
			WHERE active = true
		`,
	},
}

var postgresIndexes = append(commonIndexes, ddl{
	name: "idx_users_username_lower",
	sql: `
		CREATE INDEX IF NOT EXISTS idx_users_username_lower
		ON users (LOWER(username))
	`,
})

var sqliteIndexes = commonIndexes

// ensureGuardSettings seeds default guard settings rows when absent.
func ensureGuardSettings(conn *gorm.DB) error {
	if errRate := ensureIntSetting(conn, internalsettings.RateLimitRedisDBKey, 0); errRate != nil {
		return errRate
	}
	if errRedis := ensureBoolSetting(conn, internalsettings.RateLimitRedisEnabledKey, false); errRedis != nil {
		return errRedis
	}
	if errAnonBurst := ensureIntSetting(conn, internalsettings.AnonBurstLimitKey, internalsettings.DefaultAnonBurstLimit); errAnonBurst != nil {
		return errAnonBurst
	}
	if errAnonDaily := ensureIntSetting(conn, internalsettings.AnonDailyLimitKey, internalsettings.DefaultAnonDailyLimit); errAnonDaily != nil {
		return errAnonDaily
	}
	if errAnomaly := ensureIntSetting(conn, internalsettings.AnomalyCostThresholdKey, internalsettings.DefaultAnomalyCostThreshold); errAnomaly != nil {
		return errAnomaly
	}
	return nil
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureSetting(conn, key, payload)
}

// ensureBoolSetting ensures a boolean setting exists and defaults when empty.
func ensureBoolSetting(conn *gorm.DB, key string, value bool) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureSetting(conn, key, payload)
}

func ensureSetting(conn *gorm.DB, key string, payload []byte) error {
	rawValue := datatypes.JSON(payload)

	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
