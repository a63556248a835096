package settings

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// snapshot is an immutable view of the settings table.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Pointer[snapshot]

// StoreDBConfig replaces the settings snapshot served to readers.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	copied := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		copied[k] = v
	}
	current.Store(&snapshot{updatedAt: updatedAt.UTC(), values: copied})
}

// DBConfigValue returns the raw JSON value for a settings key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snap := current.Load()
	if snap == nil {
		return nil, false
	}
	value, ok := snap.values[key]
	return value, ok
}

// DBConfigUpdatedAt returns the newest updated-at seen in the snapshot.
func DBConfigUpdatedAt() time.Time {
	snap := current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.updatedAt
}
