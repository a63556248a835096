package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestManagerFallsBackToMemory(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(func() SettingsConfig {
		return SettingsConfig{}
	}, func() time.Time {
		return now
	}, nil)

	if result, errAllow := manager.Allow(context.Background(), "u:1", 1, WindowMinute); errAllow != nil || !result.Allowed {
		t.Fatalf("first allow = (%v, %v), want allowed", result.Allowed, errAllow)
	}
	if result, errAllow := manager.Allow(context.Background(), "u:1", 1, WindowMinute); errAllow != nil || result.Allowed {
		t.Fatalf("second allow = (%v, %v), want rejected", result.Allowed, errAllow)
	}
}

func TestManagerRedisEnabledWithoutAddrUsesMemory(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(func() SettingsConfig {
		return SettingsConfig{RedisEnabled: true}
	}, func() time.Time {
		return now
	}, nil)

	if result, errAllow := manager.Allow(context.Background(), "u:2", 1, WindowMinute); errAllow != nil || !result.Allowed {
		t.Fatalf("first allow = (%v, %v), want allowed", result.Allowed, errAllow)
	}
	if result, errAllow := manager.Allow(context.Background(), "u:2", 1, WindowMinute); errAllow != nil || result.Allowed {
		t.Fatalf("second allow = (%v, %v), want rejected via memory fallback", result.Allowed, errAllow)
	}
}

func TestManagerZeroLimitBypasses(t *testing.T) {
	manager := NewManager(nil, nil, nil)
	result, errAllow := manager.Allow(context.Background(), "u:3", 0, WindowMinute)
	if errAllow != nil || !result.Allowed {
		t.Fatalf("zero limit should bypass, got (%v, %v)", result.Allowed, errAllow)
	}
}
