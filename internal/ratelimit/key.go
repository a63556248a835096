package ratelimit

import "fmt"

// BurstKeyForUser builds a minute-window limiter key for a user.
func BurstKeyForUser(userID uint64) string {
	if userID == 0 {
		return ""
	}
	return fmt.Sprintf("u:%d", userID)
}

// BurstKeyForAnon builds a minute-window limiter key for an anonymous caller.
func BurstKeyForAnon(anonKey string) string {
	if anonKey == "" {
		return ""
	}
	return "a:" + anonKey
}

// DailyKeyForAnon builds a day-window limiter key for an anonymous caller.
func DailyKeyForAnon(anonKey string) string {
	if anonKey == "" {
		return ""
	}
	return "ad:" + anonKey
}
