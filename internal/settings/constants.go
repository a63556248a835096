package settings

// DB config keys and defaults for guard settings.
const (
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// AnonBurstLimitKey overrides the anonymous per-minute burst cap.
	AnonBurstLimitKey = "ANON_BURST_LIMIT"
	// AnonDailyLimitKey overrides the anonymous per-day unit cap.
	AnonDailyLimitKey = "ANON_DAILY_LIMIT"
	// AnomalyCostThresholdKey sets the single-call cost that raises an anomaly flag.
	AnomalyCostThresholdKey = "ANOMALY_COST_THRESHOLD"

	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "usagegate:rl"
	// DefaultAnonBurstLimit is the fallback anonymous burst cap.
	DefaultAnonBurstLimit = 8
	// DefaultAnonDailyLimit is the fallback anonymous daily unit cap.
	DefaultAnonDailyLimit = 5
	// DefaultAnomalyCostThreshold is the fallback anomaly cost threshold in units.
	DefaultAnomalyCostThreshold = 25
)
