package tier

import "strings"

// Tier is a canonical membership level.
type Tier string

// Canonical tiers, lowest to highest plan level.
const (
	// TierExpired marks lapsed memberships with no remaining allowance.
	TierExpired Tier = "expired"
	// TierTrial is the entry tier assigned to new and unrecognized memberships.
	TierTrial Tier = "trial"
	// TierPerformer is the first paid tier.
	TierPerformer Tier = "performer"
	// TierProfessional is the full paid tier.
	TierProfessional Tier = "professional"
	// TierAdmin is the unlimited internal tier.
	TierAdmin Tier = "admin"
)

// legacyAliases maps membership strings stored by older releases onto
// canonical tiers.
var legacyAliases = map[string]Tier{
	"free":     TierTrial,
	"amateur":  TierPerformer,
	"semi-pro": TierPerformer,
	"semipro":  TierPerformer,
}

// Normalize maps a raw membership string to a canonical tier.
// It is total: unrecognized values resolve to TierTrial.
func Normalize(raw string) Tier {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch Tier(normalized) {
	case TierExpired, TierTrial, TierPerformer, TierProfessional, TierAdmin:
		return Tier(normalized)
	}
	if canonical, ok := legacyAliases[normalized]; ok {
		return canonical
	}
	return TierTrial
}

// Known reports whether a raw membership string maps to a tier without
// falling back to the trial default.
func Known(raw string) bool {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch Tier(normalized) {
	case TierExpired, TierTrial, TierPerformer, TierProfessional, TierAdmin:
		return true
	}
	_, ok := legacyAliases[normalized]
	return ok
}

// Rank orders tiers by plan level for gate comparisons.
func Rank(t Tier) int {
	switch t {
	case TierAdmin:
		return 4
	case TierProfessional:
		return 3
	case TierPerformer:
		return 2
	case TierTrial:
		return 1
	default:
		return 0
	}
}

// dailyUnitLimits defines the per-day generation unit budget per tier.
var dailyUnitLimits = map[Tier]int{
	TierExpired:      0,
	TierTrial:        20,
	TierPerformer:    200,
	TierProfessional: 1000,
	TierAdmin:        10000,
}

// burstPerMinute defines the per-minute request cap per tier.
var burstPerMinute = map[Tier]int{
	TierExpired:      0,
	TierTrial:        10,
	TierPerformer:    20,
	TierProfessional: 40,
	TierAdmin:        60,
}

// Anonymous caller allotments. Tracked in process memory only.
const (
	// AnonymousBurstPerMinute caps anonymous requests per minute.
	AnonymousBurstPerMinute = 8
	// AnonymousDailyUnits caps anonymous units per day.
	AnonymousDailyUnits = 5
)

// DailyUnitLimit returns the daily unit budget for a tier.
func DailyUnitLimit(t Tier) int {
	return dailyUnitLimits[Normalize(string(t))]
}

// BurstPerMinute returns the per-minute request cap for a tier.
func BurstPerMinute(t Tier) int {
	return burstPerMinute[Normalize(string(t))]
}

// ToolPolicy gates a named tool behind a minimum tier and a monthly balance.
type ToolPolicy struct {
	Name            string
	MinTier         Tier
	MonthlyDefaults map[Tier]int
}

// Named tools with tier gates and monthly quotas.
const (
	// ToolLiveAudio is the rehearsal live-audio coach, metered in minutes.
	ToolLiveAudio = "live-audio"
	// ToolImageGen is the poster image generator, metered in credits.
	ToolImageGen = "image-gen"
)

var toolPolicies = map[string]ToolPolicy{
	ToolLiveAudio: {
		Name:    ToolLiveAudio,
		MinTier: TierProfessional,
		MonthlyDefaults: map[Tier]int{
			TierProfessional: 300,
			TierAdmin:        3000,
		},
	},
	ToolImageGen: {
		Name:    ToolImageGen,
		MinTier: TierPerformer,
		MonthlyDefaults: map[Tier]int{
			TierPerformer:    50,
			TierProfessional: 200,
			TierAdmin:        1000,
		},
	},
}

// LookupTool returns the policy for a named tool.
func LookupTool(name string) (ToolPolicy, bool) {
	policy, ok := toolPolicies[strings.ToLower(strings.TrimSpace(name))]
	return policy, ok
}

// MonthlyDefault returns the monthly balance a tier starts each window with.
func (p ToolPolicy) MonthlyDefault(t Tier) int {
	return p.MonthlyDefaults[Normalize(string(t))]
}

// Allows reports whether a tier clears the tool's minimum tier gate.
func (p ToolPolicy) Allows(t Tier) bool {
	return Rank(Normalize(string(t))) >= Rank(p.MinTier)
}
