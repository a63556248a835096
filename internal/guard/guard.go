// Package guard orchestrates one usage decision per inbound request:
// identity resolution, burst check, quota reservation, and telemetry.
// Every failure resolves into a typed *Error; panics are converted at
// the boundary and nothing escapes.
package guard

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stagecraft-ai/usagegate/internal/costs"
	"github.com/stagecraft-ai/usagegate/internal/identity"
	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/quota"
	"github.com/stagecraft-ai/usagegate/internal/ratelimit"
	"github.com/stagecraft-ai/usagegate/internal/resetclock"
	internalsettings "github.com/stagecraft-ai/usagegate/internal/settings"
	"github.com/stagecraft-ai/usagegate/internal/telemetry"
	"github.com/stagecraft-ai/usagegate/internal/tier"
)

// anonymousMembership labels anonymous callers in responses and events.
const anonymousMembership = "anonymous"

// Request carries the per-call inputs of a usage decision.
type Request struct {
	Authorization string
	RemoteIP      string
	CostUnits     int
	Tool          string
}

// Decision is the success shape of a granted reservation or status read.
type Decision struct {
	RequestID  string
	Membership string

	Remaining int
	Limit     int
	ResetAt   time.Time

	BurstRemaining int
	BurstLimit     int

	Tool          string
	ToolRemaining int
	ToolResetAt   time.Time
}

// Guard wires the usage decision pipeline together. A nil quota engine
// means storage is not configured; authenticated traffic is then
// rejected while anonymous traffic still runs on the in-process limits.
type Guard struct {
	resolver *identity.Resolver
	limiter  *ratelimit.Manager
	quotas   *quota.Engine
	recorder *telemetry.Recorder
	costs    *costs.Table
	clock    *resetclock.Clock
}

// New constructs a Guard. recorder and costs may be nil, in which case
// telemetry is skipped and estimates are zero.
func New(resolver *identity.Resolver, limiter *ratelimit.Manager, quotas *quota.Engine, recorder *telemetry.Recorder, costTable *costs.Table, clock *resetclock.Clock) *Guard {
	if clock == nil {
		clock = resetclock.NewUTC()
	}
	return &Guard{
		resolver: resolver,
		limiter:  limiter,
		quotas:   quotas,
		recorder: recorder,
		costs:    costTable,
		clock:    clock,
	}
}

// Check runs the full decision pipeline and charges the caller's
// budgets on success.
func (g *Guard) Check(ctx context.Context, req Request) (decision Decision, gerr *Error) {
	requestID := telemetry.NewRequestID()
	var id identity.Identity

	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithField("panic", recovered).Error("usage guard panicked")
			gerr = serverError(false)
		}
		g.emit(requestID, id, req, decision, gerr)
	}()

	id = g.resolver.Resolve(req.Authorization, req.RemoteIP)

	if req.CostUnits <= 0 {
		return Decision{}, invalidRequest("cost units must be a positive integer")
	}
	if req.Tool != "" {
		if _, ok := tier.LookupTool(req.Tool); !ok {
			return Decision{}, invalidRequest("unknown tool")
		}
	}

	if id.Kind == identity.KindAnonymous {
		return g.checkAnonymous(ctx, requestID, id, req)
	}
	return g.checkUser(ctx, requestID, id, req)
}

// Status reports the caller's current budgets without charging.
// Anonymous callers are rejected; the status surface is for accounts.
func (g *Guard) Status(ctx context.Context, authorization, remoteIP, tool string) (decision Decision, gerr *Error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithField("panic", recovered).Error("usage status panicked")
			gerr = serverError(false)
		}
	}()

	id := g.resolver.Resolve(authorization, remoteIP)
	if id.Kind != identity.KindUser {
		return Decision{}, unauthorized()
	}
	if g.quotas == nil {
		return Decision{}, notConfigured()
	}
	if tool != "" {
		if _, ok := tier.LookupTool(tool); !ok {
			return Decision{}, invalidRequest("unknown tool")
		}
	}

	grant, err := g.quotas.Status(ctx, id.UserID, tool)
	if err != nil {
		log.WithError(err).Warn("usage status read failed")
		return Decision{}, serverError(true)
	}
	decision = g.decisionFromGrant(grant)
	decision.BurstLimit = tier.BurstPerMinute(grant.Membership)
	decision.BurstRemaining = decision.BurstLimit
	return decision, nil
}

func (g *Guard) checkUser(ctx context.Context, requestID string, id identity.Identity, req Request) (Decision, *Error) {
	if g.quotas == nil {
		return Decision{}, notConfigured()
	}

	membership, err := g.quotas.Membership(ctx, id.UserID)
	if err != nil {
		log.WithError(err).Warn("membership lookup failed, denying request")
		return Decision{}, serverError(true)
	}

	burstLimit := tier.BurstPerMinute(membership)
	burst, errBurst := g.limiter.Allow(ctx, ratelimit.BurstKeyForUser(id.UserID), burstLimit, ratelimit.WindowMinute)
	if errBurst != nil {
		log.WithError(errBurst).Warn("burst check failed, denying request")
		return Decision{}, serverError(true)
	}
	if !burst.Allowed {
		return Decision{}, rateLimited(burst.Reset)
	}

	grant, errReserve := g.quotas.Reserve(ctx, id.UserID, req.CostUnits, req.Tool)
	if errReserve != nil {
		return Decision{}, g.mapReserveError(errReserve)
	}

	decision := g.decisionFromGrant(grant)
	decision.RequestID = requestID
	decision.BurstLimit = burstLimit
	decision.BurstRemaining = burst.Remaining
	return decision, nil
}

// checkAnonymous enforces the small fixed allotment for unauthenticated
// callers. Both windows live in the limiter only; nothing is persisted,
// and each request counts as one unit against the daily allowance.
func (g *Guard) checkAnonymous(ctx context.Context, requestID string, id identity.Identity, req Request) (Decision, *Error) {
	if req.Tool != "" {
		// Every named tool is gated above anonymous access.
		return Decision{}, toolGated("this tool requires a paid membership", false, time.Time{})
	}

	burstLimit := internalsettings.IntValue(internalsettings.AnonBurstLimitKey, internalsettings.DefaultAnonBurstLimit)
	burst, errBurst := g.limiter.Allow(ctx, ratelimit.BurstKeyForAnon(id.Key), burstLimit, ratelimit.WindowMinute)
	if errBurst != nil {
		log.WithError(errBurst).Warn("anonymous burst check failed, denying request")
		return Decision{}, serverError(true)
	}
	if !burst.Allowed {
		return Decision{}, rateLimited(burst.Reset)
	}

	dailyLimit := internalsettings.IntValue(internalsettings.AnonDailyLimitKey, internalsettings.DefaultAnonDailyLimit)
	daily, errDaily := g.limiter.Allow(ctx, ratelimit.DailyKeyForAnon(id.Key), dailyLimit, ratelimit.WindowDay)
	if errDaily != nil {
		log.WithError(errDaily).Warn("anonymous daily check failed, denying request")
		return Decision{}, serverError(true)
	}
	if !daily.Allowed {
		return Decision{}, usageLimitReached(daily.Reset)
	}

	return Decision{
		RequestID:      requestID,
		Membership:     anonymousMembership,
		Remaining:      daily.Remaining,
		Limit:          dailyLimit,
		ResetAt:        daily.Reset,
		BurstRemaining: burst.Remaining,
		BurstLimit:     burstLimit,
	}, nil
}

func (g *Guard) mapReserveError(err error) *Error {
	var rejection *quota.Rejection
	if errors.As(err, &rejection) {
		switch rejection.Reason {
		case quota.ReasonToolTierGated:
			return toolGated("your membership tier does not include this tool", false, time.Time{})
		case quota.ReasonToolExhausted:
			return toolGated("monthly tool balance exhausted", true, rejection.ResetAt)
		default:
			return usageLimitReached(rejection.ResetAt)
		}
	}
	if errors.Is(err, quota.ErrUnknownTool) || errors.Is(err, quota.ErrInvalidCost) {
		return invalidRequest(err.Error())
	}
	log.WithError(err).Warn("quota reservation failed, denying request")
	return serverError(true)
}

func (g *Guard) decisionFromGrant(grant quota.Grant) Decision {
	return Decision{
		Membership:    string(grant.Membership),
		Remaining:     grant.Remaining,
		Limit:         grant.Limit,
		ResetAt:       grant.ResetAt,
		Tool:          grant.Tool,
		ToolRemaining: grant.ToolRemaining,
		ToolResetAt:   grant.ToolResetAt,
	}
}

// emit records the decision as a best-effort telemetry event.
func (g *Guard) emit(requestID string, id identity.Identity, req Request, decision Decision, gerr *Error) {
	if g.recorder == nil {
		return
	}
	event := telemetry.Event{
		RequestID:   requestID,
		Tool:        req.Tool,
		CostUnits:   req.CostUnits,
		CostMicros:  g.costs.EstimateMicros(req.Tool, req.CostUnits),
		RequestedAt: time.Now().UTC(),
	}
	if id.Kind == identity.KindUser {
		userID := id.UserID
		event.UserID = &userID
	} else {
		event.AnonKey = id.Key
	}
	switch {
	case gerr == nil:
		event.Outcome = models.OutcomeAllowed
		event.Membership = decision.Membership
	case gerr.Code == CodeRateLimited || gerr.Code == CodeUsageLimitReached:
		event.Outcome = models.OutcomeBlocked
		event.ErrorCode = gerr.Code
	default:
		event.Outcome = models.OutcomeError
		event.ErrorCode = gerr.Code
	}
	g.recorder.Record(event)
}
