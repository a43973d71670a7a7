package server

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	submitRatePerSecond = 1
	submitBurst         = 3
	gateIdleTTL         = 10 * time.Minute
)

// submitGate throttles submissions per user. Limiters for idle users age
// out of the cache so the gate's footprint tracks the active population.
type submitGate struct {
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
}

func newSubmitGate() *submitGate {
	return &submitGate{
		limiters: gocache.New(gateIdleTTL, 2*gateIdleTTL),
		limit:    rate.Limit(submitRatePerSecond),
		burst:    submitBurst,
	}
}

func (g *submitGate) allow(userID string) bool {
	if g == nil {
		return true
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}

	if cached, ok := g.limiters.Get(userID); ok {
		if limiter, ok := cached.(*rate.Limiter); ok {
			g.limiters.SetDefault(userID, limiter)
			return limiter.Allow()
		}
	}
	limiter := rate.NewLimiter(g.limit, g.burst)
	g.limiters.SetDefault(userID, limiter)
	return limiter.Allow()
}
