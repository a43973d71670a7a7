// Package domain holds the claim arbitration entities and rules.
package domain

import "time"

// ClaimState identifies one stage of the claim lifecycle.
type ClaimState string

const (
	// ClaimActive is a live claim whose lease is counting down.
	ClaimActive ClaimState = "active"
	// ClaimReleasing is the transient guard taken while a claim is being
	// resolved; it prevents double settlement when expiry and conflict
	// resolution race.
	ClaimReleasing ClaimState = "releasing"
	// ClaimWonSettled is a claim that survived its lease and was paid out.
	ClaimWonSettled ClaimState = "won_settled"
	// ClaimLostSettled is a claim that lost to an earlier claimant and was
	// charged.
	ClaimLostSettled ClaimState = "lost_settled"
	// ClaimReleased is a claim the owner cancelled; no score change.
	ClaimReleased ClaimState = "released"
)

// Terminal reports whether the state admits no further transitions.
func (s ClaimState) Terminal() bool {
	switch s {
	case ClaimWonSettled, ClaimLostSettled, ClaimReleased:
		return true
	}
	return false
}

// Claim is one user's in-flight stake on a word.
type Claim struct {
	ID            string
	Word          string
	OwnerID       string
	WagerSeconds  int
	UseMultiplier bool
	// CreatedAt is assigned by the registry at install time, never by the
	// client, so remaining time cannot be skewed by client clocks.
	CreatedAt  time.Time
	State      ClaimState
	ResolvedAt time.Time
}

// ExpiresAt returns the instant the claim's lease elapses.
func (c Claim) ExpiresAt() time.Time {
	return c.CreatedAt.Add(time.Duration(c.WagerSeconds) * time.Second)
}

// Remaining returns the lease time left at now. The value is derived from
// the durable CreatedAt and WagerSeconds, so any observer recomputes the
// same countdown after a disconnect. Never negative.
func (c Claim) Remaining(now time.Time) time.Duration {
	remaining := c.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSeconds returns Remaining rounded down to whole seconds.
func (c Claim) RemainingSeconds(now time.Time) int {
	return int(c.Remaining(now) / time.Second)
}

// Elapsed reports whether the claim's lease has fully run out at now.
func (c Claim) Elapsed(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}
