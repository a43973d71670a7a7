package domain

// Outcome is the terminal result of a settled claim.
type Outcome string

const (
	// OutcomeWin indicates the claim survived its lease.
	OutcomeWin Outcome = "win"
	// OutcomeLoss indicates the word was already held by someone else.
	OutcomeLoss Outcome = "loss"
)

// SettlementDelta returns the signed score change for one settled claim.
//
// Normal mode stakes the wager itself: win +wagerSeconds, loss -wagerSeconds.
// Multiplier mode trades the variable stake for a fixed one: win pays
// 2*BaseStake, loss costs BaseStake (a capped downside).
func SettlementDelta(outcome Outcome, wagerSeconds int, useMultiplier bool) int64 {
	switch outcome {
	case OutcomeWin:
		if useMultiplier {
			return 2 * BaseStake
		}
		return int64(wagerSeconds)
	case OutcomeLoss:
		if useMultiplier {
			return -BaseStake
		}
		return -int64(wagerSeconds)
	}
	return 0
}

// StateForOutcome maps an outcome to its terminal claim state.
func StateForOutcome(outcome Outcome) ClaimState {
	if outcome == OutcomeWin {
		return ClaimWonSettled
	}
	return ClaimLostSettled
}
