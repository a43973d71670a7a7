package domain

import (
	"strconv"

	"github.com/louisbranch/wordwager/internal/platform/errors"
)

// WagerChoices is the fixed set of stakeable durations in seconds.
var WagerChoices = []int{30, 60, 120, 300}

// DefaultWagerSeconds is the wager preselected for new submissions.
const DefaultWagerSeconds = 60

// BaseStake is the fixed stake used by multiplier mode: a win pays
// 2*BaseStake and a loss costs BaseStake regardless of the chosen wager.
const BaseStake = 60

// ValidWager reports whether seconds is one of WagerChoices.
func ValidWager(seconds int) bool {
	for _, choice := range WagerChoices {
		if seconds == choice {
			return true
		}
	}
	return false
}

// ValidateWager checks a wager against the enumerated stake set.
func ValidateWager(seconds int) error {
	if !ValidWager(seconds) {
		return errors.WithMetadata(errors.CodeInvalidWager, "wager is not a valid stake", map[string]string{
			"wager_seconds": strconv.Itoa(seconds),
		})
	}
	return nil
}
