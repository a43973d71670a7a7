package domain

import "time"

// UserBalance is one user's score and lifetime stats. It changes only
// through settlement, one delta per claim.
type UserBalance struct {
	UserID       string
	Score        int64
	TotalGames   int64
	TotalWins    int64
	TotalLosses  int64
	HighestScore int64
	LastActiveAt time.Time
}

// DictionaryEntry counts how many times a word has ever been claimed.
// Increments are commutative; the count never decreases.
type DictionaryEntry struct {
	Word       string
	UsageCount int64
	LastUsedAt time.Time
}
