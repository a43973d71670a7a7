// Package storage defines persistence contracts for the arbitration engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/wordwager/internal/services/arbiter/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrClaimExists indicates a claim with the same ID was already
	// installed; the caller is replaying a retried install.
	ErrClaimExists = errors.New("claim already installed")
	// ErrStateMismatch indicates a guarded transition observed a different
	// current state than expected.
	ErrStateMismatch = errors.New("claim state mismatch")
)

// ClaimConflictError reports that another active claim already holds the
// word. It carries the holder's identity so the caller can distinguish a
// rival claim from the same user resubmitting.
type ClaimConflictError struct {
	Word          string
	HolderID      string
	HolderClaimID string
}

// Error implements the error interface.
func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("word %q is already claimed by %s", e.Word, e.HolderID)
}

// SettlementInconsistencyError reports that a settlement replay disagrees
// with the recorded idempotency row. It indicates a logic defect and must
// never be blindly retried.
type SettlementInconsistencyError struct {
	ClaimID          string
	RecordedOutcome  domain.Outcome
	AttemptedOutcome domain.Outcome
	RecordedDelta    int64
	AttemptedDelta   int64
}

// Error implements the error interface.
func (e *SettlementInconsistencyError) Error() string {
	return fmt.Sprintf("settlement replay for claim %s disagrees with record: recorded (%s, %d), attempted (%s, %d)",
		e.ClaimID, e.RecordedOutcome, e.RecordedDelta, e.AttemptedOutcome, e.AttemptedDelta)
}

// Settlement is one idempotent score application for a claim.
type Settlement struct {
	ClaimID   string
	UserID    string
	Outcome   domain.Outcome
	Delta     int64
	AppliedAt time.Time
}

// ClaimStore persists claims and enforces the one-active-claim-per-word
// invariant with a single atomic conditional write.
type ClaimStore interface {
	// InstallClaim inserts one claim row. Installing a second active claim
	// for the same word fails with *ClaimConflictError in the same write;
	// there is no read-then-write window. A replayed install with a known
	// claim ID fails with ErrClaimExists.
	InstallClaim(ctx context.Context, claim domain.Claim) error
	// GetClaim returns one claim by ID.
	GetClaim(ctx context.Context, claimID string) (domain.Claim, error)
	// GetActiveClaimByWord returns the active claim holding a word.
	GetActiveClaimByWord(ctx context.Context, word string) (domain.Claim, error)
	// GetActiveClaimByOwner returns a user's active claim, if any.
	GetActiveClaimByOwner(ctx context.Context, ownerID string) (domain.Claim, error)
	// TransitionClaim moves one claim from an expected state to the next
	// state. A different current state fails with ErrStateMismatch; the
	// guard is what makes racing resolvers mutually exclusive.
	TransitionClaim(ctx context.Context, claimID string, from, to domain.ClaimState, resolvedAt time.Time) error
	// ListActiveClaims returns all active claims, oldest first. Used to
	// re-arm lease timers after a restart.
	ListActiveClaims(ctx context.Context) ([]domain.Claim, error)
	// ListReleasingClaims returns claims stuck in the releasing state since
	// before the cutoff, for the recovery sweep.
	ListReleasingClaims(ctx context.Context, cutoff time.Time) ([]domain.Claim, error)
	// ListRecentClaims returns the latest claims created after the cutoff,
	// newest first, for the activity feed.
	ListRecentClaims(ctx context.Context, limit int, cutoff time.Time) ([]domain.Claim, error)
}

// LedgerStore applies settlements to user balances exactly once per claim.
type LedgerStore interface {
	// ApplySettlement records the settlement and applies its delta in one
	// transaction, keyed by claim ID. A replay with matching outcome and
	// delta is a no-op returning applied=false; a replay that disagrees
	// with the record fails with *SettlementInconsistencyError.
	ApplySettlement(ctx context.Context, settlement Settlement) (balance domain.UserBalance, applied bool, err error)
	// GetBalance returns one user's balance and stats.
	GetBalance(ctx context.Context, userID string) (domain.UserBalance, error)
	// ListTopBalances returns up to limit balances ordered by score.
	ListTopBalances(ctx context.Context, limit int) ([]domain.UserBalance, error)
	// TouchLastActive records a presence heartbeat for a user.
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
	// CountActiveUsers counts users whose last heartbeat is after the cutoff.
	CountActiveUsers(ctx context.Context, cutoff time.Time) (int, error)
}

// DictionaryStore tracks per-word usage counters.
type DictionaryStore interface {
	// IncrementUsage atomically adds one to a word's usage count, creating
	// the entry when missing. Concurrent increments are both preserved.
	IncrementUsage(ctx context.Context, word string, at time.Time) (domain.DictionaryEntry, error)
	// GetDictionaryEntry returns one dictionary entry by word.
	GetDictionaryEntry(ctx context.Context, word string) (domain.DictionaryEntry, error)
}

// Store is the full persistence surface the engine depends on.
type Store interface {
	ClaimStore
	LedgerStore
	DictionaryStore
}
