// Package engine implements claim arbitration and wager settlement.
//
// The engine owns the claim lifecycle: it installs claims through the
// store's atomic conditional write, arms lease timers, resolves expiry,
// conflict, and manual release through the guarded releasing state, and
// applies every settlement exactly once.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/wordwager/internal/platform/errors"
	"github.com/louisbranch/wordwager/internal/platform/id"
	"github.com/louisbranch/wordwager/internal/platform/timeouts"
	"github.com/louisbranch/wordwager/internal/services/arbiter/domain"
	"github.com/louisbranch/wordwager/internal/services/arbiter/events"
	"github.com/louisbranch/wordwager/internal/services/arbiter/storage"
)

// Options tunes an Engine. Zero values select production defaults.
type Options struct {
	// Now overrides the clock, for tests.
	Now func() time.Time
	// NewID overrides claim ID generation, for tests.
	NewID func() (string, error)
	// Logf overrides the engine's log sink.
	Logf func(format string, args ...any)
}

// Engine arbitrates claims and settles wagers against a Store.
type Engine struct {
	store  storage.Store
	bus    *events.Bus
	leases *LeaseClock
	now    func() time.Time
	newID  func() (string, error)
	logf   func(format string, args ...any)
}

// New returns an Engine backed by store, publishing to bus.
func New(store storage.Store, bus *events.Bus, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = id.NewID
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Engine{
		store:  store,
		bus:    bus,
		leases: NewLeaseClock(),
		now:    now,
		newID:  newID,
		logf:   logf,
	}, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *events.Bus {
	if e == nil {
		return nil
	}
	return e.bus
}

// Close disarms all lease timers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.leases.Stop()
}

// Submission is one wager request.
type Submission struct {
	// ClaimID is optional. Clients that supply their own ID can safely
	// retry a submission: a replay returns the already-installed claim.
	ClaimID       string
	OwnerID       string
	Word          string
	WagerSeconds  int
	UseMultiplier bool
}

// SubmitResult is the outcome of one submission.
type SubmitResult struct {
	Claim domain.Claim
	// Resubmitted is true when the owner already held the word (or
	// replayed a claim ID); Claim is the existing claim and no new wager
	// was staked.
	Resubmitted bool
	// Lost is true when the word was held by a rival; the wager settled
	// immediately as a loss and Balance carries the updated score.
	Lost     bool
	HolderID string
	Balance  domain.UserBalance
}

// Submit stakes a wager on a word.
//
// Arbitration happens inside the store's single conditional write, so two
// concurrent submissions for the same word cannot both install: the loser
// observes the conflict and settles as an immediate loss. The same owner
// resubmitting their held word gets their existing claim back unchanged.
func (e *Engine) Submit(ctx context.Context, submission Submission) (SubmitResult, error) {
	if e == nil {
		return SubmitResult{}, fmt.Errorf("engine is not configured")
	}
	ownerID := strings.TrimSpace(submission.OwnerID)
	if ownerID == "" {
		return SubmitResult{}, errors.New(errors.CodeOwnerMissing, "owner id is required")
	}
	wager := submission.WagerSeconds
	if wager == 0 {
		wager = domain.DefaultWagerSeconds
	}
	if err := domain.ValidateWager(wager); err != nil {
		return SubmitResult{}, err
	}
	word := domain.NormalizeWord(submission.Word)
	if err := domain.ValidateWord(word); err != nil {
		return SubmitResult{}, err
	}

	now := e.now()
	claimID := strings.TrimSpace(submission.ClaimID)
	if claimID == "" {
		generated, idErr := e.newID()
		if idErr != nil {
			return SubmitResult{}, errors.Wrap(errors.CodeUnknown, "generate claim id", idErr)
		}
		claimID = generated
	}
	claim := domain.Claim{
		ID:            claimID,
		Word:          word,
		OwnerID:       ownerID,
		WagerSeconds:  wager,
		UseMultiplier: submission.UseMultiplier,
		CreatedAt:     now,
		State:         domain.ClaimActive,
	}

	err := e.store.InstallClaim(ctx, claim)
	if err == nil {
		e.touchLastActive(ctx, ownerID, now)
		e.recordUsage(ctx, word, now)
		e.leases.Schedule(claim.ID, claim.Remaining(now), e.onLeaseExpired)
		e.publishClaim(claim, now)
		return SubmitResult{Claim: claim}, nil
	}

	if stderrors.Is(err, storage.ErrClaimExists) {
		existing, getErr := e.store.GetClaim(ctx, claim.ID)
		if getErr != nil {
			return SubmitResult{}, errors.Wrap(errors.CodeStoreUnavailable, "load replayed claim", getErr)
		}
		if existing.OwnerID != ownerID {
			return SubmitResult{}, errors.WithMetadata(errors.CodeClaimConflict, "claim id already used by another user", map[string]string{
				"claim_id": existing.ID,
				"holder":   existing.OwnerID,
			})
		}
		return SubmitResult{Claim: existing, Resubmitted: true}, nil
	}

	var conflict *storage.ClaimConflictError
	if !stderrors.As(err, &conflict) {
		return SubmitResult{}, errors.Wrap(errors.CodeStoreUnavailable, "install claim", err)
	}

	e.touchLastActive(ctx, ownerID, now)

	if conflict.HolderID == ownerID {
		existing, getErr := e.store.GetClaim(ctx, conflict.HolderClaimID)
		if getErr != nil {
			return SubmitResult{}, errors.Wrap(errors.CodeStoreUnavailable, "load held claim", getErr)
		}
		return SubmitResult{Claim: existing, Resubmitted: true}, nil
	}

	// The word is held by someone else: the submitter's wager is lost the
	// moment it is placed. The losing claim is parked in the releasing
	// guard before settlement, so a settlement failure leaves it where the
	// recovery sweep re-resolves it instead of stranding a terminal claim
	// that was never charged. No dictionary increment: only a successful
	// install counts as usage.
	claim.State = domain.ClaimReleasing
	claim.ResolvedAt = now
	if installErr := e.store.InstallClaim(ctx, claim); installErr != nil && !stderrors.Is(installErr, storage.ErrClaimExists) {
		return SubmitResult{}, errors.Wrap(errors.CodeStoreUnavailable, "record lost claim", installErr)
	}
	lost, balance, settleErr := e.finishResolution(ctx, claim, domain.OutcomeLoss)
	if settleErr != nil {
		return SubmitResult{}, settleErr
	}
	return SubmitResult{
		Claim:    lost,
		Lost:     true,
		HolderID: conflict.HolderID,
		Balance:  balance,
	}, nil
}

// Expired resolves a claim whose lease has elapsed: the owner wins.
//
// The releasing guard makes racing resolvers mutually exclusive, and the
// settlement record makes the payout idempotent, so calling Expired any
// number of times settles the claim at most once.
func (e *Engine) Expired(ctx context.Context, claimID string) error {
	if e == nil {
		return fmt.Errorf("engine is not configured")
	}
	claim, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return errors.Wrap(errors.CodeStoreUnavailable, "load expiring claim", err)
	}
	if claim.State != domain.ClaimActive {
		return nil
	}
	now := e.now()
	if !claim.Elapsed(now) {
		// Timer fired early; re-arm for the durable remainder.
		e.leases.Schedule(claim.ID, claim.Remaining(now), e.onLeaseExpired)
		return nil
	}

	if err := e.store.TransitionClaim(ctx, claim.ID, domain.ClaimActive, domain.ClaimReleasing, now); err != nil {
		if stderrors.Is(err, storage.ErrStateMismatch) || stderrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return errors.Wrap(errors.CodeStoreUnavailable, "guard expiring claim", err)
	}
	e.leases.Cancel(claim.ID)

	_, _, err = e.finishResolution(ctx, claim, domain.OutcomeWin)
	return err
}

// Supersede force-resolves an active claim as a loss. It uses the same
// releasing guard as expiry, so superseding cannot double-settle against a
// concurrent resolver.
func (e *Engine) Supersede(ctx context.Context, claimID string) error {
	if e == nil {
		return fmt.Errorf("engine is not configured")
	}
	claim, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeNotFound, "claim not found")
		}
		return errors.Wrap(errors.CodeStoreUnavailable, "load claim", err)
	}
	if claim.State != domain.ClaimActive {
		return errors.New(errors.CodeStateMismatch, "claim is no longer active")
	}
	now := e.now()
	if err := e.store.TransitionClaim(ctx, claim.ID, domain.ClaimActive, domain.ClaimReleasing, now); err != nil {
		if stderrors.Is(err, storage.ErrStateMismatch) {
			return errors.New(errors.CodeStateMismatch, "claim is no longer active")
		}
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeNotFound, "claim not found")
		}
		return errors.Wrap(errors.CodeStoreUnavailable, "guard claim", err)
	}
	e.leases.Cancel(claim.ID)

	_, _, err = e.finishResolution(ctx, claim, domain.OutcomeLoss)
	return err
}

// ManualRelease cancels the owner's active claim with no score change.
//
// Release races cooperatively with expiry: whichever transition lands
// first wins, and the loser observes a state mismatch instead of applying
// a second resolution.
func (e *Engine) ManualRelease(ctx context.Context, ownerID, claimID string) (domain.Claim, error) {
	if e == nil {
		return domain.Claim{}, fmt.Errorf("engine is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Claim{}, errors.New(errors.CodeOwnerMissing, "owner id is required")
	}
	claim, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Claim{}, errors.New(errors.CodeNotFound, "claim not found")
		}
		return domain.Claim{}, errors.Wrap(errors.CodeStoreUnavailable, "load claim", err)
	}
	if claim.OwnerID != ownerID {
		return domain.Claim{}, errors.New(errors.CodeNotClaimOwner, "claim belongs to another user")
	}
	if claim.State != domain.ClaimActive {
		return domain.Claim{}, errors.New(errors.CodeStateMismatch, "claim is no longer active")
	}

	now := e.now()
	if err := e.store.TransitionClaim(ctx, claim.ID, domain.ClaimActive, domain.ClaimReleased, now); err != nil {
		if stderrors.Is(err, storage.ErrStateMismatch) {
			return domain.Claim{}, errors.New(errors.CodeStateMismatch, "claim is no longer active")
		}
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Claim{}, errors.New(errors.CodeNotFound, "claim not found")
		}
		return domain.Claim{}, errors.Wrap(errors.CodeStoreUnavailable, "release claim", err)
	}
	e.leases.Cancel(claim.ID)
	e.touchLastActive(ctx, ownerID, now)

	claim.State = domain.ClaimReleased
	claim.ResolvedAt = now
	e.publishClaim(claim, now)
	return claim, nil
}

// GetClaim returns one claim by ID.
func (e *Engine) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	if e == nil {
		return domain.Claim{}, fmt.Errorf("engine is not configured")
	}
	claim, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Claim{}, errors.New(errors.CodeNotFound, "claim not found")
		}
		return domain.Claim{}, errors.Wrap(errors.CodeStoreUnavailable, "load claim", err)
	}
	return claim, nil
}

// ActiveClaimForWord returns the active claim holding a word, if any.
func (e *Engine) ActiveClaimForWord(ctx context.Context, rawWord string) (domain.Claim, error) {
	if e == nil {
		return domain.Claim{}, fmt.Errorf("engine is not configured")
	}
	word := domain.NormalizeWord(rawWord)
	if err := domain.ValidateWord(word); err != nil {
		return domain.Claim{}, err
	}
	claim, err := e.store.GetActiveClaimByWord(ctx, word)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Claim{}, errors.New(errors.CodeNotFound, "no active claim for word")
		}
		return domain.Claim{}, errors.Wrap(errors.CodeStoreUnavailable, "load active claim", err)
	}
	return claim, nil
}

// ActiveClaimForOwner returns a user's active claim, if any.
func (e *Engine) ActiveClaimForOwner(ctx context.Context, ownerID string) (domain.Claim, error) {
	if e == nil {
		return domain.Claim{}, fmt.Errorf("engine is not configured")
	}
	claim, err := e.store.GetActiveClaimByOwner(ctx, ownerID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Claim{}, errors.New(errors.CodeNotFound, "no active claim for user")
		}
		return domain.Claim{}, errors.Wrap(errors.CodeStoreUnavailable, "load active claim", err)
	}
	return claim, nil
}

// ResumeLeases re-arms lease timers for all active claims after a restart.
// Claims whose lease elapsed while the process was down resolve
// immediately. It returns how many timers were armed.
func (e *Engine) ResumeLeases(ctx context.Context) (int, error) {
	if e == nil {
		return 0, fmt.Errorf("engine is not configured")
	}
	active, err := e.store.ListActiveClaims(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.CodeStoreUnavailable, "list active claims", err)
	}
	now := e.now()
	armed := 0
	for _, claim := range active {
		if claim.Elapsed(now) {
			if err := e.Expired(ctx, claim.ID); err != nil {
				e.logf("resume: resolve elapsed claim %s: %v", claim.ID, err)
			}
			continue
		}
		e.leases.Schedule(claim.ID, claim.Remaining(now), e.onLeaseExpired)
		armed++
	}
	return armed, nil
}

// Sweep is the recovery pass. It resolves active claims whose lease
// elapsed without a timer firing, re-arms missing timers, and finishes
// claims stuck in the releasing state past the grace window.
//
// A stuck releasing claim whose lease elapsed was on the win path, so it
// finishes as a win; one still inside its lease can only have entered
// releasing through a loss resolution, so it finishes as a loss.
func (e *Engine) Sweep(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("engine is not configured")
	}
	now := e.now()

	active, err := e.store.ListActiveClaims(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeStoreUnavailable, "list active claims", err)
	}
	for _, claim := range active {
		if claim.Elapsed(now) {
			if err := e.Expired(ctx, claim.ID); err != nil {
				e.logf("sweep: resolve elapsed claim %s: %v", claim.ID, err)
			}
			continue
		}
		if !e.leases.Armed(claim.ID) {
			e.leases.Schedule(claim.ID, claim.Remaining(now), e.onLeaseExpired)
		}
	}

	stuck, err := e.store.ListReleasingClaims(ctx, now.Add(-timeouts.ReleasingGrace))
	if err != nil {
		return errors.Wrap(errors.CodeStoreUnavailable, "list releasing claims", err)
	}
	for _, claim := range stuck {
		outcome := domain.OutcomeLoss
		if claim.Elapsed(now) {
			outcome = domain.OutcomeWin
		}
		if _, _, err := e.finishResolution(ctx, claim, outcome); err != nil {
			e.logf("sweep: finish releasing claim %s: %v", claim.ID, err)
		}
	}
	return nil
}

// finishResolution settles a claim already holding the releasing guard and
// moves it to its terminal state. It returns the terminal claim and the
// settled balance.
func (e *Engine) finishResolution(ctx context.Context, claim domain.Claim, outcome domain.Outcome) (domain.Claim, domain.UserBalance, error) {
	balance, err := e.settle(ctx, claim, outcome)
	if err != nil {
		// The claim stays in releasing; the sweep re-resolves it once the
		// store recovers.
		return domain.Claim{}, domain.UserBalance{}, err
	}

	now := e.now()
	terminal := domain.StateForOutcome(outcome)
	if err := e.store.TransitionClaim(ctx, claim.ID, domain.ClaimReleasing, terminal, now); err != nil {
		if !stderrors.Is(err, storage.ErrStateMismatch) && !stderrors.Is(err, storage.ErrNotFound) {
			return domain.Claim{}, domain.UserBalance{}, errors.Wrap(errors.CodeStoreUnavailable, "finalize claim", err)
		}
	}

	claim.State = terminal
	claim.ResolvedAt = now
	e.publishClaim(claim, now)
	e.publishSettlement(claim, outcome, balance, now)
	return claim, balance, nil
}

// settle applies a claim's settlement exactly once, retrying transient
// store failures with exponential backoff. An inconsistent replay is
// permanent and surfaces immediately.
func (e *Engine) settle(ctx context.Context, claim domain.Claim, outcome domain.Outcome) (domain.UserBalance, error) {
	settlement := storage.Settlement{
		ClaimID:   claim.ID,
		UserID:    claim.OwnerID,
		Outcome:   outcome,
		Delta:     domain.SettlementDelta(outcome, claim.WagerSeconds, claim.UseMultiplier),
		AppliedAt: e.now(),
	}

	operation := func() (domain.UserBalance, error) {
		balance, _, err := e.store.ApplySettlement(ctx, settlement)
		if err != nil {
			var inconsistency *storage.SettlementInconsistencyError
			if stderrors.As(err, &inconsistency) {
				return domain.UserBalance{}, backoff.Permanent(err)
			}
			return domain.UserBalance{}, err
		}
		return balance, nil
	}

	balance, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeouts.SettlementRetryMax),
	)
	if err != nil {
		var inconsistency *storage.SettlementInconsistencyError
		if stderrors.As(err, &inconsistency) {
			return domain.UserBalance{}, errors.Wrap(errors.CodeSettlementInconsistency, "settlement replay disagrees with record", err)
		}
		return domain.UserBalance{}, errors.Wrap(errors.CodeStoreUnavailable, "apply settlement", err)
	}
	return balance, nil
}

func (e *Engine) onLeaseExpired(claimID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.SettlementRetryMax+timeouts.LeaseSweep)
	defer cancel()
	if err := e.Expired(ctx, claimID); err != nil {
		e.logf("lease expiry for claim %s: %v", claimID, err)
	}
}

func (e *Engine) touchLastActive(ctx context.Context, userID string, now time.Time) {
	if err := e.store.TouchLastActive(ctx, userID, now); err != nil {
		e.logf("touch last active for %s: %v", userID, err)
	}
}

func (e *Engine) recordUsage(ctx context.Context, word string, now time.Time) {
	entry, err := e.store.IncrementUsage(ctx, word, now)
	if err != nil {
		e.logf("increment usage for %q: %v", word, err)
		return
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Kind:       events.KindDictionaryUsage,
			OccurredAt: now,
			Dictionary: &events.DictionaryUsage{Word: entry.Word, UsageCount: entry.UsageCount},
		})
	}
}

func (e *Engine) publishClaim(claim domain.Claim, now time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:       events.KindClaimStateChanged,
		OccurredAt: now,
		Claim: &events.ClaimStateChanged{
			ClaimID:          claim.ID,
			Word:             claim.Word,
			OwnerID:          claim.OwnerID,
			State:            claim.State,
			RemainingSeconds: int64(claim.RemainingSeconds(now)),
		},
	})
}

func (e *Engine) publishSettlement(claim domain.Claim, outcome domain.Outcome, balance domain.UserBalance, now time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:       events.KindSettlementApplied,
		OccurredAt: now,
		Settlement: &events.SettlementApplied{
			ClaimID:  claim.ID,
			UserID:   claim.OwnerID,
			Outcome:  outcome,
			Delta:    domain.SettlementDelta(outcome, claim.WagerSeconds, claim.UseMultiplier),
			NewScore: balance.Score,
		},
	})
}
