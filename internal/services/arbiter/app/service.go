package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/louisbranch/wordwager/internal/platform/errors"
	"github.com/louisbranch/wordwager/internal/services/arbiter/domain"
	"github.com/louisbranch/wordwager/internal/services/arbiter/engine"
	"github.com/louisbranch/wordwager/internal/services/arbiter/events"
	"github.com/louisbranch/wordwager/internal/services/arbiter/storage"
	gocache "github.com/patrickmn/go-cache"
)

const (
	readCacheTTL      = 5 * time.Second
	feedLimit         = 20
	feedWindow        = time.Hour
	leaderboardLimit  = 10
	presenceWindow    = 5 * time.Minute
	cacheKeyFeed      = "feed"
	cacheKeyBoard     = "leaderboard"
	cacheKeyActives   = "active_users"
)

// Service is the application surface over the arbitration engine. It adds
// per-user submission throttling and short-lived read caching for the
// fan-out queries (feed, leaderboard, presence).
type Service struct {
	engine *engine.Engine
	store  storage.Store
	gate   *submitGate
	reads  *gocache.Cache
	now    func() time.Time
}

// NewService wires a Service over an engine and its store.
func NewService(eng *engine.Engine, store storage.Store) (*Service, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Service{
		engine: eng,
		store:  store,
		gate:   newSubmitGate(),
		reads:  gocache.New(readCacheTTL, time.Minute),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit stakes a wager on a word, subject to the per-user rate gate.
func (s *Service) Submit(ctx context.Context, submission engine.Submission) (engine.SubmitResult, error) {
	if s == nil {
		return engine.SubmitResult{}, fmt.Errorf("service is not configured")
	}
	if !s.gate.allow(submission.OwnerID) {
		return engine.SubmitResult{}, errors.New(errors.CodeRateLimited, "too many submissions")
	}
	result, err := s.engine.Submit(ctx, submission)
	if err != nil {
		return engine.SubmitResult{}, err
	}
	s.reads.Delete(cacheKeyFeed)
	return result, nil
}

// Release cancels the owner's active claim.
func (s *Service) Release(ctx context.Context, ownerID, claimID string) (domain.Claim, error) {
	if s == nil {
		return domain.Claim{}, fmt.Errorf("service is not configured")
	}
	claim, err := s.engine.ManualRelease(ctx, ownerID, claimID)
	if err != nil {
		return domain.Claim{}, err
	}
	s.reads.Delete(cacheKeyFeed)
	return claim, nil
}

// ClaimStatus describes one claim with its live countdown.
type ClaimStatus struct {
	Claim            domain.Claim
	RemainingSeconds int
}

// GetClaim returns a claim and its recomputed countdown. Any observer gets
// the same remaining time because it is derived from the stored row, not
// from in-memory timers.
func (s *Service) GetClaim(ctx context.Context, claimID string) (ClaimStatus, error) {
	if s == nil {
		return ClaimStatus{}, fmt.Errorf("service is not configured")
	}
	claim, err := s.engine.GetClaim(ctx, claimID)
	if err != nil {
		return ClaimStatus{}, err
	}
	return ClaimStatus{Claim: claim, RemainingSeconds: claim.RemainingSeconds(s.now())}, nil
}

// WordStatus describes a word's claim and dictionary standing.
type WordStatus struct {
	Word             string
	Claimed          bool
	HolderID         string
	RemainingSeconds int
	UsageCount       int64
}

// GetWordStatus reports whether a word is held and how often it has been
// claimed.
func (s *Service) GetWordStatus(ctx context.Context, rawWord string) (WordStatus, error) {
	if s == nil {
		return WordStatus{}, fmt.Errorf("service is not configured")
	}
	word := domain.NormalizeWord(rawWord)
	if err := domain.ValidateWord(word); err != nil {
		return WordStatus{}, err
	}

	status := WordStatus{Word: word}
	claim, err := s.engine.ActiveClaimForWord(ctx, word)
	if err == nil {
		status.Claimed = true
		status.HolderID = claim.OwnerID
		status.RemainingSeconds = claim.RemainingSeconds(s.now())
	} else if !stderrors.Is(err, errors.New(errors.CodeNotFound, "")) {
		return WordStatus{}, err
	}

	entry, err := s.store.GetDictionaryEntry(ctx, word)
	if err == nil {
		status.UsageCount = entry.UsageCount
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return WordStatus{}, errors.Wrap(errors.CodeStoreUnavailable, "load dictionary entry", err)
	}
	return status, nil
}

// GetBalance returns a user's balance, zero-valued when the user has never
// settled a wager.
func (s *Service) GetBalance(ctx context.Context, userID string) (domain.UserBalance, error) {
	if s == nil {
		return domain.UserBalance{}, fmt.Errorf("service is not configured")
	}
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.UserBalance{UserID: userID}, nil
		}
		return domain.UserBalance{}, errors.Wrap(errors.CodeStoreUnavailable, "load balance", err)
	}
	return balance, nil
}

// FeedEntry is one recent claim in the activity feed.
type FeedEntry struct {
	ClaimID          string
	Word             string
	OwnerID          string
	State            domain.ClaimState
	RemainingSeconds int
}

// Feed returns the latest claims, newest first, served from a short-lived
// cache.
func (s *Service) Feed(ctx context.Context) ([]FeedEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("service is not configured")
	}
	if cached, ok := s.reads.Get(cacheKeyFeed); ok {
		if entries, ok := cached.([]FeedEntry); ok {
			return entries, nil
		}
	}

	now := s.now()
	claims, err := s.store.ListRecentClaims(ctx, feedLimit, now.Add(-feedWindow))
	if err != nil {
		return nil, errors.Wrap(errors.CodeStoreUnavailable, "load recent claims", err)
	}
	entries := make([]FeedEntry, 0, len(claims))
	for _, claim := range claims {
		entry := FeedEntry{
			ClaimID: claim.ID,
			Word:    claim.Word,
			OwnerID: claim.OwnerID,
			State:   claim.State,
		}
		if claim.State == domain.ClaimActive {
			entry.RemainingSeconds = claim.RemainingSeconds(now)
		}
		entries = append(entries, entry)
	}
	s.reads.SetDefault(cacheKeyFeed, entries)
	return entries, nil
}

// Leaderboard returns the top balances by score, served from a short-lived
// cache.
func (s *Service) Leaderboard(ctx context.Context) ([]domain.UserBalance, error) {
	if s == nil {
		return nil, fmt.Errorf("service is not configured")
	}
	if cached, ok := s.reads.Get(cacheKeyBoard); ok {
		if balances, ok := cached.([]domain.UserBalance); ok {
			return balances, nil
		}
	}

	balances, err := s.store.ListTopBalances(ctx, leaderboardLimit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStoreUnavailable, "load leaderboard", err)
	}
	s.reads.SetDefault(cacheKeyBoard, balances)
	return balances, nil
}

// ActiveUsers counts users seen within the presence window, served from a
// short-lived cache.
func (s *Service) ActiveUsers(ctx context.Context) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("service is not configured")
	}
	if cached, ok := s.reads.Get(cacheKeyActives); ok {
		if count, ok := cached.(int); ok {
			return count, nil
		}
	}

	count, err := s.store.CountActiveUsers(ctx, s.now().Add(-presenceWindow))
	if err != nil {
		return 0, errors.Wrap(errors.CodeStoreUnavailable, "count active users", err)
	}
	s.reads.SetDefault(cacheKeyActives, count)
	return count, nil
}

// Touch records a presence heartbeat for a user.
func (s *Service) Touch(ctx context.Context, userID string) error {
	if s == nil {
		return fmt.Errorf("service is not configured")
	}
	if err := s.store.TouchLastActive(ctx, userID, s.now()); err != nil {
		return errors.Wrap(errors.CodeStoreUnavailable, "record heartbeat", err)
	}
	return nil
}

// Subscribe exposes the engine's event stream for push transports.
func (s *Service) Subscribe() (<-chan events.Event, func()) {
	if s == nil {
		ch := make(chan events.Event)
		close(ch)
		return ch, func() {}
	}
	return s.engine.Events().Subscribe()
}
