package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	platformerrors "github.com/louisbranch/wordwager/internal/platform/errors"
	"github.com/louisbranch/wordwager/internal/services/arbiter/domain"
	"github.com/louisbranch/wordwager/internal/services/arbiter/engine"
	"github.com/louisbranch/wordwager/internal/services/arbiter/events"
	"github.com/louisbranch/wordwager/internal/services/arbiter/storage/sqlite"
)

func submission(ownerID, word string, wagerSeconds int) engine.Submission {
	return engine.Submission{OwnerID: ownerID, Word: word, WagerSeconds: wagerSeconds}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "arbiter.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	eng, err := engine.New(store, bus, engine.Options{Logf: t.Logf})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)

	service, err := NewService(eng, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestServiceSubmitAndWordStatus(t *testing.T) {
	service := newTestService(t)

	result, err := service.Submit(context.Background(), submission("user-1", "Ephemeral", 120))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Claim.State != domain.ClaimActive {
		t.Fatalf("state = %q, want %q", result.Claim.State, domain.ClaimActive)
	}

	status, err := service.GetWordStatus(context.Background(), "ephemeral")
	if err != nil {
		t.Fatalf("get word status: %v", err)
	}
	if !status.Claimed {
		t.Fatal("claimed = false, want true")
	}
	if status.HolderID != "user-1" {
		t.Fatalf("holder = %q, want %q", status.HolderID, "user-1")
	}
	if status.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", status.UsageCount)
	}
	if status.RemainingSeconds <= 0 || status.RemainingSeconds > 120 {
		t.Fatalf("remaining seconds = %d, want within (0, 120]", status.RemainingSeconds)
	}

	unclaimed, err := service.GetWordStatus(context.Background(), "sonder")
	if err != nil {
		t.Fatalf("get unclaimed word status: %v", err)
	}
	if unclaimed.Claimed {
		t.Fatal("claimed = true for unclaimed word")
	}
	if unclaimed.UsageCount != 0 {
		t.Fatalf("usage count = %d, want 0", unclaimed.UsageCount)
	}
}

func TestServiceSubmitRateLimit(t *testing.T) {
	service := newTestService(t)

	// The burst allows a few immediate submissions; the next one inside
	// the same instant is rejected.
	var rateLimited bool
	for i := 0; i < submitBurst+1; i++ {
		word := []string{"alpha", "bravo", "charlie", "delta", "echo"}[i%5]
		_, err := service.Submit(context.Background(), submission("user-1", word, 60))
		if err != nil {
			if !errors.Is(err, platformerrors.New(platformerrors.CodeRateLimited, "")) {
				t.Fatalf("submit %d error = %v, want CodeRateLimited", i, err)
			}
			rateLimited = true
		}
	}
	if !rateLimited {
		t.Fatal("burst overflow was not rate limited")
	}

	// Other users are unaffected.
	if _, err := service.Submit(context.Background(), submission("user-2", "foxtrot", 60)); err != nil {
		t.Fatalf("submit other user: %v", err)
	}
}

func TestServiceReleaseAndBalance(t *testing.T) {
	service := newTestService(t)

	result, err := service.Submit(context.Background(), submission("user-1", "ephemeral", 60))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	released, err := service.Release(context.Background(), "user-1", result.Claim.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.State != domain.ClaimReleased {
		t.Fatalf("state = %q, want %q", released.State, domain.ClaimReleased)
	}

	// A user with no settlements gets a zero-valued balance, not an error.
	balance, err := service.GetBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Score != 0 || balance.TotalGames != 0 {
		t.Fatalf("balance = %+v, want zero", balance)
	}
}

func TestServiceFeedAndLeaderboard(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Submit(context.Background(), submission("user-1", "ephemeral", 60)); err != nil {
		t.Fatalf("submit holder: %v", err)
	}
	lost, err := service.Submit(context.Background(), submission("user-2", "ephemeral", 120))
	if err != nil {
		t.Fatalf("submit rival: %v", err)
	}
	if !lost.Lost {
		t.Fatal("rival submission lost = false, want true")
	}

	feed, err := service.Feed(context.Background())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("feed entries = %d, want 2", len(feed))
	}

	board, err := service.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 1 {
		t.Fatalf("leaderboard entries = %d, want 1", len(board))
	}
	if board[0].UserID != "user-2" {
		t.Fatalf("leaderboard user = %q, want %q", board[0].UserID, "user-2")
	}
	if board[0].Score != -120 {
		t.Fatalf("leaderboard score = %d, want -120", board[0].Score)
	}
}

func TestServiceActiveUsers(t *testing.T) {
	service := newTestService(t)

	if err := service.Touch(context.Background(), "user-1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := service.Touch(context.Background(), "user-2"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	count, err := service.ActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if count != 2 {
		t.Fatalf("active users = %d, want 2", count)
	}
}

func TestSubmitGate(t *testing.T) {
	gate := newSubmitGate()

	if gate.allow("") {
		t.Fatal("allow empty user = true, want false")
	}
	allowed := 0
	for i := 0; i < submitBurst*2; i++ {
		if gate.allow("user-1") {
			allowed++
		}
	}
	if allowed != submitBurst {
		t.Fatalf("allowed = %d, want %d", allowed, submitBurst)
	}
	if !gate.allow("user-2") {
		t.Fatal("allow other user = false, want true")
	}
}
