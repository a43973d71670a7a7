package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/wordwager/internal/services/arbiter/domain"
	"github.com/louisbranch/wordwager/internal/services/arbiter/storage"
)

const balanceColumns = `user_id, score, total_games, total_wins, total_losses, highest_score, last_active_at`

// ApplySettlement records one settlement and applies its score delta in a
// single transaction. The settled_claims primary key is the idempotency
// barrier: a replayed claim ID never charges twice.
func (s *Store) ApplySettlement(ctx context.Context, settlement storage.Settlement) (domain.UserBalance, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserBalance{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.UserBalance{}, false, fmt.Errorf("storage is not configured")
	}
	claimID := strings.TrimSpace(settlement.ClaimID)
	userID := strings.TrimSpace(settlement.UserID)
	if claimID == "" {
		return domain.UserBalance{}, false, fmt.Errorf("claim id is required")
	}
	if userID == "" {
		return domain.UserBalance{}, false, fmt.Errorf("user id is required")
	}
	if settlement.Outcome != domain.OutcomeWin && settlement.Outcome != domain.OutcomeLoss {
		return domain.UserBalance{}, false, fmt.Errorf("outcome %q is not settleable", settlement.Outcome)
	}
	appliedAt := settlement.AppliedAt.UTC()
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserBalance{}, false, fmt.Errorf("begin settlement: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO settled_claims (claim_id, user_id, outcome, delta, applied_at) VALUES (?, ?, ?, ?, ?)`,
		claimID,
		userID,
		string(settlement.Outcome),
		settlement.Delta,
		toMillis(appliedAt),
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return domain.UserBalance{}, false, fmt.Errorf("record settlement: %w", err)
		}
		// Replay: compare against the recorded row instead of re-applying.
		var recordedOutcome string
		var recordedDelta int64
		row := tx.QueryRowContext(ctx, `SELECT outcome, delta FROM settled_claims WHERE claim_id = ?`, claimID)
		if scanErr := row.Scan(&recordedOutcome, &recordedDelta); scanErr != nil {
			return domain.UserBalance{}, false, fmt.Errorf("read recorded settlement: %w", scanErr)
		}
		if recordedOutcome != string(settlement.Outcome) || recordedDelta != settlement.Delta {
			return domain.UserBalance{}, false, &storage.SettlementInconsistencyError{
				ClaimID:          claimID,
				RecordedOutcome:  domain.Outcome(recordedOutcome),
				AttemptedOutcome: settlement.Outcome,
				RecordedDelta:    recordedDelta,
				AttemptedDelta:   settlement.Delta,
			}
		}
		balance, getErr := getBalanceTx(ctx, tx, userID)
		if getErr != nil {
			return domain.UserBalance{}, false, getErr
		}
		return balance, false, nil
	}

	winInc := 0
	lossInc := 0
	if settlement.Outcome == domain.OutcomeWin {
		winInc = 1
	} else {
		lossInc = 1
	}
	initialHighest := int64(0)
	if settlement.Delta > 0 {
		initialHighest = settlement.Delta
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO balances (user_id, score, total_games, total_wins, total_losses, highest_score, last_active_at)
		 VALUES (?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   score = score + excluded.score,
		   total_games = total_games + 1,
		   total_wins = total_wins + excluded.total_wins,
		   total_losses = total_losses + excluded.total_losses,
		   highest_score = MAX(highest_score, score + excluded.score),
		   last_active_at = MAX(last_active_at, excluded.last_active_at)`,
		userID,
		settlement.Delta,
		winInc,
		lossInc,
		initialHighest,
		toMillis(appliedAt),
	)
	if err != nil {
		return domain.UserBalance{}, false, fmt.Errorf("apply settlement delta: %w", err)
	}

	balance, err := getBalanceTx(ctx, tx, userID)
	if err != nil {
		return domain.UserBalance{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserBalance{}, false, fmt.Errorf("commit settlement: %w", err)
	}
	return balance, true, nil
}

// GetBalance returns one user's balance and stats.
func (s *Store) GetBalance(ctx context.Context, userID string) (domain.UserBalance, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserBalance{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.UserBalance{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserBalance{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+balanceColumns+` FROM balances WHERE user_id = ?`, userID)
	balance, err := scanBalance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserBalance{}, storage.ErrNotFound
		}
		return domain.UserBalance{}, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ListTopBalances returns up to limit balances ordered by score.
func (s *Store) ListTopBalances(ctx context.Context, limit int) ([]domain.UserBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+balanceColumns+` FROM balances ORDER BY score DESC, user_id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list top balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.UserBalance
	for rows.Next() {
		balance, err := scanBalance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list top balances: %w", err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list top balances: %w", err)
	}
	return balances, nil
}

// TouchLastActive records a presence heartbeat for a user.
func (s *Store) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO balances (user_id, last_active_at) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET last_active_at = MAX(last_active_at, excluded.last_active_at)`,
		userID,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("touch last active: %w", err)
	}
	return nil
}

// CountActiveUsers counts users whose last heartbeat is after cutoff.
func (s *Store) CountActiveUsers(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM balances WHERE last_active_at > ?`, toMillis(cutoff))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (domain.UserBalance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+balanceColumns+` FROM balances WHERE user_id = ?`, userID)
	balance, err := scanBalance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserBalance{UserID: userID}, nil
		}
		return domain.UserBalance{}, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func scanBalance(scan func(...any) error) (domain.UserBalance, error) {
	var balance domain.UserBalance
	var lastActiveAt int64
	if err := scan(
		&balance.UserID,
		&balance.Score,
		&balance.TotalGames,
		&balance.TotalWins,
		&balance.TotalLosses,
		&balance.HighestScore,
		&lastActiveAt,
	); err != nil {
		return domain.UserBalance{}, err
	}
	if lastActiveAt > 0 {
		balance.LastActiveAt = fromMillis(lastActiveAt)
	}
	return balance, nil
}
