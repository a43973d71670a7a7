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

const claimColumns = `id, word, owner_id, wager_seconds, use_multiplier, state, created_at, resolved_at`

// InstallClaim inserts one claim row. The partial unique index on
// claims(word) WHERE state='active' makes the active-claim check and the
// insert a single atomic write.
func (s *Store) InstallClaim(ctx context.Context, claim domain.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(claim.ID) == "" {
		return fmt.Errorf("claim id is required")
	}
	if strings.TrimSpace(claim.Word) == "" {
		return fmt.Errorf("word is required")
	}
	if strings.TrimSpace(claim.OwnerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if claim.State == "" {
		return fmt.Errorf("claim state is required")
	}

	var resolvedAt any
	if !claim.ResolvedAt.IsZero() {
		resolvedAt = toMillis(claim.ResolvedAt)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO claims (id, word, owner_id, wager_seconds, use_multiplier, state, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID,
		claim.Word,
		claim.OwnerID,
		claim.WagerSeconds,
		boolToInt(claim.UseMultiplier),
		string(claim.State),
		toMillis(claim.CreatedAt),
		resolvedAt,
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("install claim: %w", err)
	}

	// Either the claim ID was replayed or another active claim holds the
	// word. Disambiguate by ID first so retried installs stay idempotent.
	if _, getErr := s.GetClaim(ctx, claim.ID); getErr == nil {
		return storage.ErrClaimExists
	}
	holder, getErr := s.GetActiveClaimByWord(ctx, claim.Word)
	if getErr != nil {
		if errors.Is(getErr, storage.ErrNotFound) {
			// The holder resolved between our insert and lookup; surface
			// the original violation so the caller retries.
			return fmt.Errorf("install claim: %w", err)
		}
		return fmt.Errorf("install claim: resolve conflict: %w", getErr)
	}
	return &storage.ClaimConflictError{
		Word:          claim.Word,
		HolderID:      holder.OwnerID,
		HolderClaimID: holder.ID,
	}
}

// GetClaim returns one claim by ID.
func (s *Store) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return domain.Claim{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Claim{}, fmt.Errorf("storage is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return domain.Claim{}, fmt.Errorf("claim id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, claimID)
	claim, err := scanClaim(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Claim{}, storage.ErrNotFound
		}
		return domain.Claim{}, fmt.Errorf("get claim: %w", err)
	}
	return claim, nil
}

// GetActiveClaimByWord returns the active claim holding a word.
func (s *Store) GetActiveClaimByWord(ctx context.Context, word string) (domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return domain.Claim{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Claim{}, fmt.Errorf("storage is not configured")
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return domain.Claim{}, fmt.Errorf("word is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+claimColumns+` FROM claims WHERE word = ? AND state = ?`,
		word,
		string(domain.ClaimActive),
	)
	claim, err := scanClaim(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Claim{}, storage.ErrNotFound
		}
		return domain.Claim{}, fmt.Errorf("get active claim by word: %w", err)
	}
	return claim, nil
}

// GetActiveClaimByOwner returns a user's active claim, if any.
func (s *Store) GetActiveClaimByOwner(ctx context.Context, ownerID string) (domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return domain.Claim{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Claim{}, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Claim{}, fmt.Errorf("owner id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+claimColumns+` FROM claims
		  WHERE owner_id = ? AND state = ?
		  ORDER BY created_at DESC
		  LIMIT 1`,
		ownerID,
		string(domain.ClaimActive),
	)
	claim, err := scanClaim(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Claim{}, storage.ErrNotFound
		}
		return domain.Claim{}, fmt.Errorf("get active claim by owner: %w", err)
	}
	return claim, nil
}

// TransitionClaim moves one claim between states with a compare-and-state
// guard. Racing resolvers serialize here: exactly one UPDATE matches the
// expected state, the rest observe ErrStateMismatch.
func (s *Store) TransitionClaim(ctx context.Context, claimID string, from, to domain.ClaimState, resolvedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("claim id is required")
	}
	if from == "" || to == "" {
		return fmt.Errorf("claim states are required")
	}

	var resolved any
	if !resolvedAt.IsZero() {
		resolved = toMillis(resolvedAt)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE claims SET state = ?, resolved_at = ? WHERE id = ? AND state = ?`,
		string(to),
		resolved,
		claimID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("transition claim: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition claim: rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	if _, err := s.GetClaim(ctx, claimID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("transition claim: %w", err)
	}
	return storage.ErrStateMismatch
}

// ListActiveClaims returns all active claims, oldest first.
func (s *Store) ListActiveClaims(ctx context.Context) ([]domain.Claim, error) {
	return s.listClaimsByState(ctx, domain.ClaimActive, 0, time.Time{})
}

// ListReleasingClaims returns claims stuck in releasing since before cutoff.
func (s *Store) ListReleasingClaims(ctx context.Context, cutoff time.Time) ([]domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+claimColumns+` FROM claims
		  WHERE state = ? AND resolved_at IS NOT NULL AND resolved_at <= ?
		  ORDER BY created_at ASC`,
		string(domain.ClaimReleasing),
		toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list releasing claims: %w", err)
	}
	return collectClaims(rows, "list releasing claims")
}

// ListRecentClaims returns the latest claims created after cutoff, newest
// first.
func (s *Store) ListRecentClaims(ctx context.Context, limit int, cutoff time.Time) ([]domain.Claim, error) {
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
		`SELECT `+claimColumns+` FROM claims
		  WHERE created_at > ?
		  ORDER BY created_at DESC
		  LIMIT ?`,
		toMillis(cutoff),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent claims: %w", err)
	}
	return collectClaims(rows, "list recent claims")
}

func (s *Store) listClaimsByState(ctx context.Context, state domain.ClaimState, limit int, cutoff time.Time) ([]domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT ` + claimColumns + ` FROM claims WHERE state = ?`
	args := []any{string(state)}
	if !cutoff.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, toMillis(cutoff))
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return collectClaims(rows, "list claims")
}

func collectClaims(rows *sql.Rows, op string) ([]domain.Claim, error) {
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func scanClaim(scan func(...any) error) (domain.Claim, error) {
	var claim domain.Claim
	var state string
	var useMultiplier int
	var createdAt int64
	var resolvedAt sql.NullInt64
	if err := scan(
		&claim.ID,
		&claim.Word,
		&claim.OwnerID,
		&claim.WagerSeconds,
		&useMultiplier,
		&state,
		&createdAt,
		&resolvedAt,
	); err != nil {
		return domain.Claim{}, err
	}
	claim.UseMultiplier = useMultiplier != 0
	claim.State = domain.ClaimState(state)
	claim.CreatedAt = fromMillis(createdAt)
	if resolvedAt.Valid {
		claim.ResolvedAt = fromMillis(resolvedAt.Int64)
	}
	return claim, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
