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

// IncrementUsage bumps a word's usage counter. The upsert makes concurrent
// increments commute, so the counter never needs arbitration.
func (s *Store) IncrementUsage(ctx context.Context, word string, usedAt time.Time) (domain.DictionaryEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.DictionaryEntry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.DictionaryEntry{}, fmt.Errorf("storage is not configured")
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return domain.DictionaryEntry{}, fmt.Errorf("word is required")
	}
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO dictionary (word, usage_count, last_used_at) VALUES (?, 1, ?)
		 ON CONFLICT(word) DO UPDATE SET
		   usage_count = usage_count + 1,
		   last_used_at = MAX(last_used_at, excluded.last_used_at)
		 RETURNING word, usage_count, last_used_at`,
		word,
		toMillis(usedAt),
	)
	entry, err := scanDictionaryEntry(row.Scan)
	if err != nil {
		return domain.DictionaryEntry{}, fmt.Errorf("increment usage: %w", err)
	}
	return entry, nil
}

// GetDictionaryEntry returns a word's usage counter.
func (s *Store) GetDictionaryEntry(ctx context.Context, word string) (domain.DictionaryEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.DictionaryEntry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.DictionaryEntry{}, fmt.Errorf("storage is not configured")
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return domain.DictionaryEntry{}, fmt.Errorf("word is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT word, usage_count, last_used_at FROM dictionary WHERE word = ?`,
		word,
	)
	entry, err := scanDictionaryEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DictionaryEntry{}, storage.ErrNotFound
		}
		return domain.DictionaryEntry{}, fmt.Errorf("get dictionary entry: %w", err)
	}
	return entry, nil
}

func scanDictionaryEntry(scan func(...any) error) (domain.DictionaryEntry, error) {
	var entry domain.DictionaryEntry
	var lastUsedAt int64
	if err := scan(&entry.Word, &entry.UsageCount, &lastUsedAt); err != nil {
		return domain.DictionaryEntry{}, err
	}
	entry.LastUsedAt = fromMillis(lastUsedAt)
	return entry, nil
}
