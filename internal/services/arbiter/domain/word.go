package domain

import (
	"strings"

	"github.com/louisbranch/wordwager/internal/platform/errors"
)

// NormalizeWord lowercases and trims a submitted word. The normalized form
// is the uniqueness key for claims and dictionary entries.
func NormalizeWord(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateWord checks a normalized word against the submission rules: it
// must be non-empty, and multi-token input is only allowed as a hyphenated
// phrase, never as space-separated words.
func ValidateWord(word string) error {
	if word == "" {
		return errors.New(errors.CodeInvalidWord, "word is empty")
	}
	if strings.Contains(word, " ") && !strings.Contains(word, "-") {
		return errors.WithMetadata(errors.CodeInvalidWord, "word contains spaces without a hyphen", map[string]string{
			"word": word,
		})
	}
	return nil
}
