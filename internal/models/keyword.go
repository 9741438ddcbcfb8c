package models

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultLanguage is used for keyword identity when none is configured.
const DefaultLanguage = "en-US"

// NormalizeKeyword lower-cases and trims a keyword for identity comparison.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CanonicalKey is the identity of a keyword: two keywords are the same entity
// iff their normalized text and language are equal.
type CanonicalKey struct {
	Normalized string
	Language   string
}

// NewCanonicalKey builds the key for a raw keyword. An empty language falls
// back to DefaultLanguage.
func NewCanonicalKey(keyword, language string) CanonicalKey {
	if language == "" {
		language = DefaultLanguage
	}
	return CanonicalKey{Normalized: NormalizeKeyword(keyword), Language: language}
}

// Keyword is a stored keyword entity.
type Keyword struct {
	ID          string         `json:"id"`
	Keyword     string         `json:"keyword"`            // original casing, first seen
	Normalized  string         `json:"normalized_keyword"` // lower-cased and trimmed
	Language    string         `json:"language"`
	CategoryID  string         `json:"category_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
}

// Key returns the keyword's canonical identity.
func (k *Keyword) Key() CanonicalKey {
	return CanonicalKey{Normalized: k.Normalized, Language: k.Language}
}
