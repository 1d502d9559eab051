// Package graph is the entity-resolution store: durable people and chats
// behind the ephemeral handles the archive is full of.
package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"msgvault/internal/canonical"
)

// ErrNotFound reports a resolution miss. Absence is an expected outcome, so
// callers branch on it instead of failing.
var ErrNotFound = errors.New("graph: not found")

// ErrInvalid rejects an operation before any write happens.
var ErrInvalid = errors.New("graph: invalid argument")

// AmbiguousError reports a lookup stage that matched two or more candidates.
// The candidates are returned as suggestions; the store never picks one.
type AmbiguousError struct {
	Query      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("graph: %q matched %d candidates", e.Query, len(e.Candidates))
}

// Candidate is one disambiguation suggestion.
type Candidate struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	MatchedOn   string `json:"matched_on"`
}

// Person is a stable identity unifying one or more handles.
type Person struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	IsOwner     bool       `json:"is_owner"`
	AutoCreated bool       `json:"auto_created"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Handle is a raw identifier plus its canonical form. Immutable once
// created; it moves between people only through a merge.
type Handle struct {
	ID        string               `json:"id"`
	PersonID  string               `json:"person_id"`
	Raw       string               `json:"raw"`
	Canonical string               `json:"canonical"`
	Type      canonical.HandleType `json:"type"`
	CreatedAt time.Time            `json:"created_at"`
}

// Alias is a name variant; lookup key is the lowercase form.
type Alias struct {
	ID        string `json:"id"`
	PersonID  string `json:"person_id"`
	Name      string `json:"name"`
	NameLower string `json:"name_lower"`
	IsPrimary bool   `json:"is_primary"`
}

// Relationship is one direction of a mirrored pair.
type Relationship struct {
	ID           string `json:"id"`
	FromPersonID string `json:"from_person_id"`
	ToPersonID   string `json:"to_person_id"`
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
}

// Attribute is a single key/value fact on a person.
type Attribute struct {
	PersonID string `json:"person_id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// Chat is a stable identity for one conversation thread.
type Chat struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name,omitempty"`
	IsGroupChat bool      `json:"is_group_chat"`
	Notes       string    `json:"notes,omitempty"`
	AutoCreated bool      `json:"auto_created"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatParticipant links a person to a chat.
type ChatParticipant struct {
	ChatID   string `json:"chat_id"`
	PersonID string `json:"person_id"`
	JoinedAt *int64 `json:"joined_at,omitempty"`
	LeftAt   *int64 `json:"left_at,omitempty"`
}

// Store owns the entity graph tables and the resolution caches.
//
// The caches are write-through shortcuts over the unique indexes on
// handles.canonical and chats.external_id; the database stays authoritative
// and the caches are repopulated from it on every miss.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	handleCache map[string]string // canonical handle -> person id
	chatCache   map[string]string // external chat id -> chat id
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		handleCache: make(map[string]string),
		chatCache:   make(map[string]string),
	}
}

// DB exposes the underlying connection for composition (stats queries).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) cacheGet(m map[string]string, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := m[key]
	return v, ok
}

func (s *Store) cachePut(m map[string]string, key, val string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[key] = val
}

// isUniqueViolation detects a uniqueness-constraint failure from the sqlite
// driver. Under concurrent resolveOrCreate this is the losing writer's
// signal to re-read, not an error to surface.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
