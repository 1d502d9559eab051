// Package memstore holds free-text facts linked to graph entities, in the
// same collection shape as the chunk index: FTS5 keyword signal plus
// embedding blobs.
package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"msgvault/internal/docstore"
)

var (
	ErrNotFound = errors.New("memstore: memory not found")
	ErrInvalid  = errors.New("memstore: invalid argument")
)

// Memory categories and creators form closed enums, enforced both here and
// by the schema.
const (
	CategoryFact         = "fact"
	CategoryPreference   = "preference"
	CategoryEvent        = "event"
	CategoryRelationship = "relationship"

	CreatedByAgent = "agent"
	CreatedByUser  = "user"
)

var validCategories = map[string]bool{
	CategoryFact: true, CategoryPreference: true,
	CategoryEvent: true, CategoryRelationship: true,
}

// Memory is one stored fact. Person and chat names are denormalized at
// write time; a later rename or merge does not rewrite them.
type Memory struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	PersonIDs   []string `json:"person_ids,omitempty"`
	ChatIDs     []string `json:"chat_ids,omitempty"`
	PersonNames []string `json:"person_names,omitempty"`
	ChatNames   []string `json:"chat_names,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category"`
	Source      string   `json:"source,omitempty"`
	CreatedBy   string   `json:"created_by"`
	Importance  int      `json:"importance"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	Score       float64  `json:"score,omitempty"`
}

// Embedder turns memory content into a vector. Best effort: nil skips the
// vector, never an error.
type Embedder interface {
	EmbedText(ctx context.Context, text string) []float64
}

// Store wraps the memories tables.
type Store struct {
	db       *sql.DB
	embedder Embedder
	now      func() int64
}

// New builds a Store. embedder may be nil.
func New(db *sql.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder, now: func() int64 { return time.Now().Unix() }}
}

// CreateRequest carries the fields of a new memory. Zero values take the
// defaults: category "fact", importance 3, created by the agent.
type CreateRequest struct {
	Content     string
	PersonIDs   []string
	ChatIDs     []string
	PersonNames []string
	ChatNames   []string
	Tags        []string
	Category    string
	Source      string
	CreatedBy   string
	Importance  int
	ExpiresAt   *int64
}

// CreateMemory stores a new memory, embedding its content when possible.
func (s *Store) CreateMemory(ctx context.Context, req CreateRequest) (*Memory, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	}
	category := req.Category
	if category == "" {
		category = CategoryFact
	}
	if !validCategories[category] {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalid, req.Category)
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = CreatedByAgent
	}
	if createdBy != CreatedByAgent && createdBy != CreatedByUser {
		return nil, fmt.Errorf("%w: unknown creator %q", ErrInvalid, req.CreatedBy)
	}
	importance := req.Importance
	if importance == 0 {
		importance = 3
	}
	if importance < 1 || importance > 5 {
		return nil, fmt.Errorf("%w: importance %d out of range", ErrInvalid, req.Importance)
	}

	m := &Memory{
		ID:          uuid.New().String(),
		Content:     content,
		PersonIDs:   req.PersonIDs,
		ChatIDs:     req.ChatIDs,
		PersonNames: req.PersonNames,
		ChatNames:   req.ChatNames,
		Tags:        req.Tags,
		Category:    category,
		Source:      req.Source,
		CreatedBy:   createdBy,
		Importance:  importance,
		ExpiresAt:   req.ExpiresAt,
	}
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt

	var embedding any
	if s.embedder != nil {
		if vec := s.embedder.EmbedText(ctx, content); len(vec) > 0 {
			embedding = docstore.VectorToBlob(vec)
		}
	}

	var source any
	if m.Source != "" {
		source = m.Source
	}
	var expires any
	if m.ExpiresAt != nil {
		expires = *m.ExpiresAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, person_ids, chat_ids, person_names, chat_names, tags,
			category, source, created_by, importance, expires_at, embedding,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Content,
		jsonArray(m.PersonIDs), jsonArray(m.ChatIDs),
		jsonArray(m.PersonNames), jsonArray(m.ChatNames), jsonArray(m.Tags),
		m.Category, source, m.CreatedBy, m.Importance, expires, embedding,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}
	return m, nil
}

// GetMemory loads one memory.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	rows, err := s.db.QueryContext(ctx, selectMemory+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	defer rows.Close()

	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return nil, ErrNotFound
	}
	return &mems[0], nil
}

// SearchRequest filters and ranks memories. Query and QueryEmbedding are
// both optional; with neither, ordering falls back to importance then
// recency.
type SearchRequest struct {
	Query          string
	QueryEmbedding []float64
	PersonID       string
	ChatID         string
	Category       string
	Tags           []string
	IncludeExpired bool
	Limit          int
}

// SearchMemories sums the optional keyword and vector signals under hard
// filters. Expired memories are excluded unless IncludeExpired is set.
// Ties (and the no-query case) order by importance descending, then recency
// descending.
func (s *Store) SearchMemories(ctx context.Context, req SearchRequest) ([]Memory, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"1=1"}
	var args []any
	if req.PersonID != "" {
		where = append(where, `person_ids LIKE ? ESCAPE '\'`)
		args = append(args, jsonMemberPattern(req.PersonID))
	}
	if req.ChatID != "" {
		where = append(where, `chat_ids LIKE ? ESCAPE '\'`)
		args = append(args, jsonMemberPattern(req.ChatID))
	}
	if req.Category != "" {
		where = append(where, "category = ?")
		args = append(args, req.Category)
	}
	for _, tag := range req.Tags {
		where = append(where, `tags LIKE ? ESCAPE '\'`)
		args = append(args, jsonMemberPattern(tag))
	}
	if !req.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at >= ?)")
		args = append(args, s.now())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+`, embedding FROM memories WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	candidates, embeddings, err := scanMemoriesWithEmbeddings(rows)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Memory{}, nil
	}

	// Keyword signal.
	textScores := map[string]float64{}
	query := strings.TrimSpace(req.Query)
	if query != "" {
		textScores, err = s.matchContent(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	// Vector signal, same empty-embedding guard as the chunk index.
	queryVec := req.QueryEmbedding
	if len(queryVec) == 0 && query != "" && s.embedder != nil {
		queryVec = s.embedder.EmbedText(ctx, query)
	}

	for i := range candidates {
		score := textScores[candidates[i].ID]
		if len(queryVec) > 0 {
			if vec := embeddings[candidates[i].ID]; len(vec) > 0 {
				if sim := docstore.CosineSimilarity(queryVec, vec); sim != 0 {
					score += docstore.NormalizeCosine(sim)
				}
			}
		}
		candidates[i].Score = score
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// matchContent returns normalized FTS relevance per memory id.
func (s *Store) matchContent(ctx context.Context, query string) (map[string]float64, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return map[string]float64{}, nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	expr := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS score
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ?
	`, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	defer rows.Close()

	raw := map[string]float64{}
	maxScore := 0.0
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		score = -score
		raw[id] = score
		if score > maxScore {
			maxScore = score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if maxScore > 0 {
		for id := range raw {
			raw[id] /= maxScore
		}
	}
	return raw, nil
}

// UpdateRequest carries editable memory fields. Nil means unchanged.
type UpdateRequest struct {
	Content     *string
	Tags        []string
	Category    *string
	Importance  *int
	ExpiresAt   *int64
	ClearExpiry bool
}

// UpdateMemory edits a memory in place. A content change regenerates the
// embedding through the injected capability.
func (s *Store) UpdateMemory(ctx context.Context, id string, upd UpdateRequest) (*Memory, error) {
	if _, err := s.GetMemory(ctx, id); err != nil {
		return nil, err
	}

	now := s.now()
	set := []string{"updated_at = ?"}
	args := []any{now}

	if upd.Content != nil {
		content := strings.TrimSpace(*upd.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: content must not be empty", ErrInvalid)
		}
		set = append(set, "content = ?")
		args = append(args, content)

		var embedding any
		if s.embedder != nil {
			if vec := s.embedder.EmbedText(ctx, content); len(vec) > 0 {
				embedding = docstore.VectorToBlob(vec)
			}
		}
		set = append(set, "embedding = ?")
		args = append(args, embedding)
	}
	if upd.Tags != nil {
		set = append(set, "tags = ?")
		args = append(args, jsonArray(upd.Tags))
	}
	if upd.Category != nil {
		if !validCategories[*upd.Category] {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalid, *upd.Category)
		}
		set = append(set, "category = ?")
		args = append(args, *upd.Category)
	}
	if upd.Importance != nil {
		if *upd.Importance < 1 || *upd.Importance > 5 {
			return nil, fmt.Errorf("%w: importance %d out of range", ErrInvalid, *upd.Importance)
		}
		set = append(set, "importance = ?")
		args = append(args, *upd.Importance)
	}
	if upd.ClearExpiry {
		set = append(set, "expires_at = NULL")
	} else if upd.ExpiresAt != nil {
		set = append(set, "expires_at = ?")
		args = append(args, *upd.ExpiresAt)
	}

	args = append(args, id)
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}
	return s.GetMemory(ctx, id)
}

// DeleteMemory removes one memory.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const memoryColumns = `id, content, person_ids, chat_ids, person_names, chat_names, tags,
	category, source, created_by, importance, expires_at, created_at, updated_at`

const selectMemory = `SELECT ` + memoryColumns + ` FROM memories`

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var mems []Memory
	for rows.Next() {
		m, _, err := scanMemoryRow(rows, false)
		if err != nil {
			return nil, err
		}
		mems = append(mems, m)
	}
	return mems, rows.Err()
}

func scanMemoriesWithEmbeddings(rows *sql.Rows) ([]Memory, map[string][]float64, error) {
	defer rows.Close()
	var mems []Memory
	embeddings := map[string][]float64{}
	for rows.Next() {
		m, blob, err := scanMemoryRow(rows, true)
		if err != nil {
			return nil, nil, err
		}
		if vec := docstore.BlobToVector(blob); vec != nil {
			embeddings[m.ID] = vec
		}
		mems = append(mems, m)
	}
	return mems, embeddings, rows.Err()
}

func scanMemoryRow(rows *sql.Rows, withEmbedding bool) (Memory, []byte, error) {
	var m Memory
	var personIDs, chatIDs, personNames, chatNames, tags string
	var source sql.NullString
	var expires sql.NullInt64
	var blob []byte

	dest := []any{
		&m.ID, &m.Content, &personIDs, &chatIDs, &personNames, &chatNames, &tags,
		&m.Category, &source, &m.CreatedBy, &m.Importance, &expires,
		&m.CreatedAt, &m.UpdatedAt,
	}
	if withEmbedding {
		dest = append(dest, &blob)
	}
	if err := rows.Scan(dest...); err != nil {
		return Memory{}, nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	if source.Valid {
		m.Source = source.String
	}
	if expires.Valid {
		v := expires.Int64
		m.ExpiresAt = &v
	}
	for _, col := range []struct {
		raw    string
		target *[]string
	}{
		{personIDs, &m.PersonIDs}, {chatIDs, &m.ChatIDs},
		{personNames, &m.PersonNames}, {chatNames, &m.ChatNames}, {tags, &m.Tags},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.target); err != nil {
			return Memory{}, nil, fmt.Errorf("failed to decode memory arrays: %w", err)
		}
	}
	return m, blob, nil
}

func jsonArray(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(vals)
	return string(b)
}

func jsonMemberPattern(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "%", `\%`)
	v = strings.ReplaceAll(v, "_", `\_`)
	return `%"` + v + `"%`
}
