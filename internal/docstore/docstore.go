// Package docstore holds the indexed chunk collection: one sqlite table with
// an FTS5 shadow for keyword relevance and embedding blobs for the vector
// signal. Ids are content hashes, so indexing is an idempotent upsert.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"msgvault/internal/enrich"
)

// ErrUnavailable reports that the chunk index cannot be reached. Distinct
// from an empty result on purpose.
var ErrUnavailable = errors.New("docstore: index unavailable")

// Document is the read projection of an indexed chunk. Embeddings never
// appear here.
type Document struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	GroupName      string   `json:"group_name,omitempty"`
	IsGroupChat    bool     `json:"is_group_chat"`
	IsDM           bool     `json:"is_dm"`
	Sender         string   `json:"sender"`
	SenderIsOwner  bool     `json:"sender_is_owner"`
	Participants   []string `json:"participants"`
	MessageIDs     []string `json:"message_ids"`
	StartTS        int64    `json:"start_ts"`
	EndTS          int64    `json:"end_ts"`
	MessageCount   int      `json:"message_count"`
	Year           int      `json:"year"`
	Month          int      `json:"month"`
	Weekday        string   `json:"weekday"`
	Hour           int      `json:"hour"`
	HasAttachment  bool     `json:"has_attachment"`
	HasImage       bool     `json:"has_image"`
	Text           string   `json:"text"`
}

// Filters are the hard, non-scoring constraints shared by every search mode.
// Zero values mean "no constraint".
type Filters struct {
	Sender         string
	ConversationID string
	Participants   []string // every listed name must appear
	IsGroup        *bool
	HasImage       *bool
	After          int64 // start_ts >= After
	Before         int64 // start_ts <= Before
	HourFrom       *int
	HourTo         *int
	Weekday        string
	Year           int
	Month          int

	// Excludes remove matches via negated clauses.
	ExcludeSenders       []string
	ExcludeConversations []string
	ExcludeDMsWith       []string // drop DMs whose participants include the name
}

func (f Filters) clauses() ([]string, []any) {
	var where []string
	var args []any

	if f.Sender != "" {
		where = append(where, "c.sender = ?")
		args = append(args, f.Sender)
	}
	if f.ConversationID != "" {
		where = append(where, "c.conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	for _, p := range f.Participants {
		where = append(where, `c.participants LIKE ? ESCAPE '\'`)
		args = append(args, participantPattern(p))
	}
	if f.IsGroup != nil {
		if *f.IsGroup {
			where = append(where, "c.is_group_chat = 1")
		} else {
			where = append(where, "c.is_dm = 1")
		}
	}
	if f.HasImage != nil {
		where = append(where, "c.has_image = ?")
		args = append(args, boolToInt(*f.HasImage))
	}
	if f.After > 0 {
		where = append(where, "c.start_ts >= ?")
		args = append(args, f.After)
	}
	if f.Before > 0 {
		where = append(where, "c.start_ts <= ?")
		args = append(args, f.Before)
	}
	if f.HourFrom != nil {
		where = append(where, "c.hour >= ?")
		args = append(args, *f.HourFrom)
	}
	if f.HourTo != nil {
		where = append(where, "c.hour <= ?")
		args = append(args, *f.HourTo)
	}
	if f.Weekday != "" {
		where = append(where, "c.weekday = ?")
		args = append(args, strings.ToLower(f.Weekday))
	}
	if f.Year > 0 {
		where = append(where, "c.year = ?")
		args = append(args, f.Year)
	}
	if f.Month > 0 {
		where = append(where, "c.month = ?")
		args = append(args, f.Month)
	}

	if len(f.ExcludeSenders) > 0 {
		ph := placeholders(len(f.ExcludeSenders))
		where = append(where, "c.sender NOT IN ("+ph+")")
		for _, s := range f.ExcludeSenders {
			args = append(args, s)
		}
	}
	if len(f.ExcludeConversations) > 0 {
		ph := placeholders(len(f.ExcludeConversations))
		where = append(where, "c.conversation_id NOT IN ("+ph+")")
		for _, c := range f.ExcludeConversations {
			args = append(args, c)
		}
	}
	for _, name := range f.ExcludeDMsWith {
		where = append(where, `NOT (c.is_dm = 1 AND c.participants LIKE ? ESCAPE '\')`)
		args = append(args, participantPattern(name))
	}

	return where, args
}

// participantPattern matches one JSON-encoded name inside the participants
// array column.
func participantPattern(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	name = strings.ReplaceAll(name, "%", `\%`)
	name = strings.ReplaceAll(name, "_", `\_`)
	return `%"` + name + `"%`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Store wraps the chunk index tables.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// Ping verifies the index is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrUnavailable
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Upsert indexes enriched chunks. Content-hash ids make this idempotent:
// re-indexing the same window rewrites identical rows.
func (s *Store) Upsert(ctx context.Context, docs []enrich.EnrichedChunk) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, d := range docs {
		participants, err := json.Marshal(d.Participants)
		if err != nil {
			return fmt.Errorf("failed to encode participants: %w", err)
		}
		messageIDs, err := json.Marshal(d.MessageIDs)
		if err != nil {
			return fmt.Errorf("failed to encode message ids: %w", err)
		}
		var groupName any
		if d.GroupName != "" {
			groupName = d.GroupName
		}
		var embedding any
		if len(d.Embedding) > 0 {
			embedding = VectorToBlob(d.Embedding)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (
				id, conversation_id, group_name, is_group_chat, is_dm,
				sender, sender_is_owner, participants, message_ids,
				start_ts, end_ts, message_count, year, month, weekday, hour,
				has_attachment, has_image, text, embedding, indexed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				conversation_id = excluded.conversation_id,
				group_name      = excluded.group_name,
				is_group_chat   = excluded.is_group_chat,
				is_dm           = excluded.is_dm,
				sender          = excluded.sender,
				sender_is_owner = excluded.sender_is_owner,
				participants    = excluded.participants,
				message_ids     = excluded.message_ids,
				start_ts        = excluded.start_ts,
				end_ts          = excluded.end_ts,
				message_count   = excluded.message_count,
				year            = excluded.year,
				month           = excluded.month,
				weekday         = excluded.weekday,
				hour            = excluded.hour,
				has_attachment  = excluded.has_attachment,
				has_image       = excluded.has_image,
				text            = excluded.text,
				embedding       = COALESCE(excluded.embedding, chunks.embedding),
				indexed_at      = excluded.indexed_at
		`,
			d.ID, d.ConversationID, groupName, boolToInt(d.IsGroupChat), boolToInt(d.IsDM),
			d.Sender, boolToInt(d.SenderIsOwner), string(participants), string(messageIDs),
			d.StartTS, d.EndTS, len(d.Messages), d.Year, d.Month, d.Weekday, d.Hour,
			boolToInt(d.HasAttachment), boolToInt(d.HasImage), d.Text, embedding, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ExistingIDs returns every indexed chunk id, for set-difference dedup.
func (s *Store) ExistingIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SetEmbedding attaches a vector to an indexed chunk.
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET embedding = ? WHERE id = ?`, VectorToBlob(vec), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: chunk %s not indexed", id)
	}
	return nil
}

// MissingEmbeddings lists chunks awaiting a vector, oldest first.
func (s *Store) MissingEmbeddings(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectDocument+`
		WHERE c.embedding IS NULL
		ORDER BY c.start_ts
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Hit pairs a chunk id with its raw keyword relevance. BM25 is negated so
// higher is better.
type Hit struct {
	ID   string
	BM25 float64
}

// Match runs an FTS5 match expression under the filters and returns raw
// keyword hits, best first.
func (s *Store) Match(ctx context.Context, matchExpr string, f Filters, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT c.id, bm25(chunks_fts) AS score
		FROM chunks_fts fts
		JOIN chunks c ON c.rowid = fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{matchExpr}

	where, filterArgs := f.clauses()
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
		args = append(args, filterArgs...)
	}
	query += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.BM25); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		// BM25 reports lower-is-better negatives; negate for consistency.
		h.BM25 = -h.BM25
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountMatches reports the total hit count of a match expression under the
// filters, for pagination.
func (s *Store) CountMatches(ctx context.Context, matchExpr string, f Filters) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM chunks_fts fts
		JOIN chunks c ON c.rowid = fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{matchExpr}

	where, filterArgs := f.clauses()
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
		args = append(args, filterArgs...)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Embeddings loads the stored vectors of every chunk passing the filters.
func (s *Store) Embeddings(ctx context.Context, f Filters) (map[string][]float64, error) {
	query := `SELECT c.id, c.embedding FROM chunks c WHERE c.embedding IS NOT NULL`
	where, args := f.clauses()
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	vectors := make(map[string][]float64)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if vec := BlobToVector(blob); vec != nil {
			vectors[id] = vec
		}
	}
	return vectors, rows.Err()
}

const selectDocument = `
	SELECT c.id, c.conversation_id, c.group_name, c.is_group_chat, c.is_dm,
	       c.sender, c.sender_is_owner, c.participants, c.message_ids,
	       c.start_ts, c.end_ts, c.message_count, c.year, c.month, c.weekday,
	       c.hour, c.has_attachment, c.has_image, c.text
	FROM chunks c`

// Documents loads the read projection of the given ids.
func (s *Store) Documents(ctx context.Context, ids []string) (map[string]Document, error) {
	if len(ids) == 0 {
		return map[string]Document{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		selectDocument+` WHERE c.id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return byID, nil
}

// Recent lists filtered chunks newest first, without a keyword query.
func (s *Store) Recent(ctx context.Context, f Filters, limit, offset int) ([]Document, int, error) {
	if limit <= 0 {
		limit = 20
	}

	where, args := f.clauses()
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks c`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	query := selectDocument + clause + ` ORDER BY c.start_ts DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Stats summarizes activity for a sender or conversation, for context views.
type Stats struct {
	ChunkCount    int   `json:"chunk_count"`
	FirstActivity int64 `json:"first_activity,omitempty"`
	LastActivity  int64 `json:"last_activity,omitempty"`
}

// SenderStats summarizes the chunks attributed to one sender name.
func (s *Store) SenderStats(ctx context.Context, sender string) (Stats, error) {
	return s.stats(ctx, `sender = ?`, sender)
}

// ConversationStats summarizes the chunks of one conversation.
func (s *Store) ConversationStats(ctx context.Context, conversationID string) (Stats, error) {
	return s.stats(ctx, `conversation_id = ?`, conversationID)
}

func (s *Store) stats(ctx context.Context, clause string, arg any) (Stats, error) {
	var st Stats
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(start_ts), MAX(end_ts) FROM chunks WHERE `+clause, arg).
		Scan(&st.ChunkCount, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if first.Valid {
		st.FirstActivity = first.Int64
	}
	if last.Valid {
		st.LastActivity = last.Int64
	}
	return st, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var groupName sql.NullString
		var isGroup, isDM, senderIsOwner, hasAttachment, hasImage int
		var participants, messageIDs string
		if err := rows.Scan(
			&d.ID, &d.ConversationID, &groupName, &isGroup, &isDM,
			&d.Sender, &senderIsOwner, &participants, &messageIDs,
			&d.StartTS, &d.EndTS, &d.MessageCount, &d.Year, &d.Month, &d.Weekday,
			&d.Hour, &hasAttachment, &hasImage, &d.Text,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if groupName.Valid {
			d.GroupName = groupName.String
		}
		d.IsGroupChat = isGroup == 1
		d.IsDM = isDM == 1
		d.SenderIsOwner = senderIsOwner == 1
		d.HasAttachment = hasAttachment == 1
		d.HasImage = hasImage == 1
		if err := json.Unmarshal([]byte(participants), &d.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
		if err := json.Unmarshal([]byte(messageIDs), &d.MessageIDs); err != nil {
			return nil, fmt.Errorf("failed to decode message ids: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
