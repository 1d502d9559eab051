package graph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"msgvault/internal/canonical"
)

// ResolveOrCreateChat maps an external conversation id to a chat id,
// creating an auto_created chat on first sight. Mirrors
// ResolveOrCreatePerson: unique index on external_id plus cache-then-verify.
func (s *Store) ResolveOrCreateChat(ctx context.Context, externalID, nameHint string, isGroupHint bool) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", fmt.Errorf("%w: empty external chat id", ErrInvalid)
	}

	if id, ok := s.cacheGet(s.chatCache, externalID); ok {
		return id, nil
	}

	if id, err := s.lookupChatByExternalID(ctx, externalID); err != nil {
		return "", err
	} else if id != "" {
		s.cachePut(s.chatCache, externalID, id)
		return id, nil
	}

	id, err := s.createChat(ctx, externalID, nameHint, isGroupHint)
	if err != nil {
		if isUniqueViolation(err) {
			id, err = s.lookupChatByExternalID(ctx, externalID)
			if err != nil {
				return "", err
			}
			if id == "" {
				return "", fmt.Errorf("graph: chat %q vanished after conflict", externalID)
			}
		} else {
			return "", err
		}
	}

	s.cachePut(s.chatCache, externalID, id)
	return id, nil
}

func (s *Store) lookupChatByExternalID(ctx context.Context, externalID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM chats WHERE external_id = ?`, externalID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up chat: %w", err)
	}
	return id, nil
}

func (s *Store) createChat(ctx context.Context, externalID, nameHint string, isGroupHint bool) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	chatID := uuid.New().String()
	name := strings.TrimSpace(nameHint)

	var nameValue any
	if name != "" {
		nameValue = name
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, external_id, display_name, is_group_chat, auto_created, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, chatID, externalID, nameValue, boolToInt(isGroupHint), now, now)
	if err != nil {
		return "", err
	}

	if name != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_aliases (id, chat_id, name, name_lower, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.New().String(), chatID, name, canonical.AliasKey(name), now)
		if err != nil {
			return "", fmt.Errorf("failed to create chat alias: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return chatID, nil
}

// GetChat loads one chat row.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, display_name, is_group_chat, notes, auto_created, created_at, updated_at
		FROM chats WHERE id = ?
	`, id)

	var c Chat
	var displayName, notes sql.NullString
	var isGroup, autoCreated int
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.ExternalID, &displayName, &isGroup, &notes, &autoCreated, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	if displayName.Valid {
		c.DisplayName = displayName.String
	}
	if notes.Valid {
		c.Notes = notes.String
	}
	c.IsGroupChat = isGroup == 1
	c.AutoCreated = autoCreated == 1
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// ListChats returns chats, named ones first.
func (s *Store) ListChats(ctx context.Context, limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, display_name, is_group_chat, notes, auto_created, created_at, updated_at
		FROM chats
		ORDER BY display_name IS NULL, display_name COLLATE NOCASE, external_id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var displayName, notes sql.NullString
		var isGroup, autoCreated int
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.ExternalID, &displayName, &isGroup, &notes, &autoCreated, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		if displayName.Valid {
			c.DisplayName = displayName.String
		}
		if notes.Valid {
			c.Notes = notes.String
		}
		c.IsGroupChat = isGroup == 1
		c.AutoCreated = autoCreated == 1
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatUpdate carries the editable chat fields. Nil means unchanged.
type ChatUpdate struct {
	DisplayName *string
	Notes       *string
	IsGroupChat *bool
}

// UpdateChat edits a chat and clears auto_created.
func (s *Store) UpdateChat(ctx context.Context, id string, upd ChatUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return fmt.Errorf("%w: chat name must not be empty", ErrInvalid)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE chats SET display_name = ?, auto_created = 0, updated_at = ? WHERE id = ?
		`, name, now, id)
		if err != nil {
			return fmt.Errorf("failed to update chat name: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_aliases (id, chat_id, name, name_lower, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, name_lower) DO NOTHING
		`, uuid.New().String(), id, name, canonical.AliasKey(name), now)
		if err != nil {
			return fmt.Errorf("failed to record chat alias: %w", err)
		}
	}
	if upd.Notes != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE chats SET notes = ?, auto_created = 0, updated_at = ? WHERE id = ?
		`, *upd.Notes, now, id)
		if err != nil {
			return fmt.Errorf("failed to update chat notes: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	if upd.IsGroupChat != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE chats SET is_group_chat = ?, auto_created = 0, updated_at = ? WHERE id = ?
		`, boolToInt(*upd.IsGroupChat), now, id)
		if err != nil {
			return fmt.Errorf("failed to update chat group flag: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}

	return tx.Commit()
}

// AddChatParticipant links a person to a chat, preserving the earliest
// joined_at on repeat sightings.
func (s *Store) AddChatParticipant(ctx context.Context, chatID, personID string, joinedAt int64) error {
	var joined any
	if joinedAt > 0 {
		joined = joinedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_participants (chat_id, person_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id, person_id) DO UPDATE SET
			joined_at = CASE
				WHEN chat_participants.joined_at IS NULL THEN excluded.joined_at
				WHEN excluded.joined_at IS NOT NULL AND excluded.joined_at < chat_participants.joined_at THEN excluded.joined_at
				ELSE chat_participants.joined_at
			END
	`, chatID, personID, joined)
	if err != nil {
		return fmt.Errorf("failed to add chat participant: %w", err)
	}
	return nil
}

// MarkParticipantLeft stamps left_at on a participation.
func (s *Store) MarkParticipantLeft(ctx context.Context, chatID, personID string, leftAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_participants SET left_at = ? WHERE chat_id = ? AND person_id = ?
	`, leftAt, chatID, personID)
	if err != nil {
		return fmt.Errorf("failed to mark participant left: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChatParticipants lists the people linked to a chat.
func (s *Store) ChatParticipants(ctx context.Context, chatID string) ([]ChatParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, person_id, joined_at, left_at
		FROM chat_participants WHERE chat_id = ?
		ORDER BY person_id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var parts []ChatParticipant
	for rows.Next() {
		var p ChatParticipant
		var joined, left sql.NullInt64
		if err := rows.Scan(&p.ChatID, &p.PersonID, &joined, &left); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if joined.Valid {
			p.JoinedAt = &joined.Int64
		}
		if left.Valid {
			p.LeftAt = &left.Int64
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}
