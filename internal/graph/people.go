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

// ResolveOrCreatePerson maps a raw handle to a person id, creating an
// auto_created person (with one handle and one primary alias) when the
// canonical form is unknown. Safe under concurrent callers: the unique index
// on handles.canonical decides the winner and losers re-read.
func (s *Store) ResolveOrCreatePerson(ctx context.Context, rawHandle, nameHint string) (string, error) {
	key := canonical.Handle(rawHandle)
	if key == "" {
		return "", fmt.Errorf("%w: empty handle %q", ErrInvalid, rawHandle)
	}

	if id, ok := s.cacheGet(s.handleCache, key); ok {
		return id, nil
	}

	if id, err := s.lookupPersonByCanonical(ctx, key); err != nil {
		return "", err
	} else if id != "" {
		s.cachePut(s.handleCache, key, id)
		return id, nil
	}

	id, err := s.createPersonForHandle(ctx, rawHandle, key, nameHint)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race: another caller created the person. Re-read.
			id, err = s.lookupPersonByCanonical(ctx, key)
			if err != nil {
				return "", err
			}
			if id == "" {
				return "", fmt.Errorf("graph: handle %q vanished after conflict", key)
			}
		} else {
			return "", err
		}
	}

	s.cachePut(s.handleCache, key, id)
	return id, nil
}

func (s *Store) lookupPersonByCanonical(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT person_id FROM handles WHERE canonical = ?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up handle: %w", err)
	}
	return id, nil
}

func (s *Store) createPersonForHandle(ctx context.Context, raw, key, nameHint string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	personID := uuid.New().String()

	displayName := strings.TrimSpace(nameHint)
	if displayName == "" {
		displayName = raw
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO people (id, display_name, is_owner, auto_created, created_at, updated_at)
		VALUES (?, ?, 0, 1, ?, ?)
	`, personID, displayName, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create person: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO handles (id, person_id, raw, canonical, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), personID, raw, key, string(canonical.HandleTypeOf(raw)), now)
	if err != nil {
		// Propagate unchanged so the caller can detect the unique violation.
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO aliases (id, person_id, name, name_lower, is_primary, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, uuid.New().String(), personID, displayName, canonical.AliasKey(displayName), now)
	if err != nil {
		return "", fmt.Errorf("failed to create alias: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return personID, nil
}

// AddHandle attaches an additional handle to an existing person.
func (s *Store) AddHandle(ctx context.Context, personID, rawHandle string) error {
	key := canonical.Handle(rawHandle)
	if key == "" {
		return fmt.Errorf("%w: empty handle %q", ErrInvalid, rawHandle)
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handles (id, person_id, raw, canonical, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), personID, rawHandle, key, string(canonical.HandleTypeOf(rawHandle)), now)
	if err != nil {
		if isUniqueViolation(err) {
			owner, lookupErr := s.lookupPersonByCanonical(ctx, key)
			if lookupErr == nil && owner == personID {
				return nil
			}
			return fmt.Errorf("%w: handle %q already belongs to another person", ErrInvalid, key)
		}
		return fmt.Errorf("failed to add handle: %w", err)
	}
	s.cachePut(s.handleCache, key, personID)
	return nil
}

// GetPerson loads one person row.
func (s *Store) GetPerson(ctx context.Context, id string) (*Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, is_owner, auto_created, notes, created_at, updated_at
		FROM people WHERE id = ?
	`, id)
	return scanPerson(row)
}

func scanPerson(row *sql.Row) (*Person, error) {
	var p Person
	var isOwner, autoCreated int
	var notes sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.DisplayName, &isOwner, &autoCreated, &notes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan person: %w", err)
	}
	p.IsOwner = isOwner == 1
	p.AutoCreated = autoCreated == 1
	if notes.Valid {
		p.Notes = notes.String
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// ListPeople returns people ordered by display name.
func (s *Store) ListPeople(ctx context.Context, limit, offset int) ([]Person, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, is_owner, auto_created, notes, created_at, updated_at
		FROM people
		ORDER BY display_name COLLATE NOCASE, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query people: %w", err)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		var isOwner, autoCreated int
		var notes sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.DisplayName, &isOwner, &autoCreated, &notes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		p.IsOwner = isOwner == 1
		p.AutoCreated = autoCreated == 1
		if notes.Valid {
			p.Notes = notes.String
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)
		people = append(people, p)
	}
	return people, rows.Err()
}

// PersonUpdate carries the editable person fields. Nil means unchanged.
type PersonUpdate struct {
	DisplayName *string
	Notes       *string
}

// UpdatePerson edits a person. Any human/agent edit clears auto_created.
func (s *Store) UpdatePerson(ctx context.Context, id string, upd PersonUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return fmt.Errorf("%w: display name must not be empty", ErrInvalid)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE people SET display_name = ?, auto_created = 0, updated_at = ? WHERE id = ?
		`, name, now, id)
		if err != nil {
			return fmt.Errorf("failed to update display name: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		// The new name becomes a lookup alias too.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO aliases (id, person_id, name, name_lower, is_primary, created_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(person_id, name_lower) DO NOTHING
		`, uuid.New().String(), id, name, canonical.AliasKey(name), now)
		if err != nil {
			return fmt.Errorf("failed to record name alias: %w", err)
		}
	}
	if upd.Notes != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE people SET notes = ?, auto_created = 0, updated_at = ? WHERE id = ?
		`, *upd.Notes, now, id)
		if err != nil {
			return fmt.Errorf("failed to update notes: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}

	return tx.Commit()
}

// AddAlias records a name variant for a person.
func (s *Store) AddAlias(ctx context.Context, personID, name string, primary bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: alias must not be empty", ErrInvalid)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if primary {
		if _, err := tx.ExecContext(ctx,
			`UPDATE aliases SET is_primary = 0 WHERE person_id = ?`, personID); err != nil {
			return fmt.Errorf("failed to demote aliases: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO aliases (id, person_id, name, name_lower, is_primary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, name_lower) DO UPDATE SET is_primary = excluded.is_primary
	`, uuid.New().String(), personID, name, canonical.AliasKey(name), boolToInt(primary), now)
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE people SET auto_created = 0, updated_at = ? WHERE id = ?`, now, personID); err != nil {
		return fmt.Errorf("failed to touch person: %w", err)
	}
	return tx.Commit()
}

// SetAttribute upserts a (person, key) attribute.
func (s *Store) SetAttribute(ctx context.Context, personID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: attribute key must not be empty", ErrInvalid)
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attributes (id, person_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, uuid.New().String(), personID, key, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to set attribute: %w", err)
	}
	return nil
}

// Handles lists a person's handles.
func (s *Store) Handles(ctx context.Context, personID string) ([]Handle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, raw, canonical, type, created_at
		FROM handles WHERE person_id = ?
		ORDER BY type, canonical
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query handles: %w", err)
	}
	defer rows.Close()

	var handles []Handle
	for rows.Next() {
		var h Handle
		var typ string
		var createdAt int64
		if err := rows.Scan(&h.ID, &h.PersonID, &h.Raw, &h.Canonical, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan handle: %w", err)
		}
		h.Type = canonical.HandleType(typ)
		h.CreatedAt = time.Unix(createdAt, 0)
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

// Aliases lists a person's aliases, primary first.
func (s *Store) Aliases(ctx context.Context, personID string) ([]Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, name, name_lower, is_primary
		FROM aliases WHERE person_id = ?
		ORDER BY is_primary DESC, name_lower
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	var aliases []Alias
	for rows.Next() {
		var a Alias
		var primary int
		if err := rows.Scan(&a.ID, &a.PersonID, &a.Name, &a.NameLower, &primary); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		a.IsPrimary = primary == 1
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// Attributes lists a person's attributes.
func (s *Store) Attributes(ctx context.Context, personID string) ([]Attribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id, key, value FROM attributes WHERE person_id = ? ORDER BY key
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer rows.Close()

	var attrs []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.PersonID, &a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// GetOwner returns the owner person, or ErrNotFound before EnsureOwner ran.
func (s *Store) GetOwner(ctx context.Context) (*Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, is_owner, auto_created, notes, created_at, updated_at
		FROM people WHERE is_owner = 1 LIMIT 1
	`)
	return scanPerson(row)
}

// EnsureOwner creates or updates the single owner person with the given
// display name and handles, atomically.
func (s *Store) EnsureOwner(ctx context.Context, displayName string, rawHandles []string) (string, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "", fmt.Errorf("%w: owner display name is required", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM people WHERE is_owner = 1 LIMIT 1`).Scan(&ownerID)
	if err == sql.ErrNoRows {
		ownerID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO people (id, display_name, is_owner, auto_created, created_at, updated_at)
			VALUES (?, ?, 1, 0, ?, ?)
		`, ownerID, displayName, now, now)
		if err != nil {
			return "", fmt.Errorf("failed to create owner: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO aliases (id, person_id, name, name_lower, is_primary, created_at)
			VALUES (?, ?, ?, ?, 1, ?)
		`, uuid.New().String(), ownerID, displayName, canonical.AliasKey(displayName), now)
		if err != nil {
			return "", fmt.Errorf("failed to create owner alias: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to look up owner: %w", err)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE people SET display_name = ?, updated_at = ? WHERE id = ?
		`, displayName, now, ownerID)
		if err != nil {
			return "", fmt.Errorf("failed to update owner: %w", err)
		}
	}

	for _, raw := range rawHandles {
		key := canonical.Handle(raw)
		if key == "" {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO handles (id, person_id, raw, canonical, type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(canonical) DO NOTHING
		`, uuid.New().String(), ownerID, raw, key, string(canonical.HandleTypeOf(raw)), now)
		if err != nil {
			return "", fmt.Errorf("failed to add owner handle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.mu.Lock()
	for _, raw := range rawHandles {
		if key := canonical.Handle(raw); key != "" {
			s.handleCache[key] = ownerID
		}
	}
	s.mu.Unlock()

	return ownerID, nil
}
