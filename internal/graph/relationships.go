package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Relationship types form a closed enum. InverseRelationship maps each type
// to the type written on the mirrored direction.
const (
	RelSpouse    = "spouse"
	RelPartner   = "partner"
	RelParent    = "parent"
	RelChild     = "child"
	RelSibling   = "sibling"
	RelFamily    = "family"
	RelFriend    = "friend"
	RelColleague = "colleague"
	RelOther     = "other"
)

var inverseRelationship = map[string]string{
	RelSpouse:    RelSpouse,
	RelPartner:   RelPartner,
	RelParent:    RelChild,
	RelChild:     RelParent,
	RelSibling:   RelSibling,
	RelFamily:    RelFamily,
	RelFriend:    RelFriend,
	RelColleague: RelColleague,
	RelOther:     RelOther,
}

// InverseRelationship returns the mirrored type, or "" for an unknown type.
func InverseRelationship(relType string) string {
	return inverseRelationship[relType]
}

// LinkRelationship writes both directions of a relationship in one
// transaction. The mirrored-pair invariant (both directions exist or
// neither) is enforced here, not by caller discipline.
func (s *Store) LinkRelationship(ctx context.Context, fromID, toID, relType, description string) error {
	inverse, ok := inverseRelationship[relType]
	if !ok {
		return fmt.Errorf("%w: unknown relationship type %q", ErrInvalid, relType)
	}
	if fromID == toID {
		return fmt.Errorf("%w: cannot relate a person to themselves", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Both endpoints must exist before anything is written.
	for _, id := range []string{fromID, toID} {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM people WHERE id = ?`, id).Scan(&one); err != nil {
			return fmt.Errorf("%w: person %s", ErrNotFound, id)
		}
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relationships (id, from_person_id, to_person_id, type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_person_id, to_person_id, type) DO UPDATE SET description = excluded.description
	`, uuid.New().String(), fromID, toID, relType, description, now)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relationships (id, from_person_id, to_person_id, type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_person_id, to_person_id, type) DO UPDATE SET description = excluded.description
	`, uuid.New().String(), toID, fromID, inverse, description, now)
	if err != nil {
		return fmt.Errorf("failed to insert mirrored relationship: %w", err)
	}

	return tx.Commit()
}

// UnlinkRelationship removes both directions atomically.
func (s *Store) UnlinkRelationship(ctx context.Context, fromID, toID, relType string) error {
	inverse, ok := inverseRelationship[relType]
	if !ok {
		return fmt.Errorf("%w: unknown relationship type %q", ErrInvalid, relType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE from_person_id = ? AND to_person_id = ? AND type = ?
	`, fromID, toID, relType)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE from_person_id = ? AND to_person_id = ? AND type = ?
	`, toID, fromID, inverse); err != nil {
		return fmt.Errorf("failed to delete mirrored relationship: %w", err)
	}

	return tx.Commit()
}

// Relationships lists outgoing relationships for a person.
func (s *Store) Relationships(ctx context.Context, personID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_person_id, to_person_id, type, COALESCE(description, '')
		FROM relationships WHERE from_person_id = ?
		ORDER BY type, to_person_id
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.FromPersonID, &r.ToPersonID, &r.Type, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
