package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MergeResult reports what a merge moved. Skipped aliases and attributes are
// named explicitly so callers can audit what was dropped as a duplicate.
type MergeResult struct {
	KeepID              string   `json:"keep_id"`
	MergedID            string   `json:"merged_id"`
	HandlesMoved        int      `json:"handles_moved"`
	AliasesMoved        int      `json:"aliases_moved"`
	AliasesSkipped      []string `json:"aliases_skipped,omitempty"`
	RelationshipsMoved  int      `json:"relationships_moved"`
	AttributesMoved     int      `json:"attributes_moved"`
	AttributesSkipped   []string `json:"attributes_skipped,omitempty"`
	ParticipationsMoved int      `json:"participations_moved"`
}

// MergePeople folds person `mergeID` into person `keepID` in one
// transaction: handles, both relationship directions, attributes,
// non-duplicate aliases and chat participations move; the merged row is
// deleted. Denormalized references outside the graph (chunk/memory names)
// are not repointed here; the result tells the caller what changed.
func (s *Store) MergePeople(ctx context.Context, keepID, mergeID string) (*MergeResult, error) {
	if keepID == mergeID {
		return nil, fmt.Errorf("%w: cannot merge a person into themselves", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Validate both ends up front; reject merging the owner away.
	var keepOwner, mergeOwner int
	if err := tx.QueryRowContext(ctx, `SELECT is_owner FROM people WHERE id = ?`, keepID).Scan(&keepOwner); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: person %s", ErrNotFound, keepID)
		}
		return nil, fmt.Errorf("failed to load keep person: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT is_owner FROM people WHERE id = ?`, mergeID).Scan(&mergeOwner); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: person %s", ErrNotFound, mergeID)
		}
		return nil, fmt.Errorf("failed to load merge person: %w", err)
	}
	if mergeOwner == 1 {
		return nil, fmt.Errorf("%w: the owner cannot be merged away", ErrInvalid)
	}

	result := &MergeResult{KeepID: keepID, MergedID: mergeID}

	// Handles: canonical forms are globally unique, so a straight move.
	res, err := tx.ExecContext(ctx, `UPDATE handles SET person_id = ? WHERE person_id = ?`, keepID, mergeID)
	if err != nil {
		return nil, fmt.Errorf("failed to move handles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.HandlesMoved = int(n)
	}

	// Aliases: skip any lowercase form the keeper already has.
	aliasRows, err := tx.QueryContext(ctx, `
		SELECT id, name, name_lower FROM aliases WHERE person_id = ?
	`, mergeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	type aliasRow struct{ id, name, lower string }
	var mergeAliases []aliasRow
	for aliasRows.Next() {
		var a aliasRow
		if err := aliasRows.Scan(&a.id, &a.name, &a.lower); err != nil {
			aliasRows.Close()
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		mergeAliases = append(mergeAliases, a)
	}
	if err := aliasRows.Err(); err != nil {
		aliasRows.Close()
		return nil, fmt.Errorf("failed to iterate aliases: %w", err)
	}
	aliasRows.Close()

	for _, a := range mergeAliases {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM aliases WHERE person_id = ? AND name_lower = ?`, keepID, a.lower).Scan(&one)
		if err == nil {
			result.AliasesSkipped = append(result.AliasesSkipped, a.name)
			if _, err := tx.ExecContext(ctx, `DELETE FROM aliases WHERE id = ?`, a.id); err != nil {
				return nil, fmt.Errorf("failed to drop duplicate alias: %w", err)
			}
			continue
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check alias: %w", err)
		}
		// Moved aliases never steal primary from the keeper.
		if _, err := tx.ExecContext(ctx,
			`UPDATE aliases SET person_id = ?, is_primary = 0 WHERE id = ?`, keepID, a.id); err != nil {
			return nil, fmt.Errorf("failed to move alias: %w", err)
		}
		result.AliasesMoved++
	}

	// Relationships, both directions. A (keep, X, type) duplicate or a
	// now-self-referential edge is dropped instead of moved.
	for _, dir := range []struct{ col, other string }{
		{"from_person_id", "to_person_id"},
		{"to_person_id", "from_person_id"},
	} {
		delDupes := fmt.Sprintf(`
			DELETE FROM relationships WHERE %s = ? AND (
				%s = ?
				OR EXISTS (
					SELECT 1 FROM relationships r2
					WHERE r2.%s = ? AND r2.%s = relationships.%s AND r2.type = relationships.type
				)
			)`, dir.col, dir.other, dir.col, dir.other, dir.other)
		if _, err := tx.ExecContext(ctx, delDupes, mergeID, keepID, keepID); err != nil {
			return nil, fmt.Errorf("failed to prune relationships: %w", err)
		}
		move := fmt.Sprintf(`UPDATE relationships SET %s = ? WHERE %s = ?`, dir.col, dir.col)
		res, err := tx.ExecContext(ctx, move, keepID, mergeID)
		if err != nil {
			return nil, fmt.Errorf("failed to move relationships: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			result.RelationshipsMoved += int(n)
		}
	}

	// Attributes: (person, key) is unique; the keeper's value wins.
	attrRows, err := tx.QueryContext(ctx, `SELECT id, key FROM attributes WHERE person_id = ?`, mergeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes: %w", err)
	}
	type attrRow struct{ id, key string }
	var mergeAttrs []attrRow
	for attrRows.Next() {
		var a attrRow
		if err := attrRows.Scan(&a.id, &a.key); err != nil {
			attrRows.Close()
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		mergeAttrs = append(mergeAttrs, a)
	}
	if err := attrRows.Err(); err != nil {
		attrRows.Close()
		return nil, fmt.Errorf("failed to iterate attributes: %w", err)
	}
	attrRows.Close()

	for _, a := range mergeAttrs {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM attributes WHERE person_id = ? AND key = ?`, keepID, a.key).Scan(&one)
		if err == nil {
			result.AttributesSkipped = append(result.AttributesSkipped, a.key)
			if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE id = ?`, a.id); err != nil {
				return nil, fmt.Errorf("failed to drop duplicate attribute: %w", err)
			}
			continue
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check attribute: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attributes SET person_id = ? WHERE id = ?`, keepID, a.id); err != nil {
			return nil, fmt.Errorf("failed to move attribute: %w", err)
		}
		result.AttributesMoved++
	}

	// Chat participations: keep the keeper's row where both sat in a chat.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_participants WHERE person_id = ?
		AND chat_id IN (SELECT chat_id FROM chat_participants WHERE person_id = ?)
	`, mergeID, keepID); err != nil {
		return nil, fmt.Errorf("failed to prune participations: %w", err)
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE chat_participants SET person_id = ? WHERE person_id = ?`, keepID, mergeID)
	if err != nil {
		return nil, fmt.Errorf("failed to move participations: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.ParticipationsMoved = int(n)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM people WHERE id = ?`, mergeID); err != nil {
		return nil, fmt.Errorf("failed to delete merged person: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE people SET auto_created = 0, updated_at = ? WHERE id = ?`, time.Now().Unix(), keepID); err != nil {
		return nil, fmt.Errorf("failed to touch keep person: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Repoint every cached canonical form at the keeper.
	s.mu.Lock()
	for key, pid := range s.handleCache {
		if pid == mergeID {
			s.handleCache[key] = keepID
		}
	}
	s.mu.Unlock()

	return result, nil
}
