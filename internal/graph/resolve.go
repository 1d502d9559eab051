package graph

import (
	"context"
	"fmt"
	"strings"

	"msgvault/internal/canonical"
)

// ResolvePerson finds a person from free-form input using staged lookup:
// exact canonical handle, exact alias (case-insensitive), substring of
// display name, substring of alias. The first stage that yields exactly one
// match wins; a stage with two or more candidates stops the search and
// returns an AmbiguousError; zero matches falls through to the next stage.
func (s *Store) ResolvePerson(ctx context.Context, query string) (*Person, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalid)
	}

	stages := []struct {
		matchedOn string
		sql       string
		arg       string
	}{
		{
			matchedOn: "handle",
			sql: `SELECT p.id, p.display_name FROM people p
			      JOIN handles h ON h.person_id = p.id
			      WHERE h.canonical = ?`,
			arg: canonical.Handle(query),
		},
		{
			matchedOn: "alias",
			sql: `SELECT DISTINCT p.id, p.display_name FROM people p
			      JOIN aliases a ON a.person_id = p.id
			      WHERE a.name_lower = ?`,
			arg: canonical.AliasKey(query),
		},
		{
			matchedOn: "name",
			sql: `SELECT p.id, p.display_name FROM people p
			      WHERE LOWER(p.display_name) LIKE ? ESCAPE '\'`,
			arg: "%" + escapeLike(canonical.AliasKey(query)) + "%",
		},
		{
			matchedOn: "alias",
			sql: `SELECT DISTINCT p.id, p.display_name FROM people p
			      JOIN aliases a ON a.person_id = p.id
			      WHERE a.name_lower LIKE ? ESCAPE '\'`,
			arg: "%" + escapeLike(canonical.AliasKey(query)) + "%",
		},
	}

	for _, stage := range stages {
		if stage.arg == "" || stage.arg == "%%" {
			continue
		}
		candidates, err := s.queryCandidates(ctx, stage.sql, stage.arg, stage.matchedOn)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return s.GetPerson(ctx, candidates[0].ID)
		default:
			return nil, &AmbiguousError{Query: query, Candidates: candidates}
		}
	}

	return nil, ErrNotFound
}

// ResolveChat mirrors ResolvePerson over chats: exact external id, exact
// chat name, exact alias, then substring name/alias.
func (s *Store) ResolveChat(ctx context.Context, query string) (*Chat, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalid)
	}

	lower := canonical.AliasKey(query)
	stages := []struct {
		matchedOn string
		sql       string
		arg       string
	}{
		{
			matchedOn: "external_id",
			sql:       `SELECT id, COALESCE(display_name, external_id) FROM chats WHERE external_id = ?`,
			arg:       query,
		},
		{
			matchedOn: "name",
			sql:       `SELECT id, COALESCE(display_name, external_id) FROM chats WHERE LOWER(display_name) = ?`,
			arg:       lower,
		},
		{
			matchedOn: "alias",
			sql: `SELECT DISTINCT c.id, COALESCE(c.display_name, c.external_id) FROM chats c
			      JOIN chat_aliases a ON a.chat_id = c.id
			      WHERE a.name_lower = ?`,
			arg: lower,
		},
		{
			matchedOn: "name",
			sql:       `SELECT id, COALESCE(display_name, external_id) FROM chats WHERE LOWER(display_name) LIKE ? ESCAPE '\'`,
			arg:       "%" + escapeLike(lower) + "%",
		},
		{
			matchedOn: "alias",
			sql: `SELECT DISTINCT c.id, COALESCE(c.display_name, c.external_id) FROM chats c
			      JOIN chat_aliases a ON a.chat_id = c.id
			      WHERE a.name_lower LIKE ? ESCAPE '\'`,
			arg: "%" + escapeLike(lower) + "%",
		},
	}

	for _, stage := range stages {
		candidates, err := s.queryCandidates(ctx, stage.sql, stage.arg, stage.matchedOn)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return s.GetChat(ctx, candidates[0].ID)
		default:
			return nil, &AmbiguousError{Query: query, Candidates: candidates}
		}
	}

	return nil, ErrNotFound
}

func (s *Store) queryCandidates(ctx context.Context, querySQL, arg, matchedOn string) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, querySQL, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.MatchedOn = matchedOn
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
