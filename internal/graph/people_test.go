package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"msgvault/internal/testutil"
)

func TestResolveOrCreatePerson(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id1, err := store.ResolveOrCreatePerson(ctx, "+1 (212) 555-0123", "Alice")
	if err != nil {
		t.Fatalf("ResolveOrCreatePerson: %v", err)
	}

	// Any variant of the same number resolves to the same person.
	for _, raw := range []string{"12125550123", "tel:+12125550123", "(212) 555-0123"} {
		id, err := store.ResolveOrCreatePerson(ctx, raw, "")
		if err != nil {
			t.Fatalf("ResolveOrCreatePerson(%q): %v", raw, err)
		}
		if id != id1 {
			t.Errorf("variant %q resolved to %s, want %s", raw, id, id1)
		}
	}

	p, err := store.GetPerson(ctx, id1)
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if p.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", p.DisplayName)
	}
	if !p.AutoCreated {
		t.Error("expected auto_created person")
	}

	// A different handle creates a different person.
	id2, err := store.ResolveOrCreatePerson(ctx, "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("ResolveOrCreatePerson(email): %v", err)
	}
	if id2 == id1 {
		t.Error("distinct handles resolved to the same person")
	}
}

func TestResolveOrCreatePersonConcurrent(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	// Variants of one number race to create the person on a fresh store.
	// The unique index on the canonical handle picks the winner; losers
	// must re-read instead of erroring, leaving exactly one person.
	variants := []string{
		"+12125550123", "12125550123", "tel:+12125550123",
		"(212) 555-0123", "+1 212 555 0123", "212-555-0123",
	}
	ids := make([]string, len(variants))
	errs := make([]error, len(variants))
	var wg sync.WaitGroup
	for i, raw := range variants {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			ids[i], errs[i] = store.ResolveOrCreatePerson(ctx, raw, "")
		}(i, raw)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("ResolveOrCreatePerson(%q): %v", variants[i], err)
		}
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("variant %q resolved to %s, want %s", variants[i], id, ids[0])
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM people`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("got %d people, want 1", count)
	}
}

func TestResolveOrCreatePersonNoNameHint(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.ResolveOrCreatePerson(ctx, "+12125550199", "")
	if err != nil {
		t.Fatalf("ResolveOrCreatePerson: %v", err)
	}
	p, err := store.GetPerson(ctx, id)
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	// Without a hint the raw handle stands in for the name.
	if p.DisplayName != "+12125550199" {
		t.Errorf("DisplayName = %q, want raw handle", p.DisplayName)
	}
}

func TestResolveOrCreatePersonEmptyHandle(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)

	_, err := store.ResolveOrCreatePerson(context.Background(), "tel:", "X")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestAddHandle(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	aliceID, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	bobID, err := store.ResolveOrCreatePerson(ctx, "+12125550124", "Bob")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AddHandle(ctx, aliceID, "alice@example.com"); err != nil {
		t.Fatalf("AddHandle: %v", err)
	}

	// The new handle now resolves to Alice.
	id, err := store.ResolveOrCreatePerson(ctx, "ALICE@example.com ", "")
	if err != nil {
		t.Fatal(err)
	}
	if id != aliceID {
		t.Errorf("email resolved to %s, want %s", id, aliceID)
	}

	// Re-adding an owned handle is a no-op.
	if err := store.AddHandle(ctx, aliceID, "mailto:alice@example.com"); err != nil {
		t.Errorf("re-adding own handle: %v", err)
	}

	// Stealing a handle from another person is rejected.
	err = store.AddHandle(ctx, bobID, "alice@example.com")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid stealing a handle, got %v", err)
	}
}

func TestUpdatePerson(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "")
	if err != nil {
		t.Fatal(err)
	}

	name := "Alice Chen"
	notes := "met at the conference"
	if err := store.UpdatePerson(ctx, id, PersonUpdate{DisplayName: &name, Notes: &notes}); err != nil {
		t.Fatalf("UpdatePerson: %v", err)
	}

	p, err := store.GetPerson(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "Alice Chen" {
		t.Errorf("DisplayName = %q", p.DisplayName)
	}
	if p.Notes != notes {
		t.Errorf("Notes = %q", p.Notes)
	}
	if p.AutoCreated {
		t.Error("edit should clear auto_created")
	}

	// The new name is searchable as an alias.
	found, err := store.ResolvePerson(ctx, "alice chen")
	if err != nil {
		t.Fatalf("ResolvePerson: %v", err)
	}
	if found.ID != id {
		t.Errorf("resolved %s, want %s", found.ID, id)
	}

	empty := ""
	if err := store.UpdatePerson(ctx, id, PersonUpdate{DisplayName: &empty}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for empty name, got %v", err)
	}
	if err := store.UpdatePerson(ctx, "missing", PersonUpdate{Notes: &notes}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddAliasPrimary(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AddAlias(ctx, id, "Ali", false); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}
	if err := store.AddAlias(ctx, id, "Alice C", true); err != nil {
		t.Fatalf("AddAlias primary: %v", err)
	}

	aliases, err := store.Aliases(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 3 {
		t.Fatalf("got %d aliases, want 3", len(aliases))
	}
	var primaries int
	for _, a := range aliases {
		if a.IsPrimary {
			primaries++
			if a.Name != "Alice C" {
				t.Errorf("primary alias = %q, want Alice C", a.Name)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("got %d primary aliases, want 1", primaries)
	}
}

func TestSetAttribute(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetAttribute(ctx, id, "birthday", "1990-04-01"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetAttribute(ctx, id, "birthday", "1990-04-02"); err != nil {
		t.Fatal(err)
	}

	attrs, err := store.Attributes(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 1 {
		t.Fatalf("got %d attributes, want 1", len(attrs))
	}
	if attrs[0].Value != "1990-04-02" {
		t.Errorf("attribute value = %q, want the upserted one", attrs[0].Value)
	}
}

func TestEnsureOwner(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	if _, err := store.GetOwner(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before bootstrap, got %v", err)
	}

	id1, err := store.EnsureOwner(ctx, "Me", []string{"+12125550100", "me@example.com"})
	if err != nil {
		t.Fatalf("EnsureOwner: %v", err)
	}

	owner, err := store.GetOwner(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if owner.ID != id1 || !owner.IsOwner {
		t.Errorf("owner = %+v", owner)
	}

	// Owner handles resolve straight to the owner.
	id, err := store.ResolveOrCreatePerson(ctx, "ME@example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if id != id1 {
		t.Errorf("owner handle resolved to %s, want %s", id, id1)
	}

	// Re-running updates in place; there is never a second owner.
	id2, err := store.EnsureOwner(ctx, "Jordan", []string{"+12125550100"})
	if err != nil {
		t.Fatalf("EnsureOwner again: %v", err)
	}
	if id2 != id1 {
		t.Errorf("second EnsureOwner created %s, want %s", id2, id1)
	}
	owner, err = store.GetOwner(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if owner.DisplayName != "Jordan" {
		t.Errorf("DisplayName = %q, want Jordan", owner.DisplayName)
	}
}

func TestListPeople(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for _, p := range []struct{ handle, name string }{
		{"+12125550101", "Carol"},
		{"+12125550102", "alice"},
		{"+12125550103", "Bob"},
	} {
		if _, err := store.ResolveOrCreatePerson(ctx, p.handle, p.name); err != nil {
			t.Fatal(err)
		}
	}

	people, err := store.ListPeople(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(people) != 3 {
		t.Fatalf("got %d people, want 3", len(people))
	}
	if people[0].DisplayName != "alice" || people[1].DisplayName != "Bob" || people[2].DisplayName != "Carol" {
		t.Errorf("unexpected order: %s, %s, %s", people[0].DisplayName, people[1].DisplayName, people[2].DisplayName)
	}
}
