package graph

import (
	"context"
	"errors"
	"testing"

	"msgvault/internal/testutil"
)

func TestLinkRelationshipMirrored(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	parentID, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "Pat")
	if err != nil {
		t.Fatal(err)
	}
	childID, err := store.ResolveOrCreatePerson(ctx, "+12125550124", "Sam")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.LinkRelationship(ctx, parentID, childID, RelParent, "eldest"); err != nil {
		t.Fatalf("LinkRelationship: %v", err)
	}

	// Asymmetric types mirror to their inverse.
	rels, err := store.Relationships(ctx, parentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].Type != RelParent || rels[0].Description != "eldest" {
		t.Errorf("parent edges = %+v", rels)
	}
	back, err := store.Relationships(ctx, childID)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 1 || back[0].Type != RelChild {
		t.Errorf("child edges = %+v", back)
	}

	// Relinking updates the description without duplicating.
	if err := store.LinkRelationship(ctx, parentID, childID, RelParent, "only child"); err != nil {
		t.Fatal(err)
	}
	rels, err = store.Relationships(ctx, parentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].Description != "only child" {
		t.Errorf("after relink = %+v", rels)
	}
}

func TestLinkRelationshipValidation(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "Pat")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.LinkRelationship(ctx, id, id, RelFriend, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("self link: expected ErrInvalid, got %v", err)
	}
	if err := store.LinkRelationship(ctx, id, "missing", RelFriend, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing endpoint: expected ErrNotFound, got %v", err)
	}
	if err := store.LinkRelationship(ctx, id, id, "nemesis", ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown type: expected ErrInvalid, got %v", err)
	}
}

func TestUnlinkRelationship(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	aID, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "A")
	if err != nil {
		t.Fatal(err)
	}
	bID, err := store.ResolveOrCreatePerson(ctx, "+12125550124", "B")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.LinkRelationship(ctx, aID, bID, RelChild, ""); err != nil {
		t.Fatal(err)
	}

	// Unlinking from either end removes both directions.
	if err := store.UnlinkRelationship(ctx, bID, aID, RelParent); err != nil {
		t.Fatalf("UnlinkRelationship: %v", err)
	}
	for _, id := range []string{aID, bID} {
		rels, err := store.Relationships(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(rels) != 0 {
			t.Errorf("edges left on %s: %+v", id, rels)
		}
	}

	if err := store.UnlinkRelationship(ctx, aID, bID, RelChild); !errors.Is(err, ErrNotFound) {
		t.Errorf("unlink missing: expected ErrNotFound, got %v", err)
	}
}

func TestInverseRelationship(t *testing.T) {
	cases := map[string]string{
		RelParent:  RelChild,
		RelChild:   RelParent,
		RelSpouse:  RelSpouse,
		RelSibling: RelSibling,
		"nemesis":  "",
	}
	for in, want := range cases {
		if got := InverseRelationship(in); got != want {
			t.Errorf("InverseRelationship(%q) = %q, want %q", in, got, want)
		}
	}
}
