package graph

import (
	"context"
	"errors"
	"testing"

	"msgvault/internal/testutil"
)

func TestResolveOrCreateChat(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id1, err := store.ResolveOrCreateChat(ctx, "chat-1", "Family", true)
	if err != nil {
		t.Fatalf("ResolveOrCreateChat: %v", err)
	}
	id2, err := store.ResolveOrCreateChat(ctx, "chat-1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1 {
		t.Errorf("same external id resolved to %s and %s", id1, id2)
	}

	c, err := store.GetChat(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if c.DisplayName != "Family" || !c.IsGroupChat || !c.AutoCreated {
		t.Errorf("chat = %+v", c)
	}

	if _, err := store.ResolveOrCreateChat(ctx, "  ", "", false); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for blank external id, got %v", err)
	}
}

func TestUpdateChat(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.ResolveOrCreateChat(ctx, "chat-1", "", false)
	if err != nil {
		t.Fatal(err)
	}

	name := "Ski Trip"
	group := true
	if err := store.UpdateChat(ctx, id, ChatUpdate{DisplayName: &name, IsGroupChat: &group}); err != nil {
		t.Fatalf("UpdateChat: %v", err)
	}

	c, err := store.GetChat(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.DisplayName != "Ski Trip" || !c.IsGroupChat || c.AutoCreated {
		t.Errorf("chat after update = %+v", c)
	}

	// The new name resolves as an alias.
	found, err := store.ResolveChat(ctx, "ski trip")
	if err != nil {
		t.Fatalf("ResolveChat: %v", err)
	}
	if found.ID != id {
		t.Errorf("resolved %s, want %s", found.ID, id)
	}

	if err := store.UpdateChat(ctx, "missing", ChatUpdate{DisplayName: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChatParticipants(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	chatID, err := store.ResolveOrCreateChat(ctx, "chat-1", "Trip", true)
	if err != nil {
		t.Fatal(err)
	}
	personID, err := store.ResolveOrCreatePerson(ctx, "+12125550123", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AddChatParticipant(ctx, chatID, personID, 2000); err != nil {
		t.Fatal(err)
	}
	// Earlier sighting pulls joined_at back; later one does not.
	if err := store.AddChatParticipant(ctx, chatID, personID, 1000); err != nil {
		t.Fatal(err)
	}
	if err := store.AddChatParticipant(ctx, chatID, personID, 3000); err != nil {
		t.Fatal(err)
	}

	parts, err := store.ChatParticipants(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 {
		t.Fatalf("got %d participants, want 1", len(parts))
	}
	if parts[0].JoinedAt == nil || *parts[0].JoinedAt != 1000 {
		t.Errorf("joined_at = %v, want 1000", parts[0].JoinedAt)
	}

	if err := store.MarkParticipantLeft(ctx, chatID, personID, 4000); err != nil {
		t.Fatal(err)
	}
	parts, err = store.ChatParticipants(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if parts[0].LeftAt == nil || *parts[0].LeftAt != 4000 {
		t.Errorf("left_at = %v, want 4000", parts[0].LeftAt)
	}
}
