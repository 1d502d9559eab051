package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	data := `{"id":"m2","sender_handle":"+15551234567","text":"second","timestamp":200,"conversation_id":"chat-a"}
{"id":"m1","is_owner":true,"text":"first","timestamp":100,"conversation_id":"chat-a"}

{"id":"g1","sender_handle":"bob@example.com","text":"hello","timestamp":50,"conversation_id":"chat-b","group_name":"Trip","is_group_hint":true}
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenJSONL(path)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}
	ctx := context.Background()

	convs, err := src.Conversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0] != "chat-a" || convs[1] != "chat-b" {
		t.Errorf("conversations = %v", convs)
	}

	msgs, err := src.Messages(ctx, "chat-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("chat-a messages out of order: %+v", msgs)
	}
	if !msgs[0].IsOwner || msgs[0].Text != "first" {
		t.Errorf("record fields lost: %+v", msgs[0])
	}

	msgs, err = src.Messages(ctx, "chat-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].GroupName != "Trip" || !msgs[0].IsGroupHint {
		t.Errorf("chat-b = %+v", msgs)
	}
}

func TestOpenJSONLRejectsBadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte(`{"id":"m1","text":"no conversation","timestamp":1}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenJSONL(path); err == nil {
		t.Error("expected error for record without conversation_id")
	}

	if err := os.WriteFile(path, []byte("not json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenJSONL(path); err == nil {
		t.Error("expected error for malformed json")
	}

	if _, err := OpenJSONL(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}
