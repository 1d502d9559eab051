package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"msgvault/internal/docstore"
	"msgvault/internal/graph"
	"msgvault/internal/source"
	"msgvault/internal/testutil"
)

type fakeSource struct {
	order []string
	msgs  map[string][]source.RawMessage
}

func (f *fakeSource) Conversations(ctx context.Context) ([]string, error) {
	return f.order, nil
}

func (f *fakeSource) Messages(ctx context.Context, conversationID string) ([]source.RawMessage, error) {
	return f.msgs[conversationID], nil
}

type fakeEmbedder struct {
	calls int
	fail  error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{1, 0}
	}
	return vectors, nil
}

func testSource() *fakeSource {
	base := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC).Unix()
	dm := []source.RawMessage{
		{ID: "m1", SenderHandle: "+15551234567", Text: "dinner friday?", Timestamp: base, ConversationID: "chat-dm"},
		{ID: "m2", IsOwner: true, Text: "yes, the usual place", Timestamp: base + 60, ConversationID: "chat-dm"},
		// A long silence starts a second chunk.
		{ID: "m3", SenderHandle: "+15551234567", Text: "running ten minutes late", Timestamp: base + 3600, ConversationID: "chat-dm"},
		{ID: "m4", IsOwner: true, Text: "no worries", Timestamp: base + 3660, ConversationID: "chat-dm"},
	}
	group := []source.RawMessage{
		{ID: "g1", SenderHandle: "bob@example.com", Text: "who is bringing snacks", Timestamp: base, ConversationID: "chat-ski", GroupName: "Ski Trip", IsGroupHint: true},
		{ID: "g2", SenderHandle: "carol@example.com", Text: "I have chips covered", Timestamp: base + 30, ConversationID: "chat-ski", GroupName: "Ski Trip", IsGroupHint: true},
		{ID: "g3", IsOwner: true, Text: "drinks on me", Timestamp: base + 90, ConversationID: "chat-ski", GroupName: "Ski Trip", IsGroupHint: true},
	}
	return &fakeSource{
		order: []string{"chat-dm", "chat-ski"},
		msgs:  map[string][]source.RawMessage{"chat-dm": dm, "chat-ski": group},
	}
}

func TestIngestEndToEnd(t *testing.T) {
	db := testutil.OpenTestDB(t)
	g := graph.NewStore(db)
	docs := docstore.New(db)
	emb := &fakeEmbedder{}
	p := New(g, docs, emb, Options{Location: time.UTC}, nil)
	ctx := context.Background()

	report, err := p.Ingest(ctx, testSource())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Conversations != 2 || report.Messages != 7 {
		t.Errorf("conversations/messages = %d/%d", report.Conversations, report.Messages)
	}
	if report.ChunksBuilt != 3 {
		t.Errorf("ChunksBuilt = %d, want 3", report.ChunksBuilt)
	}
	if report.Indexed != 3 || report.Failed != 0 {
		t.Errorf("indexed/failed = %d/%d", report.Indexed, report.Failed)
	}
	if report.Embedded != 3 || report.EmbedFailed != 0 {
		t.Errorf("embedded/embed_failed = %d/%d", report.Embedded, report.EmbedFailed)
	}

	// Senders landed in the graph and resolve by handle.
	if _, err := g.ResolvePerson(ctx, "bob@example.com"); err != nil {
		t.Errorf("sender not resolvable: %v", err)
	}

	// The group chat carries its name and participants.
	chat, err := g.ResolveChat(ctx, "Ski Trip")
	if err != nil {
		t.Fatalf("ResolveChat: %v", err)
	}
	members, err := g.ChatParticipants(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("group has %d participants, want 2 (owner excluded)", len(members))
	}

	results, total, err := docs.Recent(ctx, docstore.Filters{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(results) != 3 {
		t.Errorf("indexed %d documents, want 3", total)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	db := testutil.OpenTestDB(t)
	g := graph.NewStore(db)
	docs := docstore.New(db)
	emb := &fakeEmbedder{}
	p := New(g, docs, emb, Options{Location: time.UTC}, nil)
	ctx := context.Background()

	src := testSource()
	if _, err := p.Ingest(ctx, src); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := emb.calls

	report, err := p.Ingest(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 0 {
		t.Errorf("second run indexed %d chunks", report.Indexed)
	}
	if report.ChunksKnown != 3 {
		t.Errorf("ChunksKnown = %d, want 3", report.ChunksKnown)
	}
	if emb.calls != callsAfterFirst {
		t.Error("second run spent embedding calls on known chunks")
	}
}

func TestIngestSurvivesEmbeddingFailure(t *testing.T) {
	db := testutil.OpenTestDB(t)
	g := graph.NewStore(db)
	docs := docstore.New(db)
	emb := &fakeEmbedder{fail: errors.New("quota exceeded")}
	p := New(g, docs, emb, Options{Location: time.UTC}, nil)
	ctx := context.Background()

	report, err := p.Ingest(ctx, testSource())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Indexed != 3 {
		t.Errorf("Indexed = %d, keyword-only indexing must proceed", report.Indexed)
	}
	if report.EmbedFailed != 3 || report.Embedded != 0 {
		t.Errorf("embed_failed/embedded = %d/%d", report.EmbedFailed, report.Embedded)
	}

	missing, err := docs.MissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 3 {
		t.Errorf("%d documents missing embeddings, want 3", len(missing))
	}
}

func TestIngestWithoutEmbedder(t *testing.T) {
	db := testutil.OpenTestDB(t)
	g := graph.NewStore(db)
	docs := docstore.New(db)
	p := New(g, docs, nil, Options{Location: time.UTC}, nil)

	report, err := p.Ingest(context.Background(), testSource())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Indexed != 3 || report.Embedded != 0 {
		t.Errorf("indexed/embedded = %d/%d", report.Indexed, report.Embedded)
	}
}

func TestIngestRendersResolvedNames(t *testing.T) {
	db := testutil.OpenTestDB(t)
	g := graph.NewStore(db)
	docs := docstore.New(db)
	ctx := context.Background()

	// A known contact keeps their name in transcripts; unknowns keep the
	// raw handle.
	if _, err := g.ResolveOrCreatePerson(ctx, "+15551234567", "Alice Chen"); err != nil {
		t.Fatal(err)
	}

	p := New(g, docs, nil, Options{Location: time.UTC}, nil)
	if _, err := p.Ingest(ctx, testSource()); err != nil {
		t.Fatal(err)
	}

	results, _, err := docs.Recent(ctx, docstore.Filters{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	var sawAlice, sawBobHandle bool
	for _, d := range results {
		if strings.Contains(d.Text, "[Alice Chen ") {
			sawAlice = true
		}
		if strings.Contains(d.Text, "[bob@example.com ") {
			sawBobHandle = true
		}
	}
	if !sawAlice {
		t.Error("transcript missing resolved display name")
	}
	if !sawBobHandle {
		t.Error("transcript missing raw-handle fallback")
	}
}

func TestIngestFiltersShortChunks(t *testing.T) {
	db := testutil.OpenTestDB(t)
	g := graph.NewStore(db)
	docs := docstore.New(db)
	p := New(g, docs, nil, Options{MinChunkChars: 10000, Location: time.UTC}, nil)

	report, err := p.Ingest(context.Background(), testSource())
	if err != nil {
		t.Fatal(err)
	}
	if report.ChunksShort != 3 || report.Indexed != 0 {
		t.Errorf("short/indexed = %d/%d", report.ChunksShort, report.Indexed)
	}
}
