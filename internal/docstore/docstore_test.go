package docstore

import (
	"context"
	"math"
	"testing"
	"time"

	"msgvault/internal/chunker"
	"msgvault/internal/enrich"
	"msgvault/internal/source"
	"msgvault/internal/testutil"
)

func testDoc(id, conv, sender, text string, ts int64) enrich.EnrichedChunk {
	ch := chunker.Chunk{
		ID:             id,
		ConversationID: conv,
		MessageIDs:     []string{id + "-m1"},
		Messages:       []source.RawMessage{{ID: id + "-m1"}},
		Speakers:       []string{sender},
		Participants:   []string{sender, "Me"},
		StartTS:        ts,
		EndTS:          ts + 60,
		Text:           text,
	}
	e := enrich.Enrich(ch, time.UTC)
	e.Sender = sender
	return e
}

func TestUpsertIdempotent(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := New(db)
	ctx := context.Background()

	doc := testDoc("c1", "conv-1", "Alice", "dinner plans tonight", 1000)
	doc.Embedding = []float64{0.1, 0.2, 0.3}
	if err := store.Upsert(ctx, []enrich.EnrichedChunk{doc}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Re-indexing the same chunk without an embedding keeps the stored one.
	doc.Embedding = nil
	if err := store.Upsert(ctx, []enrich.EnrichedChunk{doc}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	ids, err := store.ExistingIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || !ids["c1"] {
		t.Errorf("ExistingIDs = %v", ids)
	}

	vecs, err := store.Embeddings(ctx, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs["c1"]) != 3 {
		t.Errorf("embedding lost on re-upsert: %v", vecs["c1"])
	}
}

func TestMatchAndFilters(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := New(db)
	ctx := context.Background()

	docs := []enrich.EnrichedChunk{
		testDoc("c1", "conv-1", "Alice", "dinner plans for friday", 1000),
		testDoc("c2", "conv-2", "Bob", "dinner was great", 2000),
		testDoc("c3", "conv-1", "Alice", "totally unrelated", 3000),
	}
	if err := store.Upsert(ctx, docs); err != nil {
		t.Fatal(err)
	}

	hits, err := store.Match(ctx, `"dinner"`, Filters{}, 10)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.BM25 <= 0 {
			t.Errorf("hit %s has non-positive negated BM25 %f", h.ID, h.BM25)
		}
	}

	hits, err = store.Match(ctx, `"dinner"`, Filters{Sender: "Alice"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "c1" {
		t.Errorf("sender filter hits = %+v", hits)
	}

	hits, err = store.Match(ctx, `"dinner"`, Filters{ExcludeSenders: []string{"Alice"}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "c2" {
		t.Errorf("exclude filter hits = %+v", hits)
	}

	count, err := store.CountMatches(ctx, `"dinner"`, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("CountMatches = %d, want 2", count)
	}
}

func TestParticipantFilter(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := New(db)
	ctx := context.Background()

	d1 := testDoc("c1", "conv-1", "Alice", "hello there", 1000)
	d2 := testDoc("c2", "conv-2", "Bob", "hello again", 2000)
	if err := store.Upsert(ctx, []enrich.EnrichedChunk{d1, d2}); err != nil {
		t.Fatal(err)
	}

	hits, err := store.Match(ctx, `"hello"`, Filters{Participants: []string{"Alice"}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "c1" {
		t.Errorf("participant filter hits = %+v", hits)
	}

	// Excluding DMs with Alice drops c1 (a DM) but keeps c2.
	hits, err = store.Match(ctx, `"hello"`, Filters{ExcludeDMsWith: []string{"Alice"}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "c2" {
		t.Errorf("ExcludeDMsWith hits = %+v", hits)
	}
}

func TestRecentPagination(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := New(db)
	ctx := context.Background()

	var docs []enrich.EnrichedChunk
	for i := 0; i < 5; i++ {
		docs = append(docs, testDoc(
			string(rune('a'+i)), "conv-1", "Alice", "note", int64(1000+i*100)))
	}
	if err := store.Upsert(ctx, docs); err != nil {
		t.Fatal(err)
	}

	page, total, err := store.Recent(ctx, Filters{}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d", total, len(page))
	}
	// Newest first.
	if page[0].StartTS < page[1].StartTS {
		t.Errorf("not newest-first: %d then %d", page[0].StartTS, page[1].StartTS)
	}

	page, _, err = store.Recent(ctx, Filters{}, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Errorf("last page holds %d docs, want 1", len(page))
	}
}

func TestSetEmbeddingAndMissing(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := New(db)
	ctx := context.Background()

	if err := store.Upsert(ctx, []enrich.EnrichedChunk{
		testDoc("c1", "conv-1", "Alice", "first", 1000),
		testDoc("c2", "conv-1", "Alice", "second", 2000),
	}); err != nil {
		t.Fatal(err)
	}

	missing, err := store.MissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 {
		t.Fatalf("missing = %d, want 2", len(missing))
	}

	if err := store.SetEmbedding(ctx, "c1", []float64{1, 2}); err != nil {
		t.Fatal(err)
	}
	missing, err = store.MissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0].ID != "c2" {
		t.Errorf("missing after set = %+v", missing)
	}

	if err := store.SetEmbedding(ctx, "ghost", []float64{1}); err == nil {
		t.Error("expected error embedding an unindexed chunk")
	}
}

func TestStats(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := New(db)
	ctx := context.Background()

	if err := store.Upsert(ctx, []enrich.EnrichedChunk{
		testDoc("c1", "conv-1", "Alice", "first", 1000),
		testDoc("c2", "conv-1", "Alice", "second", 5000),
		testDoc("c3", "conv-2", "Bob", "other", 3000),
	}); err != nil {
		t.Fatal(err)
	}

	st, err := store.SenderStats(ctx, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.ChunkCount != 2 || st.FirstActivity != 1000 || st.LastActivity != 5060 {
		t.Errorf("sender stats = %+v", st)
	}

	st, err = store.ConversationStats(ctx, "conv-2")
	if err != nil {
		t.Fatal(err)
	}
	if st.ChunkCount != 1 {
		t.Errorf("conversation stats = %+v", st)
	}

	st, err = store.SenderStats(ctx, "Nobody")
	if err != nil {
		t.Fatal(err)
	}
	if st.ChunkCount != 0 || st.FirstActivity != 0 {
		t.Errorf("empty stats = %+v", st)
	}
}

func TestVectorCodec(t *testing.T) {
	vec := []float64{0.25, -1.5, math.Pi}
	got := BlobToVector(VectorToBlob(vec))
	if len(got) != len(vec) {
		t.Fatalf("roundtrip length %d", len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: %f != %f", i, got[i], vec[i])
		}
	}

	if BlobToVector(nil) != nil {
		t.Error("nil blob must decode to nil")
	}
	if BlobToVector([]byte{1, 2, 3}) != nil {
		t.Error("malformed blob must decode to nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 0}
	if got := CosineSimilarity(a, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %f", got)
	}
	if got := CosineSimilarity(a, []float64{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite vectors = %f", got)
	}
	if got := CosineSimilarity(a, []float64{1, 0, 0}); got != 0 {
		t.Errorf("dimension mismatch = %f", got)
	}
	if got := CosineSimilarity(a, []float64{0, 0}); got != 0 {
		t.Errorf("zero vector = %f", got)
	}
	if got := NormalizeCosine(-1); got != 0 {
		t.Errorf("NormalizeCosine(-1) = %f", got)
	}
	if got := NormalizeCosine(1); got != 1 {
		t.Errorf("NormalizeCosine(1) = %f", got)
	}
}
