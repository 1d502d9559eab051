// Package pipeline orchestrates ingest: resolve identities, chunk, enrich,
// embed, index. Chunk ids are content hashes, so a re-run over the same
// window upserts the same rows and only new chunks cost an embedding call.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msgvault/internal/chunker"
	"msgvault/internal/docstore"
	"msgvault/internal/enrich"
	"msgvault/internal/graph"
	"msgvault/internal/source"
)

const (
	defaultBatchSize   = 20
	defaultConcurrency = 2
)

// Embedder is the batch embedding capability. Optional: without one, chunks
// index keyword-only.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Options tune an ingest run.
type Options struct {
	MinChunkChars int
	BatchSize     int
	Concurrency   int
	Location      *time.Location
}

// Report counts what one ingest run did. Batch failures are counted, not
// fatal: one bad batch never aborts the run.
type Report struct {
	Conversations int              `json:"conversations"`
	Messages      int              `json:"messages"`
	ChunksBuilt   int              `json:"chunks_built"`
	ChunksShort   int              `json:"chunks_short"`
	ChunksKnown   int              `json:"chunks_known"`
	Indexed       int              `json:"indexed"`
	Failed        int              `json:"failed"`
	Embedded      int              `json:"embedded"`
	EmbedFailed   int              `json:"embed_failed"`
	Perf          map[string]int64 `json:"perf_ms"`
}

// Pipeline wires the stores and capabilities of an ingest run.
type Pipeline struct {
	graph    *graph.Store
	docs     *docstore.Store
	embedder Embedder
	opts     Options
	logger   *zap.Logger
}

// New builds a Pipeline. embedder may be nil; a nil logger is replaced with
// a no-op one.
func New(g *graph.Store, docs *docstore.Store, embedder Embedder, opts Options, logger *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{graph: g, docs: docs, embedder: embedder, opts: opts, logger: logger}
}

// Ingest runs the full pass over a message source.
func (p *Pipeline) Ingest(ctx context.Context, src source.MessageSource) (*Report, error) {
	report := &Report{Perf: map[string]int64{}}
	start := time.Now()

	existing, err := p.docs.ExistingIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexed ids: %w", err)
	}

	conversations, err := src.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	names := p.nameResolver(ctx)
	chk := chunker.New(names, p.opts.Location)

	var fresh []enrich.EnrichedChunk
	resolveStart := time.Now()
	for _, conv := range conversations {
		msgs, err := src.Messages(ctx, conv)
		if err != nil {
			p.logger.Warn("skipping conversation", zap.String("conversation", conv), zap.Error(err))
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		report.Conversations++
		report.Messages += len(msgs)

		if err := p.resolveConversation(ctx, conv, msgs); err != nil {
			return nil, err
		}

		chunks := chk.Split(msgs)
		report.ChunksBuilt += len(chunks)

		kept := chunker.FilterChunks(chunks, p.opts.MinChunkChars)
		report.ChunksShort += len(chunks) - len(kept)

		unseen := chunker.DeduplicateChunks(kept, existing)
		report.ChunksKnown += len(kept) - len(unseen)

		for _, ch := range unseen {
			existing[ch.ID] = true
			fresh = append(fresh, enrich.Enrich(ch, p.opts.Location))
		}
	}
	report.Perf["resolve_chunk"] = time.Since(resolveStart).Milliseconds()

	indexStart := time.Now()
	p.indexBatches(ctx, fresh, report)
	report.Perf["embed_index"] = time.Since(indexStart).Milliseconds()
	report.Perf["total"] = time.Since(start).Milliseconds()

	p.logger.Info("ingest complete",
		zap.Int("conversations", report.Conversations),
		zap.Int("indexed", report.Indexed),
		zap.Int("known", report.ChunksKnown),
		zap.Int("failed", report.Failed))
	return report, nil
}

// resolveConversation registers the chat, its participants, and every
// sender in the entity graph.
func (p *Pipeline) resolveConversation(ctx context.Context, conv string, msgs []source.RawMessage) error {
	groupName := ""
	isGroup := false
	for _, m := range msgs {
		if m.GroupName != "" && groupName == "" {
			groupName = m.GroupName
		}
		isGroup = isGroup || m.IsGroupHint
	}

	chatID, err := p.graph.ResolveOrCreateChat(ctx, conv, groupName, isGroup)
	if err != nil {
		return fmt.Errorf("failed to resolve chat %s: %w", conv, err)
	}

	seen := map[string]bool{}
	for _, m := range msgs {
		if m.IsOwner || m.SenderHandle == "" || seen[m.SenderHandle] {
			continue
		}
		seen[m.SenderHandle] = true
		personID, err := p.graph.ResolveOrCreatePerson(ctx, m.SenderHandle, "")
		if err != nil {
			return fmt.Errorf("failed to resolve sender %s: %w", m.SenderHandle, err)
		}
		if err := p.graph.AddChatParticipant(ctx, chatID, personID, m.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// nameResolver maps raw handles to display names through the graph,
// memoized per run. Unknown handles resolve to themselves.
func (p *Pipeline) nameResolver(ctx context.Context) source.NameResolver {
	var mu sync.Mutex
	cache := map[string]string{}
	return source.NameResolverFunc(func(handle string) string {
		mu.Lock()
		if name, ok := cache[handle]; ok {
			mu.Unlock()
			return name
		}
		mu.Unlock()

		name := handle
		if id, err := p.graph.ResolveOrCreatePerson(ctx, handle, ""); err == nil {
			if person, err := p.graph.GetPerson(ctx, id); err == nil {
				name = person.DisplayName
			}
		}

		mu.Lock()
		cache[handle] = name
		mu.Unlock()
		return name
	})
}

// indexBatches embeds and upserts in bounded concurrent batches. Failures
// are per-batch: they are logged and counted while the rest proceeds.
func (p *Pipeline) indexBatches(ctx context.Context, docs []enrich.EnrichedChunk, report *Report) {
	if len(docs) == 0 {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for begin := 0; begin < len(docs); begin += p.opts.BatchSize {
		end := begin + p.opts.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[begin:end]

		g.Go(func() error {
			embedded := 0
			if p.embedder != nil {
				texts := make([]string, len(batch))
				for i, d := range batch {
					texts[i] = d.Text
				}
				vectors, err := p.embedder.EmbedBatch(gctx, texts)
				if err != nil {
					p.logger.Warn("embedding batch failed, indexing keyword-only",
						zap.Int("size", len(batch)), zap.Error(err))
					mu.Lock()
					report.EmbedFailed += len(batch)
					mu.Unlock()
				} else {
					for i := range batch {
						if len(vectors[i]) > 0 {
							batch[i].Embedding = vectors[i]
							embedded++
						}
					}
				}
			}

			if err := p.docs.Upsert(gctx, batch); err != nil {
				p.logger.Warn("index batch failed", zap.Int("size", len(batch)), zap.Error(err))
				mu.Lock()
				report.Failed += len(batch)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			report.Indexed += len(batch)
			report.Embedded += embedded
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
}
