package embed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxBatchSize  = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// batchEmbedder is what the Batcher needs from the API client.
type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

type task struct {
	text   string
	result chan result
}

type result struct {
	vector []float64
	err    error
}

// Batcher coalesces concurrent Submit calls into batched API requests: a
// batch flushes when full or when the flush interval elapses.
type Batcher struct {
	client        batchEmbedder
	maxBatchSize  int
	flushInterval time.Duration
	logger        *zap.Logger

	mu    sync.Mutex
	batch []task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatcher starts a Batcher around the client. Close releases it.
func NewBatcher(client batchEmbedder, maxBatchSize int, logger *zap.Logger) *Batcher {
	if maxBatchSize <= 0 || maxBatchSize > defaultMaxBatchSize {
		maxBatchSize = defaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		client:        client,
		maxBatchSize:  maxBatchSize,
		flushInterval: defaultFlushInterval,
		logger:        logger,
		batch:         make([]task, 0, maxBatchSize),
		ctx:           ctx,
		cancel:        cancel,
	}

	b.wg.Add(1)
	go b.timerLoop()

	return b
}

// Submit queues one text and blocks until its vector (or error) arrives.
func (b *Batcher) Submit(ctx context.Context, text string) ([]float64, error) {
	t := task{text: text, result: make(chan result, 1)}

	b.mu.Lock()
	b.batch = append(b.batch, t)
	if len(b.batch) >= b.maxBatchSize {
		b.flushLocked()
	}
	b.mu.Unlock()

	select {
	case r := <-t.result:
		return r.vector, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, b.ctx.Err()
	}
}

// EmbedText is the best-effort single-text capability over the batcher:
// concurrent callers coalesce into one API call, and any failure degrades to
// nil so callers fall back to keyword-only search.
func (b *Batcher) EmbedText(ctx context.Context, text string) []float64 {
	if text == "" {
		return nil
	}
	vec, err := b.Submit(ctx, text)
	if err != nil {
		b.logger.Warn("embedding failed", zap.Error(err))
		return nil
	}
	return vec
}

// Flush sends any pending batch immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if len(b.batch) == 0 {
		return
	}
	tasks := make([]task, len(b.batch))
	copy(tasks, b.batch)
	b.batch = b.batch[:0]

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.process(tasks)
	}()
}

func (b *Batcher) process(tasks []task) {
	texts := make([]string, len(tasks))
	for i, t := range tasks {
		texts[i] = t.text
	}

	start := time.Now()
	vectors, err := b.client.EmbedBatch(b.ctx, texts)
	if err != nil {
		b.logger.Warn("embedding batch failed",
			zap.Int("size", len(tasks)),
			zap.Error(err))
		for _, t := range tasks {
			t.result <- result{err: err}
		}
		return
	}

	b.logger.Debug("embedding batch complete",
		zap.Int("size", len(tasks)),
		zap.Duration("took", time.Since(start)))
	for i, t := range tasks {
		t.result <- result{vector: vectors[i]}
	}
}

func (b *Batcher) timerLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.ctx.Done():
			return
		}
	}
}

// Close flushes pending work and stops the batcher.
func (b *Batcher) Close() {
	b.Flush()
	b.cancel()
	b.wg.Wait()
}
