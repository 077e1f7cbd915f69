package bqstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrBatcherStopped is returned by Add once Stop has been called.
var ErrBatcherStopped = errors.New("batch inserter is stopped")

// BatchInserterConfig holds configuration for the BatchInserter.
type BatchInserterConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often a partial batch is flushed.
	InsertTimeout time.Duration // Timeout for a single flush.
}

// BatchInserterStats counts rows by flush result.
type BatchInserterStats struct {
	Inserted int64
	Failed   int64
}

// BatchInserter buffers rows of type T and writes them in batches when the
// batch is full or the flush interval elapses. A failed batch is logged and
// counted, not retried.
type BatchInserter[T any] struct {
	config    BatchInserterConfig
	inserter  DataBatchInserter[T]
	logger    zerolog.Logger
	inputChan chan *T
	stopChan  chan struct{}
	wg        sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	inserted atomic.Int64
	failed   atomic.Int64
}

// NewBatcher creates a new BatchInserter.
func NewBatcher[T any](
	config BatchInserterConfig,
	inserter DataBatchInserter[T],
	logger zerolog.Logger,
) *BatchInserter[T] {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = 30 * time.Second
	}
	return &BatchInserter[T]{
		config:    config,
		inserter:  inserter,
		logger:    logger.With().Str("component", "BatchInserter").Logger(),
		inputChan: make(chan *T, config.BatchSize*2),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the batching worker.
func (b *BatchInserter[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting BatchInserter worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Add queues item for the next batch, blocking while the buffer is full.
func (b *BatchInserter[T]) Add(ctx context.Context, item *T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBatcherStopped
	}
	select {
	case b.inputChan <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		return ErrBatcherStopped
	}
}

// Stop flushes what is buffered and waits for the worker, bounded by ctx.
func (b *BatchInserter[T]) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.logger.Info().Msg("Stopping BatchInserter...")
		close(b.stopChan)
		b.mu.Lock()
		b.stopped = true
		close(b.inputChan)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for BatchInserter worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data inserter")
	}
	stats := b.Stats()
	b.logger.Info().Int64("inserted", stats.Inserted).Int64("failed", stats.Failed).Msg("BatchInserter stopped.")
	return nil
}

// Stats returns row counts so far.
func (b *BatchInserter[T]) Stats() BatchInserterStats {
	return BatchInserterStats{
		Inserted: b.inserted.Load(),
		Failed:   b.failed.Load(),
	}
}

func (b *BatchInserter[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*T, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush must not inherit the cancelled context.
			b.flush(context.Background(), batch)
			return

		case item, ok := <-b.inputChan:
			if !ok {
				b.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
			}
		}
	}
}

func (b *BatchInserter[T]) flush(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
		b.failed.Add(int64(len(batch)))
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch.")
		return
	}
	b.inserted.Add(int64(len(batch)))
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Flushed batch.")
}
