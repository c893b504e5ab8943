package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/vectorstore"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Source is one document to ingest.
type Source struct {
	// ID is the source_id. When set it overrides any source_id in Metadata.
	ID       string
	Text     string
	Metadata core.Metadata
}

// Result describes the outcome of ingesting one source.
type Result struct {
	SourceID string
	IDs      []core.ID
	Deleted  int // records removed first by a replace
	Err      error
}

// Pipeline orchestrates ingestion of sources into a vector store.
type Pipeline struct {
	store          vectorstore.VectorStore
	pool           *ants.Pool
	locks          *keyLock
	chunkSize      int
	chunkOverlap   int
	maxAttempts    int
	baseDelay      time.Duration
	progressWriter io.Writer
	reportInterval int
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for bulk ingestion.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunking sets the chunk size and overlap passed to the store.
// Default is vectorstore.DefaultChunkSize and vectorstore.DefaultChunkOverlap.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if err := core.ValidateChunkParams(size, overlap); err != nil {
			return err
		}
		p.chunkSize = size
		p.chunkOverlap = overlap
		return nil
	}
}

// WithRetry sets the retry policy for embedding and storage failures.
// maxAttempts of 1 disables retries.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.baseDelay = baseDelay
		return nil
	}
}

// WithProgress reports bulk ingestion progress to w every interval sources.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		p.progressWriter = w
		p.reportInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store vectorstore.VectorStore, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	// Create pipeline with defaults
	p := &Pipeline{
		store:          store,
		pool:           pool,
		locks:          newKeyLock(),
		chunkSize:      vectorstore.DefaultChunkSize,
		chunkOverlap:   vectorstore.DefaultChunkOverlap,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		reportInterval: 10,
		logger:         slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	return p, nil
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// sourceMetadata returns the metadata stored for src.
func sourceMetadata(src Source) (string, core.Metadata) {
	md := src.Metadata.Clone()
	if src.ID != "" {
		md[core.SourceIDKey] = src.ID
	}
	sourceID, _ := md.SourceID()
	return sourceID, md
}

// Ingest chunks and stores a source. Writes for the same source are serialized.
func (p *Pipeline) Ingest(ctx context.Context, src Source) (Result, error) {
	return p.run(ctx, src, false, p.logger)
}

// Replace deletes every record of a source and stores it again.
// The delete and the re-ingest run under the source's lock.
func (p *Pipeline) Replace(ctx context.Context, src Source) (Result, error) {
	return p.run(ctx, src, true, p.logger)
}

// Delete removes every record of a source under the source's lock.
func (p *Pipeline) Delete(ctx context.Context, sourceID string) (core.DeleteResult, error) {
	if err := core.ValidateSourceID(sourceID); err != nil {
		return core.DeleteResult{}, err
	}
	unlock := p.locks.Lock(sourceID)
	defer unlock()

	var result core.DeleteResult
	err := RetryWithBackoff(ctx, p.logger, func() error {
		var err error
		result, err = p.store.DeleteEmbeddings(ctx, sourceID)
		return err
	}, p.maxAttempts, p.baseDelay)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, src Source, replace bool, logger *slog.Logger) (Result, error) {
	sourceID, md := sourceMetadata(src)
	result := Result{SourceID: sourceID}
	if err := core.ValidateMetadata(md); err != nil {
		result.Err = err
		return result, err
	}

	unlock := p.locks.Lock(sourceID)
	defer unlock()

	logger = logger.With("source_id", sourceID)
	start := time.Now()

	if replace {
		err := RetryWithBackoff(ctx, logger, func() error {
			deleted, err := p.store.DeleteEmbeddings(ctx, sourceID)
			result.Deleted = deleted.DeletedCount
			return err
		}, p.maxAttempts, p.baseDelay)
		if err != nil {
			result.Err = fmt.Errorf("replace %s: %w", sourceID, err)
			return result, result.Err
		}
	}

	err := RetryWithBackoff(ctx, logger, func() error {
		ids, err := p.store.SplitAndStoreText(ctx, src.Text, md, p.chunkSize, p.chunkOverlap)
		result.IDs = ids
		return err
	}, p.maxAttempts, p.baseDelay)
	if err != nil {
		logger.Error("ingestion failed", "kind", core.Kind(err), "err", err)
		result.Err = err
		return result, err
	}

	logger.Debug("ingested source", "chunks", len(result.IDs), "deleted", result.Deleted, "elapsed", time.Since(start))
	return result, nil
}

// IngestAll ingests sources concurrently on the worker pool.
// Results are returned in input order. The error joins every per-source
// failure; sources that succeeded stay stored.
func (p *Pipeline) IngestAll(ctx context.Context, sources []Source, replace bool) ([]Result, error) {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("starting bulk ingestion", "sources", len(sources), "replace", replace)

	var progress *ProgressTracker
	if p.progressWriter != nil {
		progress = NewProgressTracker(p.progressWriter, len(sources), p.reportInterval)
		progress.Start()
	}

	results := make([]Result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i], _ = p.run(ctx, src, replace, logger)
			if progress != nil {
				progress.Done(len(results[i].IDs), results[i].Err != nil)
			}
		})
		if err != nil {
			wg.Done()
			sourceID, _ := sourceMetadata(src)
			results[i] = Result{SourceID: sourceID, Err: err}
		}
	}
	wg.Wait()

	if progress != nil {
		progress.Finish()
	}

	var errs []error
	chunks := 0
	for _, r := range results {
		chunks += len(r.IDs)
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", r.SourceID, r.Err))
		}
	}
	logger.Info("finished bulk ingestion", "sources", len(sources), "chunks", chunks, "failed", len(errs))
	return results, errors.Join(errs...)
}
