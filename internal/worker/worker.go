// Package worker runs archival jobs off the queue with bounded retries.
// Transient errors back off and retry; everything else is already
// persisted by the archiver and the job completes immediately.
package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
	"github.com/steveclarke/link-radar-sub004/internal/metrics"
)

// Archiver is the single-attempt pipeline the worker drives.
type Archiver interface {
	Call(ctx context.Context, arch archive.Archive) error
}

// Config bounds the retry behavior.
type Config struct {
	// MaxAttempts is the total number of archival attempts per job,
	// the first try included.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; each further
	// retry doubles it, plus jitter.
	BackoffBase time.Duration
}

// Worker consumes jobs and runs them to completion.
type Worker struct {
	store    archive.Store
	queue    archive.Queue
	archiver Archiver
	cfg      Config
	logger   *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Worker with sane retry defaults.
func New(store archive.Store, queue archive.Queue, archiver Archiver, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		queue:    queue,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run consumes jobs until the context is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, archive.ErrQueueClosed) {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		w.Process(ctx, job)
	}
}

// Process runs one job through the archiver, retrying transient failures
// with exponential backoff. It never returns an error: every outcome is
// either persisted on the archive or logged and dropped.
func (w *Worker) Process(ctx context.Context, job archive.Job) {
	log := w.logger.With(zap.String("bookmark_id", job.BookmarkID))

	arch, err := w.store.GetArchiveByBookmark(ctx, job.BookmarkID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			// The bookmark (and its archive, via cascade) was deleted
			// while the job sat in the queue.
			metrics.ObserveDiscard()
			log.Info("discarding job, archive no longer exists")
			return
		}
		log.Error("load archive for job", zap.Error(err))
		return
	}
	log = log.With(zap.String("archive_id", arch.ID))

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err := w.archiver.Call(ctx, arch)
		if err == nil {
			return
		}
		if !archive.IsTransient(err) {
			log.Error("archival attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		if ctx.Err() != nil {
			// Shutdown interrupted the attempt; that is not a verdict on
			// the URL. The archive stays in processing for a rerun.
			log.Info("archival interrupted by shutdown", zap.Int("attempt", attempt))
			return
		}
		lastErr = err
		if attempt == w.cfg.MaxAttempts {
			break
		}
		metrics.ObserveRetry()
		delay := w.backoff(attempt)
		log.Warn("transient failure, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := w.sleep(ctx, delay); err != nil {
			log.Info("archival interrupted by shutdown", zap.Int("attempt", attempt))
			return
		}
	}
	w.exhaust(ctx, arch.ID, lastErr, log)
}

// exhaust writes the safety-net failed transition after the final retry,
// so an archive never lingers in processing forever.
func (w *Worker) exhaust(ctx context.Context, archiveID string, lastErr error, log *zap.Logger) {
	msg := fmt.Sprintf("retries exhausted: %v", lastErr)
	if err := w.store.RecordFailure(ctx, archiveID, msg, nil); err != nil {
		log.Error("record exhausted failure", zap.Error(err))
	}
	_, err := w.store.TransitionTo(ctx, archiveID, archive.StateFailed, archive.Metadata{
		archive.MetaErrorMessage: msg,
		archive.MetaRetryCount:   w.cfg.MaxAttempts,
	})
	if err != nil {
		log.Error("transition to failed after retries", zap.Error(err))
		return
	}
	metrics.ObserveTransition(archive.StateFailed)
	metrics.ObserveTerminal(archive.StateFailed)
	log.Warn("archive failed after exhausting retries", zap.String("error", msg))
}

// backoff returns BackoffBase * 2^(attempt-1) plus up to 50% jitter.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BackoffBase << (attempt - 1)
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(half))
	if err != nil {
		return d
	}
	return d + time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pool runs a fixed number of workers over the same queue.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger
}

// NewPool builds count identically configured workers.
func NewPool(count int, store archive.Store, queue archive.Queue, archiver Archiver, cfg Config, logger *zap.Logger) *Pool {
	if count <= 0 {
		count = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{logger: logger}
	for i := 0; i < count; i++ {
		p.workers = append(p.workers, New(store, queue, archiver, cfg, logger.With(zap.Int("worker", i))))
	}
	return p
}

// Run blocks until every worker has exited.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				p.logger.Error("worker exited", zap.Error(err))
			}
		}(w)
	}
	wg.Wait()
}
