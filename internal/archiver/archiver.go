// Package archiver orchestrates the content archival pipeline: validate the
// URL, fetch it, extract the article, and drive the archive's state machine
// to a terminal state. Only transient (timeout) fetch errors escape this
// package; every other failure is absorbed into a persisted transition.
package archiver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
	"github.com/steveclarke/link-radar-sub004/internal/fetcher"
	"github.com/steveclarke/link-radar-sub004/internal/metrics"
	"github.com/steveclarke/link-radar-sub004/internal/validator"
)

// URLValidator is the slice of the validator the archiver needs.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// ContentFetcher retrieves a URL within configured bounds.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// ContentExtractor turns raw HTML into an article extraction.
type ContentExtractor interface {
	Extract(rawHTML string, pageURL string) (archive.Extraction, error)
}

// Config controls optional archiver behavior.
type Config struct {
	// Topic, when set, receives a JSON event for every terminal transition.
	Topic string
	// SnapshotContentType is used for raw-HTML blob uploads.
	SnapshotContentType string
}

// Archiver sequences the pipeline for one archive at a time.
type Archiver struct {
	store     archive.Store
	urls      URLValidator
	fetch     ContentFetcher
	extract   ContentExtractor
	blobs     archive.BlobStore
	publisher archive.Publisher
	clock     archive.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Archiver. blobs and publisher may be nil, disabling
// snapshots and events respectively.
func New(
	store archive.Store,
	urls URLValidator,
	fetch ContentFetcher,
	extract ContentExtractor,
	blobs archive.BlobStore,
	publisher archive.Publisher,
	clock archive.Clock,
	cfg Config,
	logger *zap.Logger,
) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html; charset=utf-8"
	}
	return &Archiver{
		store:     store,
		urls:      urls,
		fetch:     fetch,
		extract:   extract,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Call runs one archival attempt for arch. It returns an
// archive.TransientError when the fetch timed out and the attempt should be
// retried; the archive is intentionally left in processing in that case.
// All permanent outcomes are persisted as terminal transitions and return
// nil. Unexpected panics are absorbed into a failed transition so a bug can
// never trigger unbounded retries.
func (a *Archiver) Call(ctx context.Context, arch archive.Archive) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("archiver panic", zap.String("archive_id", arch.ID), zap.Any("panic", r))
			a.failUnexpected(ctx, arch.ID, nil, fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	cur, err := a.store.CurrentState(ctx, arch.ID)
	if err != nil {
		return fmt.Errorf("read current state: %w", err)
	}
	if cur.Terminal() {
		// A duplicate or stale job; everything is already recorded.
		a.logger.Warn("archive already terminal",
			zap.String("archive_id", arch.ID), zap.String("state", string(cur)))
		return nil
	}

	bm, err := a.store.GetBookmark(ctx, arch.BookmarkID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			a.terminate(ctx, arch.ID, nil, cur, archive.StateFailed, "bookmark deleted before archival", archive.Metadata{
				archive.MetaDiscardReason: "bookmark_deleted",
			}, nil)
			return nil
		}
		return fmt.Errorf("load bookmark: %w", err)
	}

	// Validation runs while the archive may still be pending so that
	// invalid URLs can take the direct pending -> invalid_url exit; that
	// edge does not exist from processing.
	if err := a.urls.Validate(ctx, bm.URL); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			a.logger.Info("url rejected",
				zap.String("archive_id", arch.ID),
				zap.String("url", bm.URL),
				zap.String("reason", string(verr.Reason)),
			)
			a.terminate(ctx, arch.ID, &bm, cur, verr.State(), verr.Error(), archive.Metadata{
				archive.MetaValidationReason: string(verr.Reason),
				archive.MetaErrorMessage:     verr.Error(),
			}, nil)
			return nil
		}
		a.failUnexpected(ctx, arch.ID, &bm, err.Error())
		return nil
	}

	if cur == archive.StatePending {
		if _, terr := a.transition(ctx, arch.ID, archive.StateProcessing, nil); terr != nil {
			return fmt.Errorf("enter processing: %w", terr)
		}
	}

	res, err := a.fetch.Fetch(ctx, bm.URL)
	if err != nil {
		if archive.IsTransient(err) {
			// No terminal transition: the job runner owns the retry and
			// the archive stays in processing between attempts.
			return err
		}
		now := a.clock.Now()
		var ferr *fetcher.FetchError
		if errors.As(err, &ferr) {
			meta := archive.Metadata{archive.MetaErrorMessage: ferr.Error()}
			if ferr.StatusCode != 0 {
				meta[archive.MetaHTTPStatus] = ferr.StatusCode
			}
			a.terminate(ctx, arch.ID, &bm, archive.StateProcessing, ferr.State(), ferr.Error(), meta, &now)
			return nil
		}
		a.failUnexpected(ctx, arch.ID, &bm, err.Error())
		return nil
	}

	ex, err := a.extract.Extract(string(res.Body), res.FinalURL)
	if err != nil {
		a.failUnexpected(ctx, arch.ID, &bm, fmt.Sprintf("extract content: %v", err))
		return nil
	}

	fetchedAt := a.clock.Now()
	meta := archive.Metadata{
		archive.MetaFetchDurationMs: res.Duration.Milliseconds(),
		archive.MetaHTTPStatus:      res.StatusCode,
	}
	a.snapshot(ctx, arch.ID, res.Body, meta)

	if err := a.store.SaveExtraction(ctx, arch.ID, ex, fetchedAt); err != nil {
		a.failUnexpected(ctx, arch.ID, &bm, fmt.Sprintf("persist extraction: %v", err))
		return nil
	}
	if _, err := a.transition(ctx, arch.ID, archive.StateSuccess, meta); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	metrics.ObserveFetchDuration(res.Duration)
	a.publish(ctx, bm, arch.ID, archive.StateSuccess, ex.Title)
	a.logger.Info("archive complete",
		zap.String("archive_id", arch.ID),
		zap.String("url", bm.URL),
		zap.Int64("duration_ms", res.Duration.Milliseconds()),
	)
	return nil
}

// snapshot uploads the raw body when a blob store is configured, recording
// the content hash and snapshot URI in the transition metadata.
func (a *Archiver) snapshot(ctx context.Context, archiveID string, body []byte, meta archive.Metadata) {
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	meta[archive.MetaContentHash] = hash
	if a.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.html", archiveID, hash)
	uri, err := a.blobs.PutObject(ctx, path, a.cfg.SnapshotContentType, body)
	if err != nil {
		// Snapshots enrich the archive but the row itself holds the HTML;
		// losing one is not worth failing the whole attempt.
		a.logger.Warn("snapshot upload failed", zap.String("archive_id", archiveID), zap.Error(err))
		return
	}
	meta[archive.MetaSnapshotURI] = uri
}

// terminate records a permanent failure: error fields on the archive row,
// then the terminal transition, then the event when the bookmark is still
// known. When target is not reachable from cur (an invalid_url rejection
// surfacing on a retry attempt, when the archive is already processing) it
// falls back to failed.
func (a *Archiver) terminate(
	ctx context.Context,
	archiveID string,
	bm *archive.Bookmark,
	cur archive.State,
	target archive.State,
	errMsg string,
	meta archive.Metadata,
	fetchedAt *time.Time,
) {
	if !archive.CanTransition(cur, target) {
		if cur == archive.StatePending {
			if _, err := a.transition(ctx, archiveID, archive.StateProcessing, nil); err != nil {
				a.logger.Error("enter processing for failure", zap.String("archive_id", archiveID), zap.Error(err))
				return
			}
			cur = archive.StateProcessing
		}
		if !archive.CanTransition(cur, target) {
			target = archive.StateFailed
		}
	}
	if err := a.store.RecordFailure(ctx, archiveID, errMsg, fetchedAt); err != nil {
		a.logger.Error("record failure", zap.String("archive_id", archiveID), zap.Error(err))
	}
	if _, err := a.transition(ctx, archiveID, target, meta); err != nil {
		a.logger.Error("terminal transition failed",
			zap.String("archive_id", archiveID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return
	}
	if bm != nil {
		a.publish(ctx, *bm, archiveID, target, "")
	}
}

// failUnexpected is the catch-all for errors outside the classified
// taxonomy: it drives the archive to failed from wherever it currently is.
func (a *Archiver) failUnexpected(ctx context.Context, archiveID string, bm *archive.Bookmark, msg string) {
	cur, err := a.store.CurrentState(ctx, archiveID)
	if err != nil {
		a.logger.Error("read state for failure", zap.String("archive_id", archiveID), zap.Error(err))
		return
	}
	a.terminate(ctx, archiveID, bm, cur, archive.StateFailed, msg, archive.Metadata{
		archive.MetaErrorMessage: msg,
	}, nil)
}

// transition writes one state change and updates counters.
func (a *Archiver) transition(
	ctx context.Context,
	archiveID string,
	to archive.State,
	meta archive.Metadata,
) (archive.Transition, error) {
	tr, err := a.store.TransitionTo(ctx, archiveID, to, meta)
	if err != nil {
		return archive.Transition{}, err
	}
	metrics.ObserveTransition(to)
	if to.Terminal() {
		metrics.ObserveTerminal(to)
	}
	return tr, nil
}

// publish emits a terminal-state event for downstream consumers.
func (a *Archiver) publish(ctx context.Context, bm archive.Bookmark, archiveID string, state archive.State, title string) {
	if a.publisher == nil || a.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"bookmark_id": bm.ID,
		"archive_id":  archiveID,
		"state":       string(state),
		"url":         bm.URL,
		"title":       title,
		"timestamp":   a.clock.Now().Format(time.RFC3339),
	}
	if _, err := a.publisher.Publish(ctx, a.cfg.Topic, payload); err != nil {
		a.logger.Warn("publish archive event", zap.String("archive_id", archiveID), zap.Error(err))
	}
}
