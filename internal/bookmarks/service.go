// Package bookmarks exposes bookmark CRUD and kicks off content archival.
package bookmarks

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

// Config toggles archival on bookmark creation.
type Config struct {
	ArchivalEnabled bool
}

// Service owns bookmark lifecycle. Archival work is handed to the queue;
// bookmark creation never waits on the network.
type Service struct {
	store  archive.Store
	queue  archive.Queue
	ids    archive.IDGenerator
	clock  archive.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs the Service.
func New(store archive.Store, queue archive.Queue, ids archive.IDGenerator, clock archive.Clock, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Create stores a bookmark and, when archival is enabled, creates its
// archive in pending and enqueues the job. Archival setup failures are
// logged but never fail the bookmark itself; the user saved a link and
// that must stick.
func (s *Service) Create(ctx context.Context, rawURL, title, note string) (archive.Bookmark, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return archive.Bookmark{}, fmt.Errorf("url is required")
	}

	id, err := s.ids.NewID()
	if err != nil {
		return archive.Bookmark{}, fmt.Errorf("generate bookmark id: %w", err)
	}
	bm := archive.Bookmark{
		ID:        id,
		URL:       rawURL,
		Title:     title,
		Note:      note,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateBookmark(ctx, bm); err != nil {
		return archive.Bookmark{}, fmt.Errorf("create bookmark: %w", err)
	}

	if s.cfg.ArchivalEnabled {
		s.startArchival(ctx, bm)
	}
	return bm, nil
}

func (s *Service) startArchival(ctx context.Context, bm archive.Bookmark) {
	archiveID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate archive id", zap.String("bookmark_id", bm.ID), zap.Error(err))
		return
	}
	arch := archive.Archive{
		ID:         archiveID,
		BookmarkID: bm.ID,
		CreatedAt:  s.clock.Now(),
	}
	if _, err := s.store.CreateArchive(ctx, arch); err != nil {
		s.logger.Error("create archive", zap.String("bookmark_id", bm.ID), zap.Error(err))
		return
	}
	job := archive.Job{BookmarkID: bm.ID, Enqueued: s.clock.Now()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue archival job", zap.String("bookmark_id", bm.ID), zap.Error(err))
	}
}

// Get returns one bookmark.
func (s *Service) Get(ctx context.Context, id string) (archive.Bookmark, error) {
	return s.store.GetBookmark(ctx, id)
}

// GetArchive returns the archive attached to a bookmark.
func (s *Service) GetArchive(ctx context.Context, bookmarkID string) (archive.Archive, error) {
	return s.store.GetArchiveByBookmark(ctx, bookmarkID)
}

// Delete removes a bookmark and, via storage cascade, its archive and
// transition history. In-flight jobs for it are discarded by the worker.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteBookmark(ctx, id); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	s.logger.Info("bookmark deleted", zap.String("bookmark_id", id))
	return nil
}
