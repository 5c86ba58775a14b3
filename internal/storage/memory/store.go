// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

// Store keeps bookmarks, archives, and transitions in process memory. All
// operations are safe for concurrent use; TransitionTo serializes on the
// store mutex, which gives the same effect as the row lock the postgres
// implementation takes.
type Store struct {
	mu          sync.RWMutex
	bookmarks   map[string]archive.Bookmark
	archives    map[string]archive.Archive
	byBookmark  map[string]string
	transitions map[string][]archive.Transition
	nextID      int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		bookmarks:   make(map[string]archive.Bookmark),
		archives:    make(map[string]archive.Archive),
		byBookmark:  make(map[string]string),
		transitions: make(map[string][]archive.Transition),
	}
}

// CreateBookmark stores a new bookmark.
func (s *Store) CreateBookmark(_ context.Context, b archive.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[b.ID] = b
	return nil
}

// GetBookmark fetches a bookmark by ID.
func (s *Store) GetBookmark(_ context.Context, id string) (archive.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookmarks[id]
	if !ok {
		return archive.Bookmark{}, archive.ErrNotFound
	}
	return b, nil
}

// DeleteBookmark removes the bookmark, its archive, and all transitions.
func (s *Store) DeleteBookmark(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookmarks[id]; !ok {
		return archive.ErrNotFound
	}
	delete(s.bookmarks, id)
	if archiveID, ok := s.byBookmark[id]; ok {
		delete(s.archives, archiveID)
		delete(s.transitions, archiveID)
		delete(s.byBookmark, id)
	}
	return nil
}

// CreateArchive inserts the archive together with its initial pending
// transition.
func (s *Store) CreateArchive(_ context.Context, a archive.Archive) (archive.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[a.ID] = a
	s.byBookmark[a.BookmarkID] = a.ID
	s.nextID++
	tr := archive.Transition{
		ID:         s.nextID,
		ArchiveID:  a.ID,
		ToState:    archive.StatePending,
		SortKey:    1,
		MostRecent: true,
		CreatedAt:  time.Now().UTC(),
	}
	s.transitions[a.ID] = []archive.Transition{tr}
	return tr, nil
}

// GetArchive fetches an archive by ID.
func (s *Store) GetArchive(_ context.Context, id string) (archive.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archives[id]
	if !ok {
		return archive.Archive{}, archive.ErrNotFound
	}
	return a, nil
}

// GetArchiveByBookmark fetches the archive owned by a bookmark.
func (s *Store) GetArchiveByBookmark(_ context.Context, bookmarkID string) (archive.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byBookmark[bookmarkID]
	if !ok {
		return archive.Archive{}, archive.ErrNotFound
	}
	return s.archives[id], nil
}

// CurrentState returns the state of the most-recent transition.
func (s *Store) CurrentState(_ context.Context, archiveID string) (archive.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStateLocked(archiveID)
}

func (s *Store) currentStateLocked(archiveID string) (archive.State, error) {
	trs, ok := s.transitions[archiveID]
	if !ok || len(trs) == 0 {
		return "", archive.ErrNotFound
	}
	for i := len(trs) - 1; i >= 0; i-- {
		if trs[i].MostRecent {
			return trs[i].ToState, nil
		}
	}
	return "", archive.ErrNotFound
}

// TransitionTo demotes the current most-recent transition and appends a new
// one with the next sort key, enforcing the transition table.
func (s *Store) TransitionTo(
	_ context.Context,
	archiveID string,
	to archive.State,
	meta archive.Metadata,
) (archive.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.currentStateLocked(archiveID)
	if err != nil {
		return archive.Transition{}, err
	}
	if !archive.CanTransition(cur, to) {
		return archive.Transition{}, &archive.InvalidTransitionError{From: cur, To: to}
	}

	trs := s.transitions[archiveID]
	for i := range trs {
		trs[i].MostRecent = false
	}
	s.nextID++
	tr := archive.Transition{
		ID:         s.nextID,
		ArchiveID:  archiveID,
		ToState:    to,
		Metadata:   meta,
		SortKey:    trs[len(trs)-1].SortKey + 1,
		MostRecent: true,
		CreatedAt:  time.Now().UTC(),
	}
	s.transitions[archiveID] = append(trs, tr)
	return tr, nil
}

// ListTransitions returns the full history in sort-key order.
func (s *Store) ListTransitions(_ context.Context, archiveID string) ([]archive.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trs, ok := s.transitions[archiveID]
	if !ok {
		return nil, archive.ErrNotFound
	}
	out := make([]archive.Transition, len(trs))
	copy(out, trs)
	return out, nil
}

// DeleteMostRecentTransition removes the latest transition and re-flags the
// next-highest sort key.
func (s *Store) DeleteMostRecentTransition(_ context.Context, archiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trs, ok := s.transitions[archiveID]
	if !ok || len(trs) == 0 {
		return archive.ErrNotFound
	}
	trs = trs[:len(trs)-1]
	if len(trs) > 0 {
		trs[len(trs)-1].MostRecent = true
	}
	s.transitions[archiveID] = trs
	return nil
}

// SaveExtraction writes extracted fields and fetched_at onto the archive.
func (s *Store) SaveExtraction(
	_ context.Context,
	archiveID string,
	ex archive.Extraction,
	fetchedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[archiveID]
	if !ok {
		return archive.ErrNotFound
	}
	a.Title = ex.Title
	a.Description = ex.Description
	a.MainText = ex.MainText
	a.RawHTML = ex.RawHTML
	a.ImageURL = ex.ImageURL
	a.Metadata = ex.Metadata
	a.FetchedAt = &fetchedAt
	s.archives[archiveID] = a
	return nil
}

// RecordFailure sets error_message and, when the failure concluded a fetch,
// fetched_at.
func (s *Store) RecordFailure(
	_ context.Context,
	archiveID string,
	errMsg string,
	fetchedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[archiveID]
	if !ok {
		return archive.ErrNotFound
	}
	a.ErrorMessage = errMsg
	if fetchedAt != nil {
		a.FetchedAt = fetchedAt
	}
	s.archives[archiveID] = a
	return nil
}
