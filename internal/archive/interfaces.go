package archive

import (
	"context"
	"time"
)

// Store persists bookmarks, archives, and their transition history. The
// transition operations are the only mutation point for archive state;
// implementations must guarantee that TransitionTo is atomic and that exactly
// one transition per archive carries the most-recent flag at any time.
type Store interface {
	CreateBookmark(ctx context.Context, b Bookmark) error
	GetBookmark(ctx context.Context, id string) (Bookmark, error)
	// DeleteBookmark removes the bookmark, its archive, and all transitions
	// in one transactional boundary.
	DeleteBookmark(ctx context.Context, id string) error

	// CreateArchive inserts the archive row together with its initial
	// pending transition (sort_key 1, most_recent), so the most-recent
	// invariant holds from birth.
	CreateArchive(ctx context.Context, a Archive) (Transition, error)
	GetArchive(ctx context.Context, id string) (Archive, error)
	GetArchiveByBookmark(ctx context.Context, bookmarkID string) (Archive, error)

	// CurrentState reads the state recorded by the most-recent transition.
	CurrentState(ctx context.Context, archiveID string) (State, error)
	// TransitionTo atomically demotes the current most-recent transition and
	// inserts a new one with the next sort key. It returns an
	// *InvalidTransitionError when the change is not in the transition
	// table, writing nothing.
	TransitionTo(ctx context.Context, archiveID string, to State, meta Metadata) (Transition, error)
	ListTransitions(ctx context.Context, archiveID string) ([]Transition, error)
	// DeleteMostRecentTransition is an administrative correction: it removes
	// the latest transition and re-flags the next-highest sort_key row.
	DeleteMostRecentTransition(ctx context.Context, archiveID string) error

	// SaveExtraction writes the extracted fields and fetched_at onto the
	// archive row after a successful fetch.
	SaveExtraction(ctx context.Context, archiveID string, ex Extraction, fetchedAt time.Time) error
	// RecordFailure sets error_message, and fetched_at when the failure
	// concluded a fetch attempt (nil for pre-fetch failures).
	RecordFailure(ctx context.Context, archiveID string, errMsg string, fetchedAt *time.Time) error
}

// Queue provides enqueue/dequeue semantics for archival jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Publisher pushes terminal-state events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw HTML snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces bookmark and archive IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
