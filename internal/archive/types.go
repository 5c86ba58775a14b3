// Package archive defines the core types shared across the archival pipeline.
package archive

import "time"

// State represents one step in an archive's lifecycle.
type State string

// Archive lifecycle states. All states except pending and processing are
// terminal.
const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
	StateBlocked    State = "blocked"
	StateInvalidURL State = "invalid_url"
)

// Column limits applied to extracted fields before persistence.
const (
	MaxTitleLen    = 500
	MaxImageURLLen = 2048
)

// allowedTransitions is the full transition table. States absent from the map
// are terminal.
var allowedTransitions = map[State][]State{
	StatePending:    {StateProcessing, StateBlocked, StateInvalidURL},
	StateProcessing: {StateSuccess, StateFailed, StateBlocked},
}

// AllowedTransitions returns the states reachable from the given state. The
// returned slice is a copy and may be mutated by the caller.
func AllowedTransitions(from State) []State {
	targets := allowedTransitions[from]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateBlocked, StateInvalidURL:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateSuccess, StateFailed, StateBlocked, StateInvalidURL:
		return true
	}
	return false
}

// Metadata is the schema-less payload attached to a transition. Keys are
// additive; the constants below cover the ones the pipeline itself writes.
type Metadata map[string]any

// Well-known transition metadata keys.
const (
	MetaErrorMessage     = "error_message"
	MetaValidationReason = "validation_reason"
	MetaFetchDurationMs  = "fetch_duration_ms"
	MetaRetryCount       = "retry_count"
	MetaHTTPStatus       = "http_status"
	MetaContentHash      = "content_hash"
	MetaSnapshotURI      = "snapshot_uri"
	MetaDiscardReason    = "discard_reason"
)

// Bookmark is the saved URL that owns an archive. The wider product stores
// more on a bookmark (user, tags, notes); the pipeline only needs this much.
type Bookmark struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive is the durable record of one URL's fetch attempt and its outcome.
// Extracted fields stay empty until a successful run; ErrorMessage is set
// only on permanent failure.
type Archive struct {
	ID           string     `json:"id"`
	BookmarkID   string     `json:"bookmark_id"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	MainText     string     `json:"main_text,omitempty"`
	RawHTML      string     `json:"-"`
	ImageURL     string     `json:"image_url,omitempty"`
	Metadata     Metadata   `json:"metadata,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Transition is one immutable state-change event in an archive's history.
type Transition struct {
	ID         int64     `json:"id"`
	ArchiveID  string    `json:"archive_id"`
	ToState    State     `json:"to_state"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	SortKey    int       `json:"sort_key"`
	MostRecent bool      `json:"most_recent"`
	CreatedAt  time.Time `json:"created_at"`
}

// Extraction is the article representation produced from fetched HTML.
// Missing description/image are not errors; an empty article still counts as
// a successful extraction.
type Extraction struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	MainText    string   `json:"main_text,omitempty"`
	RawHTML     string   `json:"-"`
	ImageURL    string   `json:"image_url,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// Job is one queued archival attempt, keyed by the owning bookmark.
type Job struct {
	BookmarkID string
	Enqueued   time.Time
}
