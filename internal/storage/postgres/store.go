// Package postgres implements the archive store on PostgreSQL. State
// transitions run inside a transaction with a row lock on the current
// transition, so concurrent attempts on the same archive serialize and
// exactly one writes the next row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

// DB is the subset of pgxpool.Pool the store uses; pgxmock implements it
// in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements archive.Store.
type Store struct {
	db    DB
	clock archive.Clock
}

// New wraps an existing connection pool.
func New(db DB, clock archive.Clock) *Store {
	return &Store{db: db, clock: clock}
}

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string, maxConns int, clock archive.Clock) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, clock), nil
}

// Ping reports database liveness for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

func marshalMeta(meta archive.Metadata) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMeta(raw []byte) (archive.Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta archive.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

// CreateBookmark inserts a bookmark row.
func (s *Store) CreateBookmark(ctx context.Context, b archive.Bookmark) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO bookmarks (id, url, title, note, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.URL, b.Title, b.Note, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

// GetBookmark fetches one bookmark by id.
func (s *Store) GetBookmark(ctx context.Context, id string) (archive.Bookmark, error) {
	var b archive.Bookmark
	err := s.db.QueryRow(ctx,
		`SELECT id, url, title, note, created_at FROM bookmarks WHERE id = $1`, id,
	).Scan(&b.ID, &b.URL, &b.Title, &b.Note, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Bookmark{}, archive.ErrNotFound
	}
	if err != nil {
		return archive.Bookmark{}, fmt.Errorf("select bookmark: %w", err)
	}
	return b, nil
}

// DeleteBookmark removes a bookmark; the archive and its transitions go
// with it via ON DELETE CASCADE.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM bookmarks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archive.ErrNotFound
	}
	return nil
}

// CreateArchive inserts the archive row and its seed pending transition in
// one transaction, so an archive is never observable without a state.
func (s *Store) CreateArchive(ctx context.Context, a archive.Archive) (archive.Transition, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return archive.Transition{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return archive.Transition{}, err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO archives (id, bookmark_id, metadata, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.BookmarkID, meta, a.CreatedAt,
	)
	if err != nil {
		return archive.Transition{}, fmt.Errorf("insert archive: %w", err)
	}

	tr := archive.Transition{
		ArchiveID:  a.ID,
		ToState:    archive.StatePending,
		SortKey:    1,
		MostRecent: true,
		CreatedAt:  s.clock.Now(),
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO archive_transitions (archive_id, to_state, metadata, sort_key, most_recent, created_at)
		 VALUES ($1, $2, NULL, $3, TRUE, $4) RETURNING id`,
		tr.ArchiveID, tr.ToState, tr.SortKey, tr.CreatedAt,
	).Scan(&tr.ID)
	if err != nil {
		return archive.Transition{}, fmt.Errorf("insert seed transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return archive.Transition{}, fmt.Errorf("commit: %w", err)
	}
	return tr, nil
}

const archiveColumns = `id, bookmark_id, title, description, main_text, raw_html, image_url, error_message, metadata, fetched_at, created_at`

func scanArchive(row pgx.Row) (archive.Archive, error) {
	var a archive.Archive
	var meta []byte
	err := row.Scan(&a.ID, &a.BookmarkID, &a.Title, &a.Description, &a.MainText,
		&a.RawHTML, &a.ImageURL, &a.ErrorMessage, &meta, &a.FetchedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Archive{}, archive.ErrNotFound
	}
	if err != nil {
		return archive.Archive{}, fmt.Errorf("scan archive: %w", err)
	}
	if a.Metadata, err = unmarshalMeta(meta); err != nil {
		return archive.Archive{}, err
	}
	return a, nil
}

// GetArchive fetches one archive by id.
func (s *Store) GetArchive(ctx context.Context, id string) (archive.Archive, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE id = $1`, id)
	return scanArchive(row)
}

// GetArchiveByBookmark fetches the archive attached to a bookmark.
func (s *Store) GetArchiveByBookmark(ctx context.Context, bookmarkID string) (archive.Archive, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE bookmark_id = $1`, bookmarkID)
	return scanArchive(row)
}

// CurrentState reads the archive's current state off the most_recent flag.
func (s *Store) CurrentState(ctx context.Context, archiveID string) (archive.State, error) {
	var st archive.State
	err := s.db.QueryRow(ctx,
		`SELECT to_state FROM archive_transitions WHERE archive_id = $1 AND most_recent`, archiveID,
	).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", archive.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select current state: %w", err)
	}
	return st, nil
}

// TransitionTo appends the next transition. The current row is locked FOR
// UPDATE first; a concurrent transition on the same archive waits here and
// then sees the new state, so illegal double-writes resolve to exactly one
// winner and one InvalidTransitionError.
func (s *Store) TransitionTo(
	ctx context.Context,
	archiveID string,
	to archive.State,
	meta archive.Metadata,
) (archive.Transition, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return archive.Transition{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var cur archive.State
	var sortKey int
	err = tx.QueryRow(ctx,
		`SELECT to_state, sort_key FROM archive_transitions
		 WHERE archive_id = $1 AND most_recent FOR UPDATE`, archiveID,
	).Scan(&cur, &sortKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Transition{}, archive.ErrNotFound
	}
	if err != nil {
		return archive.Transition{}, fmt.Errorf("lock current transition: %w", err)
	}

	if !archive.CanTransition(cur, to) {
		return archive.Transition{}, &archive.InvalidTransitionError{From: cur, To: to}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE archive_transitions SET most_recent = FALSE
		 WHERE archive_id = $1 AND most_recent`, archiveID,
	); err != nil {
		return archive.Transition{}, fmt.Errorf("demote current transition: %w", err)
	}

	rawMeta, err := marshalMeta(meta)
	if err != nil {
		return archive.Transition{}, err
	}
	tr := archive.Transition{
		ArchiveID:  archiveID,
		ToState:    to,
		Metadata:   meta,
		SortKey:    sortKey + 1,
		MostRecent: true,
		CreatedAt:  s.clock.Now(),
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO archive_transitions (archive_id, to_state, metadata, sort_key, most_recent, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5) RETURNING id`,
		tr.ArchiveID, tr.ToState, rawMeta, tr.SortKey, tr.CreatedAt,
	).Scan(&tr.ID)
	if err != nil {
		return archive.Transition{}, fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return archive.Transition{}, fmt.Errorf("commit: %w", err)
	}
	return tr, nil
}

// ListTransitions returns the full history ordered oldest first.
func (s *Store) ListTransitions(ctx context.Context, archiveID string) ([]archive.Transition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, archive_id, to_state, metadata, sort_key, most_recent, created_at
		 FROM archive_transitions WHERE archive_id = $1 ORDER BY sort_key`, archiveID)
	if err != nil {
		return nil, fmt.Errorf("select transitions: %w", err)
	}
	defer rows.Close()

	var out []archive.Transition
	for rows.Next() {
		var tr archive.Transition
		var meta []byte
		if err := rows.Scan(&tr.ID, &tr.ArchiveID, &tr.ToState, &meta,
			&tr.SortKey, &tr.MostRecent, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if tr.Metadata, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	if len(out) == 0 {
		return nil, archive.ErrNotFound
	}
	return out, nil
}

// DeleteMostRecentTransition removes the newest transition and promotes
// its predecessor. This is the only sanctioned mutation of history and
// exists for operator repair of a bad terminal write.
func (s *Store) DeleteMostRecentTransition(ctx context.Context, archiveID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	var sortKey int
	err = tx.QueryRow(ctx,
		`SELECT id, sort_key FROM archive_transitions
		 WHERE archive_id = $1 AND most_recent FOR UPDATE`, archiveID,
	).Scan(&id, &sortKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock current transition: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM archive_transitions WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("delete transition: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE archive_transitions SET most_recent = TRUE
		 WHERE archive_id = $1 AND sort_key = $2`, archiveID, sortKey-1,
	); err != nil {
		return fmt.Errorf("promote previous transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveExtraction writes the successful fetch results onto the archive row.
func (s *Store) SaveExtraction(ctx context.Context, archiveID string, ex archive.Extraction, fetchedAt time.Time) error {
	meta, err := marshalMeta(ex.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE archives SET title = $2, description = $3, main_text = $4, raw_html = $5,
		 image_url = $6, metadata = $7, fetched_at = $8, error_message = ''
		 WHERE id = $1`,
		archiveID, ex.Title, ex.Description, ex.MainText, ex.RawHTML, ex.ImageURL, meta, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("update archive extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archive.ErrNotFound
	}
	return nil
}

// RecordFailure stores the error message, and the fetch time when the
// failure happened after a completed fetch.
func (s *Store) RecordFailure(ctx context.Context, archiveID string, errMsg string, fetchedAt *time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE archives SET error_message = $2, fetched_at = COALESCE($3, fetched_at) WHERE id = $1`,
		archiveID, errMsg, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("update archive failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archive.ErrNotFound
	}
	return nil
}
