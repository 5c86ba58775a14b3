package postgres

import (
	"context"
	"fmt"
)

// Schema is applied on startup. The partial unique index is what enforces
// the single-current-state invariant even if application logic slips: two
// most_recent rows for one archive cannot exist.
const Schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
	id          UUID PRIMARY KEY,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	note        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS archives (
	id             UUID PRIMARY KEY,
	bookmark_id    UUID NOT NULL UNIQUE REFERENCES bookmarks(id) ON DELETE CASCADE,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	main_text      TEXT NOT NULL DEFAULT '',
	raw_html       TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	metadata       JSONB,
	fetched_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS archive_transitions (
	id           BIGSERIAL PRIMARY KEY,
	archive_id   UUID NOT NULL REFERENCES archives(id) ON DELETE CASCADE,
	to_state     TEXT NOT NULL,
	metadata     JSONB,
	sort_key     INTEGER NOT NULL,
	most_recent  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (archive_id, sort_key)
);

CREATE UNIQUE INDEX IF NOT EXISTS archive_transitions_most_recent_idx
	ON archive_transitions (archive_id) WHERE most_recent;
`

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
