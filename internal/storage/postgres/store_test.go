package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, fixedClock{t: testNow}), mock
}

func TestCreateBookmark(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bookmarks`)).
		WithArgs("bm-1", "https://example.com", "a title", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateBookmark(context.Background(), archive.Bookmark{
		ID: "bm-1", URL: "https://example.com", Title: "a title", CreatedAt: testNow,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookmarkNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, url, title, note, created_at FROM bookmarks`)).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "title", "note", "created_at"}))

	_, err := store.GetBookmark(context.Background(), "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBookmarkNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bookmarks WHERE id = $1`)).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteBookmark(context.Background(), "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArchiveSeedsPending(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO archives`)).
		WithArgs("ar-1", "bm-1", pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO archive_transitions`)).
		WithArgs("ar-1", archive.StatePending, 1, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	tr, err := store.CreateArchive(context.Background(), archive.Archive{
		ID: "ar-1", BookmarkID: "bm-1", CreatedAt: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, archive.StatePending, tr.ToState)
	assert.Equal(t, 1, tr.SortKey)
	assert.True(t, tr.MostRecent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionToAppendsRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_state, sort_key FROM archive_transitions`)).
		WithArgs("ar-1").
		WillReturnRows(pgxmock.NewRows([]string{"to_state", "sort_key"}).
			AddRow(archive.StatePending, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE archive_transitions SET most_recent = FALSE`)).
		WithArgs("ar-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO archive_transitions`)).
		WithArgs("ar-1", archive.StateProcessing, pgxmock.AnyArg(), 2, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	tr, err := store.TransitionTo(context.Background(), "ar-1", archive.StateProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, archive.StateProcessing, tr.ToState)
	assert.Equal(t, 2, tr.SortKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionToRejectsIllegalMove(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_state, sort_key FROM archive_transitions`)).
		WithArgs("ar-1").
		WillReturnRows(pgxmock.NewRows([]string{"to_state", "sort_key"}).
			AddRow(archive.StateSuccess, 3))
	mock.ExpectRollback()

	_, err := store.TransitionTo(context.Background(), "ar-1", archive.StateProcessing, nil)
	var ite *archive.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, archive.StateSuccess, ite.From)
	assert.Equal(t, archive.StateProcessing, ite.To)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionToUnknownArchive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_state, sort_key FROM archive_transitions`)).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"to_state", "sort_key"}))
	mock.ExpectRollback()

	_, err := store.TransitionTo(context.Background(), "missing", archive.StateProcessing, nil)
	assert.ErrorIs(t, err, archive.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentState(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_state FROM archive_transitions`)).
		WithArgs("ar-1").
		WillReturnRows(pgxmock.NewRows([]string{"to_state"}).AddRow(archive.StateProcessing))

	st, err := store.CurrentState(context.Background(), "ar-1")
	require.NoError(t, err)
	assert.Equal(t, archive.StateProcessing, st)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransitions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM archive_transitions WHERE archive_id = $1 ORDER BY sort_key`)).
		WithArgs("ar-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "archive_id", "to_state", "metadata", "sort_key", "most_recent", "created_at"}).
			AddRow(int64(1), "ar-1", archive.StatePending, []byte(nil), 1, false, testNow).
			AddRow(int64(2), "ar-1", archive.StateProcessing, []byte(nil), 2, false, testNow).
			AddRow(int64(3), "ar-1", archive.StateSuccess, []byte(`{"fetch_duration_ms":120}`), 3, true, testNow))

	trs, err := store.ListTransitions(context.Background(), "ar-1")
	require.NoError(t, err)
	require.Len(t, trs, 3)
	assert.Equal(t, archive.StatePending, trs[0].ToState)
	assert.True(t, trs[2].MostRecent)
	assert.EqualValues(t, 120, trs[2].Metadata[archive.MetaFetchDurationMs])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransitionsUnknownArchive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM archive_transitions`)).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "archive_id", "to_state", "metadata", "sort_key", "most_recent", "created_at"}))

	_, err := store.ListTransitions(context.Background(), "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestDeleteMostRecentTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, sort_key FROM archive_transitions`)).
		WithArgs("ar-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "sort_key"}).AddRow(int64(3), 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM archive_transitions WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE archive_transitions SET most_recent = TRUE`)).
		WithArgs("ar-1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteMostRecentTransition(context.Background(), "ar-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExtraction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE archives SET title = $2`)).
		WithArgs("ar-1", "Post", "desc", "body text", "<html></html>", "https://example.com/og.png",
			pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.SaveExtraction(context.Background(), "ar-1", archive.Extraction{
		Title:       "Post",
		Description: "desc",
		MainText:    "body text",
		RawHTML:     "<html></html>",
		ImageURL:    "https://example.com/og.png",
	}, testNow)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE archives SET error_message = $2`)).
		WithArgs("ar-1", "fetch https://example.com: 404", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.RecordFailure(context.Background(), "ar-1", "fetch https://example.com: 404", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bookmarks`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
