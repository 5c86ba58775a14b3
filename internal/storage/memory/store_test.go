package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

func seedArchive(t *testing.T, s *Store) archive.Archive {
	t.Helper()
	ctx := context.Background()
	b := archive.Bookmark{ID: "bm-1", URL: "https://example.com/", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateBookmark(ctx, b))
	a := archive.Archive{ID: "ar-1", BookmarkID: b.ID, CreatedAt: time.Now().UTC()}
	tr, err := s.CreateArchive(ctx, a)
	require.NoError(t, err)
	require.Equal(t, archive.StatePending, tr.ToState)
	require.Equal(t, 1, tr.SortKey)
	require.True(t, tr.MostRecent)
	return a
}

func TestCreateArchiveSeedsPendingTransition(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)

	state, err := s.CurrentState(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, archive.StatePending, state)
}

func TestTransitionToWalksTable(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	_, err := s.TransitionTo(ctx, a.ID, archive.StateProcessing, nil)
	require.NoError(t, err)
	tr, err := s.TransitionTo(ctx, a.ID, archive.StateSuccess, archive.Metadata{
		archive.MetaFetchDurationMs: int64(120),
	})
	require.NoError(t, err)
	require.Equal(t, 3, tr.SortKey)
	require.True(t, tr.MostRecent)

	state, err := s.CurrentState(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, archive.StateSuccess, state)
}

func TestTransitionToRejectsIllegalMove(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	_, err := s.TransitionTo(ctx, a.ID, archive.StateSuccess, nil)
	var iterr *archive.InvalidTransitionError
	require.ErrorAs(t, err, &iterr)
	require.Equal(t, archive.StatePending, iterr.From)
	require.Equal(t, archive.StateSuccess, iterr.To)

	// No row may be written on rejection.
	trs, err := s.ListTransitions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, trs, 1)
}

func TestTerminalStateIsDeadEnd(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	_, err := s.TransitionTo(ctx, a.ID, archive.StateBlocked, nil)
	require.NoError(t, err)

	for _, next := range []archive.State{
		archive.StatePending, archive.StateProcessing,
		archive.StateSuccess, archive.StateFailed, archive.StateInvalidURL,
	} {
		_, err := s.TransitionTo(ctx, a.ID, next, nil)
		var iterr *archive.InvalidTransitionError
		require.ErrorAs(t, err, &iterr, "transition to %s must fail", next)
	}
}

func TestExactlyOneMostRecentUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	// Concurrent callers race pending -> processing; exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.TransitionTo(ctx, a.ID, archive.StateProcessing, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			var iterr *archive.InvalidTransitionError
			require.ErrorAs(t, err, &iterr)
		}
	}
	require.Equal(t, 1, wins)

	trs, err := s.ListTransitions(ctx, a.ID)
	require.NoError(t, err)
	mostRecent := 0
	for i, tr := range trs {
		require.Equal(t, i+1, tr.SortKey, "sort keys must be gapless from 1")
		if tr.MostRecent {
			mostRecent++
		}
	}
	require.Equal(t, 1, mostRecent)
}

func TestDeleteMostRecentTransitionReflagsPrevious(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	_, err := s.TransitionTo(ctx, a.ID, archive.StateProcessing, nil)
	require.NoError(t, err)
	_, err = s.TransitionTo(ctx, a.ID, archive.StateFailed, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMostRecentTransition(ctx, a.ID))

	state, err := s.CurrentState(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, archive.StateProcessing, state)

	trs, err := s.ListTransitions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	require.True(t, trs[1].MostRecent)
}

func TestDeleteBookmarkCascades(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteBookmark(ctx, a.BookmarkID))

	_, err := s.GetArchive(ctx, a.ID)
	require.ErrorIs(t, err, archive.ErrNotFound)
	_, err = s.ListTransitions(ctx, a.ID)
	require.ErrorIs(t, err, archive.ErrNotFound)
	_, err = s.GetArchiveByBookmark(ctx, a.BookmarkID)
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestSaveExtractionAndRecordFailure(t *testing.T) {
	t.Parallel()

	s := New()
	a := seedArchive(t, s)
	ctx := context.Background()

	fetched := time.Now().UTC()
	require.NoError(t, s.SaveExtraction(ctx, a.ID, archive.Extraction{
		Title:    "Hello",
		MainText: "body text",
		RawHTML:  "<html></html>",
	}, fetched))

	got, err := s.GetArchive(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "Hello", got.Title)
	require.NotNil(t, got.FetchedAt)
	require.Equal(t, fetched, *got.FetchedAt)

	require.NoError(t, s.RecordFailure(ctx, a.ID, "boom", nil))
	got, err = s.GetArchive(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "boom", got.ErrorMessage)
}
