package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeapp/tome-server/internal/domain"
	apperrors "github.com/tomeapp/tome-server/internal/errors"
	"github.com/tomeapp/tome-server/internal/store"
)

func day(d int) time.Time {
	return time.Date(2026, 4, d, 15, 30, 0, 0, time.UTC)
}

// setupTestBooks creates a book service over a temp database with one
// registered user and a clock pinned to day 1.
func setupTestBooks(t *testing.T) (*BookService, *store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	testStore, err := store.Open(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { testStore.Close() })

	now := time.Now().UTC()
	require.NoError(t, testStore.CreateUser(context.Background(), &domain.User{
		ID:           "user-1",
		Email:        "reader@example.com",
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	svc := NewBookService(testStore, logger)
	svc.now = func() time.Time { return day(1) }
	return svc, testStore
}

func createTestBook(t *testing.T, svc *BookService, title string, totalPages *int) *domain.Book {
	t.Helper()
	book, err := svc.CreateBook(context.Background(), "user-1", CreateBookRequest{
		Title:      title,
		TotalPages: totalPages,
	})
	require.NoError(t, err)
	return book
}

func datePtr(t time.Time) *time.Time { return &t }
func intPtr(v int) *int              { return &v }

func TestCreateBook_Idempotent(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	first, err := svc.CreateBook(ctx, "user-1", CreateBookRequest{Title: "Dune"})
	require.NoError(t, err)

	second, err := svc.CreateBook(ctx, "user-1", CreateBookRequest{Title: "Dune"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Exactly one version 1 and one ADD_TO_LIBRARY event.
	latest, err := testStore.LatestVersion(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	events, err := testStore.EventsAtVersion(ctx, first.ID, 1, store.OrderAsc)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAddToLibrary, events[0].Type)
}

func TestCreateBook_InitialPage(t *testing.T) {
	svc, _ := setupTestBooks(t)

	book, err := svc.CreateBook(context.Background(), "user-1", CreateBookRequest{
		Title:       "Dune",
		CurrentPage: intPtr(25),
	})
	require.NoError(t, err)
	assert.Equal(t, 25, book.CurrentPage)
	assert.Equal(t, domain.StatusWantToRead, book.Status)
}

func TestStartBook(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", intPtr(200))

	started, err := svc.StartBook(ctx, book.ID, "user-1", StartBookRequest{
		DateEffective: datePtr(day(2)),
		CurrentPage:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReading, started.Status)
	assert.Equal(t, 10, started.CurrentPage)

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventStarted, events[1].Type)
	assert.Equal(t, domain.StartOfDay(day(2)), events[1].DateEffective)
}

// TestUpdateProgress_Backdated covers the full reconciliation scenario:
// a book started on day 1, progress logged on day 5, then a forgotten day 3
// entry inserted afterwards. The timeline is rebuilt as a new version with
// the day 5 entry intact and the projection ending at its page.
func TestUpdateProgress_Backdated(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", intPtr(200))

	_, err := svc.StartBook(ctx, book.ID, "user-1", StartBookRequest{
		DateEffective: datePtr(day(1)),
		CurrentPage:   0,
	})
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(5)),
		CurrentPage:   80,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(3)),
		CurrentPage:   40,
	})
	require.NoError(t, err)
	assert.Equal(t, 80, updated.CurrentPage, "projection must end at the later, larger entry")

	latest, err := testStore.LatestVersion(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	require.Len(t, events, 4) // add-to-library, started, day3, day5

	// All events carry the new version, in chronological order.
	wantDates := []time.Time{
		domain.StartOfDay(day(1)),
		domain.StartOfDay(day(1)),
		domain.StartOfDay(day(3)),
		domain.StartOfDay(day(5)),
	}
	wantPages := []int{0, 0, 40, 80}
	for i, e := range events {
		assert.Equal(t, 2, e.Version)
		assert.Equal(t, wantDates[i], e.DateEffective, "event %d", i)
		require.NotNil(t, e.PageNumber, "event %d", i)
		assert.Equal(t, wantPages[i], *e.PageNumber, "event %d", i)
	}
}

func TestUpdateProgress_BackdatedNeverClampsLaterLargerPage(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)

	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(1)),
		CurrentPage:   50,
	})
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(3)),
		CurrentPage:   100,
	})
	require.NoError(t, err)

	// Backdated smaller entry: inserted as asserted, later events untouched.
	updated, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(2)),
		CurrentPage:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, updated.CurrentPage)

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	require.Len(t, events, 4)

	day2 := events[2]
	day3 := events[3]
	assert.Equal(t, 10, *day2.PageNumber, "the inserted event itself is never clamped")
	assert.Equal(t, 100, *day3.PageNumber, "later larger pages are kept as asserted")
}

func TestUpdateProgress_BackdatedClampsSmallerLaterPage(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)

	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(1)),
		CurrentPage:   20,
	})
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(3)),
		CurrentPage:   30,
	})
	require.NoError(t, err)

	// Backdated entry larger than the day-3 page: day 3 is clamped up so the
	// sequence never regresses.
	updated, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(2)),
		CurrentPage:   60,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, updated.CurrentPage)

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.StartOfDay(day(3)), last.DateEffective)
	assert.Equal(t, 60, *last.PageNumber)
}

func TestUpdateProgress_SameDayIsNotBackdated(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)

	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(2)),
		CurrentPage:   30,
	})
	require.NoError(t, err)

	// A second entry on the same day appends at the same version.
	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(2)),
		CurrentPage:   45,
	})
	require.NoError(t, err)

	latest, err := testStore.LatestVersion(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, 45, *last.PageNumber, "same-day entries keep insertion order")
}

func TestUpdateProgress_PageCeiling(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", intPtr(200))

	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(2)),
		CurrentPage:   250,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	// Nothing was written.
	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	got, err := svc.GetBook(ctx, book.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentPage)
}

func TestUpdateProgress_VersionsStrictlyIncreasing(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)

	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(10)),
		CurrentPage:   100,
	})
	require.NoError(t, err)

	// Three backdated inserts, each forcing a reconciliation.
	for i, d := range []int{7, 5, 3} {
		_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
			DateEffective: datePtr(day(d)),
			CurrentPage:   (i + 1) * 10,
		})
		require.NoError(t, err)
	}

	latest, err := testStore.LatestVersion(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, latest.Version)

	// Every intermediate version exists, no gaps.
	for v := 1; v <= 4; v++ {
		events, err := testStore.EventsAtVersion(ctx, book.ID, v, store.OrderAsc)
		require.NoError(t, err)
		assert.NotEmpty(t, events, "version %d", v)
	}

	// Reads only ever see the latest version.
	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	for _, e := range events {
		assert.Equal(t, 4, e.Version)
	}
}

func TestFinishBook(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", intPtr(200))
	_, err := svc.StartBook(ctx, book.ID, "user-1", StartBookRequest{CurrentPage: 0})
	require.NoError(t, err)

	finished, err := svc.FinishBook(ctx, book.ID, "user-1", FinishBookRequest{
		DateEffective: datePtr(day(9)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, finished.Status)
	assert.Equal(t, 200, finished.CurrentPage, "finishing a bounded book lands on its last page")

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventCompleted, last.Type)
	assert.Equal(t, 200, *last.PageNumber)
}

func TestFinishBook_UnboundedKeepsCurrentPage(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)
	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{CurrentPage: 150})
	require.NoError(t, err)

	finished, err := svc.FinishBook(ctx, book.ID, "user-1", FinishBookRequest{})
	require.NoError(t, err)
	assert.Equal(t, 150, finished.CurrentPage)
}

func TestArchiveBook(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)
	_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{CurrentPage: 60})
	require.NoError(t, err)

	archived, err := svc.ArchiveBook(ctx, book.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, archived.Status)
	assert.Equal(t, 60, archived.CurrentPage, "archiving keeps the prior current page")

	// Archiving appends at the latest version; it never reconciles.
	latest, err := testStore.LatestVersion(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	events, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventArchived, last.Type)
	require.NotNil(t, last.PageNumber)
	assert.Equal(t, 60, *last.PageNumber, "archive snapshot is the prior current page")
}

func TestDeleteBook(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)
	require.NoError(t, svc.DeleteBook(ctx, book.ID, "user-1"))

	_, err := svc.GetBook(ctx, book.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	books, err := svc.GetBooks(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, books)

	// The title is free again; a new create makes a fresh book.
	recreated := createTestBook(t, svc, "Dune", nil)
	assert.NotEqual(t, book.ID, recreated.ID)
}

func TestOwnership_MergedNotFound(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, testStore.CreateUser(ctx, &domain.User{
		ID:           "user-2",
		Email:        "other@example.com",
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	book := createTestBook(t, svc, "Dune", nil)

	// Someone else's book and a missing book are indistinguishable.
	_, errOther := svc.GetBook(ctx, book.ID, "user-2")
	_, errMissing := svc.GetBook(ctx, "bk-missing", "user-1")
	require.Error(t, errOther)
	require.Error(t, errMissing)
	assert.Equal(t, errOther.Error(), errMissing.Error())

	_, err := svc.UpdateProgress(ctx, book.ID, "user-2", ProgressRequest{CurrentPage: 10})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestGetEvents_Descending(t *testing.T) {
	svc, _ := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", nil)
	for _, upd := range []struct{ d, p int }{{2, 10}, {4, 20}} {
		_, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
			DateEffective: datePtr(day(upd.d)),
			CurrentPage:   upd.p,
		})
		require.NoError(t, err)
	}

	asc, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderAsc)
	require.NoError(t, err)
	desc, err := svc.GetEvents(ctx, book.ID, "user-1", store.OrderDesc)
	require.NoError(t, err)

	require.Equal(t, len(asc), len(desc))
	for i := range asc {
		assert.Equal(t, asc[i].ID, desc[len(desc)-1-i].ID)
	}
}

// TestUpdateProgress_PlainAppendLandsOnLatestVersion anchors the plain-append
// path to the version that is current when its transaction runs: after a
// backdated entry has rebuilt the timeline as version 2, a later plain entry
// must attach to version 2 and leave version 1 untouched.
func TestUpdateProgress_PlainAppendLandsOnLatestVersion(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", intPtr(200))

	_, err := svc.StartBook(ctx, book.ID, "user-1", StartBookRequest{
		DateEffective: datePtr(day(1)),
		CurrentPage:   0,
	})
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(5)),
		CurrentPage:   50,
	})
	require.NoError(t, err)

	// Backdated correction publishes version 2.
	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(3)),
		CurrentPage:   40,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(6)),
		CurrentPage:   60,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, updated.CurrentPage)

	latest, err := testStore.LatestVersion(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version, "a plain append must not create a version")

	v2, err := testStore.EventsAtVersion(ctx, book.ID, 2, store.OrderAsc)
	require.NoError(t, err)
	require.Len(t, v2, 5)
	last := v2[len(v2)-1]
	require.NotNil(t, last.PageNumber)
	assert.Equal(t, 60, *last.PageNumber)
	assert.Equal(t, domain.StartOfDay(day(6)), last.DateEffective)

	// The superseded version gained nothing.
	v1, err := testStore.EventsAtVersion(ctx, book.ID, 1, store.OrderAsc)
	require.NoError(t, err)
	assert.Len(t, v1, 3)
}

// TestUpdateProgress_ConcurrentWritersKeepProjectionConsistent interleaves a
// backdated reconciliation with a plain append. Individual writers may lose
// the race, but current_page must always equal the page of the last event at
// the latest version - a plain entry can never commit against a version a
// concurrent rebuild just superseded.
func TestUpdateProgress_ConcurrentWritersKeepProjectionConsistent(t *testing.T) {
	svc, testStore := setupTestBooks(t)
	ctx := context.Background()

	book := createTestBook(t, svc, "Dune", intPtr(500))

	_, err := svc.StartBook(ctx, book.ID, "user-1", StartBookRequest{
		DateEffective: datePtr(day(1)),
		CurrentPage:   0,
	})
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, book.ID, "user-1", ProgressRequest{
		DateEffective: datePtr(day(5)),
		CurrentPage:   50,
	})
	require.NoError(t, err)

	updates := []ProgressRequest{
		{DateEffective: datePtr(day(3)), CurrentPage: 40}, // backdated, rebuilds
		{DateEffective: datePtr(day(6)), CurrentPage: 60}, // plain append
	}

	var wg sync.WaitGroup
	for _, req := range updates {
		wg.Add(1)
		go func(req ProgressRequest) {
			defer wg.Done()
			// Losing writers may fail on lock or version contention; the
			// invariant below must hold for whatever committed.
			_, _ = svc.UpdateProgress(ctx, book.ID, "user-1", req)
		}(req)
	}
	wg.Wait()

	fetched, err := testStore.GetBook(ctx, book.ID)
	require.NoError(t, err)
	latest, err := testStore.LatestVersion(ctx, book.ID)
	require.NoError(t, err)
	events, err := testStore.EventsAtVersion(ctx, book.ID, latest.Version, store.OrderAsc)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.NotNil(t, last.PageNumber)
	assert.Equal(t, *last.PageNumber, fetched.CurrentPage,
		"current_page must equal the last event of the latest timeline")
}
