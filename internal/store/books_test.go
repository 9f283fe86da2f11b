package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/tomeapp/tome-server/internal/domain"
)

func TestCreateAndGetBook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestUser(t, s, "user-1", "a@example.com")

	author := "Frank Herbert"
	pages := 412
	now := time.Now().UTC()
	book := &domain.Book{
		ID:         "book-1",
		UserID:     "user-1",
		Title:      "Dune",
		AuthorName: &author,
		TotalPages: &pages,
		Status:     domain.StatusWantToRead,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.CreateBookTx(ctx, tx, book)
	})
	if err != nil {
		t.Fatalf("CreateBookTx: %v", err)
	}

	got, err := s.GetBook(ctx, "book-1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if got.Title != "Dune" {
		t.Errorf("title = %q, want Dune", got.Title)
	}
	if got.AuthorName == nil || *got.AuthorName != author {
		t.Errorf("author = %v, want %q", got.AuthorName, author)
	}
	if got.TotalPages == nil || *got.TotalPages != pages {
		t.Errorf("total pages = %v, want %d", got.TotalPages, pages)
	}
	if got.CurrentPage != 0 {
		t.Errorf("current page = %d, want 0", got.CurrentPage)
	}
	if got.Status != domain.StatusWantToRead {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusWantToRead)
	}
}

func TestCreateBookDuplicateTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestUser(t, s, "user-1", "a@example.com")
	insertTestUser(t, s, "user-2", "b@example.com")
	insertTestBook(t, s, "book-1", "user-1", "Dune")

	now := time.Now().UTC()
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.CreateBookTx(ctx, tx, &domain.Book{
			ID:        "book-2",
			UserID:    "user-1",
			Title:     "Dune",
			Status:    domain.StatusWantToRead,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for same user+title, got %v", err)
	}

	// A different user may track the same title.
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.CreateBookTx(ctx, tx, &domain.Book{
			ID:        "book-3",
			UserID:    "user-2",
			Title:     "Dune",
			Status:    domain.StatusWantToRead,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("other user's book: %v", err)
	}
}

func TestGetBookByUserTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestUser(t, s, "user-1", "a@example.com")
	insertTestBook(t, s, "book-1", "user-1", "Dune")

	got, err := s.GetBookByUserTitle(ctx, "user-1", "Dune")
	if err != nil {
		t.Fatalf("GetBookByUserTitle: %v", err)
	}
	if got.ID != "book-1" {
		t.Fatalf("id = %s, want book-1", got.ID)
	}

	if _, err := s.GetBookByUserTitle(ctx, "user-1", "Hyperion"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown title, got %v", err)
	}
}

func TestUpdateBookProjection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestUser(t, s, "user-1", "a@example.com")
	insertTestBook(t, s, "book-1", "user-1", "Dune")

	status := domain.StatusReading
	page := 80
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.UpdateBookProjectionTx(ctx, tx, "book-1", BookProjection{
			Status:      &status,
			CurrentPage: &page,
		}, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("UpdateBookProjectionTx: %v", err)
	}

	got, err := s.GetBook(ctx, "book-1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if got.Status != domain.StatusReading || got.CurrentPage != 80 {
		t.Fatalf("projection = %s/%d, want READING/80", got.Status, got.CurrentPage)
	}

	// Page-only update leaves status alone.
	page = 120
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.UpdateBookProjectionTx(ctx, tx, "book-1", BookProjection{CurrentPage: &page}, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("UpdateBookProjectionTx: %v", err)
	}
	got, err = s.GetBook(ctx, "book-1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if got.Status != domain.StatusReading || got.CurrentPage != 120 {
		t.Fatalf("projection = %s/%d, want READING/120", got.Status, got.CurrentPage)
	}
}

func TestUpdateBookProjectionMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	page := 10
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.UpdateBookProjectionTx(ctx, tx, "no-such-book", BookProjection{CurrentPage: &page}, time.Now().UTC())
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeleteBook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestUser(t, s, "user-1", "a@example.com")
	insertTestBook(t, s, "book-1", "user-1", "Dune")

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.SoftDeleteBookTx(ctx, tx, "book-1", time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("SoftDeleteBookTx: %v", err)
	}

	if _, err := s.GetBook(ctx, "book-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted book to be hidden, got %v", err)
	}

	// Soft-deleted title no longer blocks recreation.
	insertTestBook(t, s, "book-2", "user-1", "Dune")
}

func TestListBooksForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestUser(t, s, "user-1", "a@example.com")
	insertTestUser(t, s, "user-2", "b@example.com")
	insertTestBook(t, s, "book-1", "user-1", "Dune")
	insertTestBook(t, s, "book-2", "user-1", "Hyperion")
	insertTestBook(t, s, "book-3", "user-2", "Solaris")

	books, err := s.ListBooksForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListBooksForUser: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("expected 2 books, got %d", len(books))
	}
	for _, b := range books {
		if b.UserID != "user-1" {
			t.Errorf("leaked book %s owned by %s", b.ID, b.UserID)
		}
	}
}
