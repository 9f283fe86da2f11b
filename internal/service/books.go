// Package service contains the application services orchestrating the Tome
// domain: the book aggregate with its event ledger, and user authentication.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tomeapp/tome-server/internal/domain"
	apperrors "github.com/tomeapp/tome-server/internal/errors"
	"github.com/tomeapp/tome-server/internal/id"
	"github.com/tomeapp/tome-server/internal/store"
)

// BookService orchestrates all book-mutating operations. Every mutation is a
// single transaction combining event writes, version bookkeeping, and the
// book projection update, so the denormalized current_page can never drift
// from the event history that justifies it.
type BookService struct {
	store  *store.Store
	logger *slog.Logger

	// now supplies "today" for operations without an explicit effective date.
	now func() time.Time
}

// NewBookService creates a new book service.
func NewBookService(st *store.Store, logger *slog.Logger) *BookService {
	return &BookService{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// CreateBookRequest contains the data for adding a book to a user's library.
type CreateBookRequest struct {
	Title       string  `json:"title" validate:"required,max=500"`
	AuthorName  *string `json:"author_name" validate:"omitempty,max=500"`
	TotalPages  *int    `json:"total_pages" validate:"omitempty,min=1"`
	CurrentPage *int    `json:"current_page" validate:"omitempty,min=0"`
}

// StartBookRequest moves a book into READING.
type StartBookRequest struct {
	DateEffective *time.Time `json:"date_effective"`
	CurrentPage   int        `json:"current_page" validate:"min=0"`
}

// ProgressRequest records a page-progress assertion, possibly backdated.
type ProgressRequest struct {
	DateEffective *time.Time `json:"date_effective"`
	CurrentPage   int        `json:"current_page" validate:"min=0"`
}

// FinishBookRequest moves a book into READ.
type FinishBookRequest struct {
	DateEffective *time.Time `json:"date_effective"`
}

// effectiveDate resolves an optional override against the service clock.
// Effective dates are stored at day granularity.
func (s *BookService) effectiveDate(override *time.Time) time.Time {
	if override != nil {
		return domain.StartOfDay(*override)
	}
	return domain.StartOfDay(s.now())
}

// loadOwnedBook fetches a book and checks ownership. Missing books and
// books owned by someone else produce the same error, so callers cannot
// probe which book ids exist.
func (s *BookService) loadOwnedBook(ctx context.Context, bookID, userID string) (*domain.Book, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("book not found")
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	if !book.OwnedBy(userID) {
		return nil, apperrors.NotFound("book not found")
	}
	return book, nil
}

// CreateBook adds a book to the user's library. Creation is idempotent on
// (user, title): if the user already tracks a live book with this title, the
// existing book is returned and nothing is written.
func (s *BookService) CreateBook(ctx context.Context, userID string, req CreateBookRequest) (*domain.Book, error) {
	if err := validate.Struct(req); err != nil {
		return nil, formatValidationError(err)
	}

	existing, err := s.store.GetBookByUserTitle(ctx, userID, req.Title)
	if err == nil {
		return existing, nil
	}
	if !apperrors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing book: %w", err)
	}

	currentPage := 0
	if req.CurrentPage != nil {
		currentPage = *req.CurrentPage
	}

	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		return nil, fmt.Errorf("generate book ID: %w", err)
	}

	now := s.now().UTC()
	book := &domain.Book{
		ID:          bookID,
		UserID:      userID,
		Title:       req.Title,
		AuthorName:  req.AuthorName,
		TotalPages:  req.TotalPages,
		CurrentPage: currentPage,
		Status:      domain.StatusWantToRead,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.CreateBookTx(ctx, tx, book); err != nil {
			return err
		}

		versionID, err := id.Generate(id.PrefixVersion)
		if err != nil {
			return fmt.Errorf("generate version ID: %w", err)
		}
		if err := s.store.CreateVersionTx(ctx, tx, &domain.BookEventVersion{
			ID:          versionID,
			BookID:      bookID,
			Version:     1,
			Description: "Initial version",
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}

		eventID, err := id.Generate(id.PrefixEvent)
		if err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
		page := currentPage
		return s.store.AppendEventTx(ctx, tx, &domain.BookEvent{
			ID:            eventID,
			BookID:        bookID,
			Type:          domain.EventAddToLibrary,
			DateEffective: domain.StartOfDay(now),
			PageNumber:    &page,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	})
	if err != nil {
		// Lost a race with a concurrent create of the same title: return the
		// winner's book, keeping creation idempotent.
		if apperrors.Is(err, store.ErrAlreadyExists) {
			return s.store.GetBookByUserTitle(ctx, userID, req.Title)
		}
		return nil, fmt.Errorf("create book: %w", err)
	}

	s.logger.Info("Book created",
		"book_id", bookID,
		"user_id", userID,
		"title", req.Title,
	)

	return book, nil
}

// StartBook moves a book into READING and records a STARTED event at the
// given date (default today) with the given page.
func (s *BookService) StartBook(ctx context.Context, bookID, userID string, req StartBookRequest) (*domain.Book, error) {
	if err := validate.Struct(req); err != nil {
		return nil, formatValidationError(err)
	}

	book, err := s.loadOwnedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if !book.PageWithinTotal(req.CurrentPage) {
		return nil, apperrors.Validation("current_page exceeds total pages")
	}

	date := s.effectiveDate(req.DateEffective)
	now := s.now().UTC()

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		latest, err := s.store.LatestVersionTx(ctx, tx, bookID)
		if err != nil {
			return err
		}

		eventID, err := id.Generate(id.PrefixEvent)
		if err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
		page := req.CurrentPage
		if err := s.store.AppendEventTx(ctx, tx, &domain.BookEvent{
			ID:            eventID,
			BookID:        bookID,
			Type:          domain.EventStarted,
			DateEffective: date,
			PageNumber:    &page,
			Version:       latest.Version,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		status := domain.StatusReading
		return s.store.UpdateBookProjectionTx(ctx, tx, bookID, store.BookProjection{
			Status:      &status,
			CurrentPage: &page,
		}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("start book: %w", err)
	}

	book.Status = domain.StatusReading
	book.CurrentPage = req.CurrentPage
	book.UpdatedAt = now
	return book, nil
}

// UpdateProgress records a page-progress assertion. When the effective date
// is earlier than the last event on the book's current timeline, the entry is
// backdated and the whole timeline is reconciled into a new version instead
// of a plain append.
func (s *BookService) UpdateProgress(ctx context.Context, bookID, userID string, req ProgressRequest) (*domain.Book, error) {
	if err := validate.Struct(req); err != nil {
		return nil, formatValidationError(err)
	}

	book, err := s.loadOwnedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if !book.PageWithinTotal(req.CurrentPage) {
		return nil, apperrors.Validation("current_page exceeds total pages")
	}

	date := s.effectiveDate(req.DateEffective)
	now := s.now().UTC()

	// The latest version is read inside the transaction, like every other
	// mutation: a plain append racing a reconciliation must land on the
	// version that is current at commit time, never on a superseded one.
	finalPage := req.CurrentPage
	reconciled := false

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		latest, err := s.store.LatestVersionTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		rows, err := s.store.EventsAtVersionTx(ctx, tx, bookID, latest.Version, store.OrderAsc)
		if err != nil {
			return fmt.Errorf("load timeline: %w", err)
		}

		timeline := make([]domain.BookEvent, len(rows))
		for i, e := range rows {
			timeline[i] = *e
		}

		if domain.Backdated(timeline, date) {
			reconciled = true
			finalPage, err = s.reconcileTimelineTx(ctx, tx, book.ID, timeline, date, req.CurrentPage, now)
			return err
		}

		eventID, err := id.Generate(id.PrefixEvent)
		if err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
		page := req.CurrentPage
		if err := s.store.AppendEventTx(ctx, tx, &domain.BookEvent{
			ID:            eventID,
			BookID:        bookID,
			Type:          domain.EventProgress,
			DateEffective: date,
			PageNumber:    &page,
			Version:       latest.Version,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		return s.store.UpdateBookProjectionTx(ctx, tx, bookID, store.BookProjection{
			CurrentPage: &page,
		}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}

	if reconciled {
		s.logger.Info("Timeline reconciled",
			"book_id", bookID,
			"date_effective", date.Format("2006-01-02"),
			"current_page", finalPage,
		)
	}

	book.CurrentPage = finalPage
	book.UpdatedAt = now
	return book, nil
}

// FinishBook moves a book into READ and records a COMPLETED event. The page
// snapshot is the book's total page count when known, otherwise the current
// page stands.
func (s *BookService) FinishBook(ctx context.Context, bookID, userID string, req FinishBookRequest) (*domain.Book, error) {
	book, err := s.loadOwnedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}

	date := s.effectiveDate(req.DateEffective)
	now := s.now().UTC()

	page := book.CurrentPage
	if book.TotalPages != nil {
		page = *book.TotalPages
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		latest, err := s.store.LatestVersionTx(ctx, tx, bookID)
		if err != nil {
			return err
		}

		eventID, err := id.Generate(id.PrefixEvent)
		if err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
		snapshot := page
		if err := s.store.AppendEventTx(ctx, tx, &domain.BookEvent{
			ID:            eventID,
			BookID:        bookID,
			Type:          domain.EventCompleted,
			DateEffective: date,
			PageNumber:    &snapshot,
			Version:       latest.Version,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		status := domain.StatusRead
		return s.store.UpdateBookProjectionTx(ctx, tx, bookID, store.BookProjection{
			Status:      &status,
			CurrentPage: &snapshot,
		}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("finish book: %w", err)
	}

	book.Status = domain.StatusRead
	book.CurrentPage = page
	book.UpdatedAt = now
	return book, nil
}

// ArchiveBook moves a book into ARCHIVED, recording an ARCHIVED event dated
// today with the prior current page as its snapshot. Archiving never runs
// through backdating reconciliation.
func (s *BookService) ArchiveBook(ctx context.Context, bookID, userID string) (*domain.Book, error) {
	book, err := s.loadOwnedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}

	today := domain.StartOfDay(s.now())
	now := s.now().UTC()
	snapshot := book.CurrentPage

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		latest, err := s.store.LatestVersionTx(ctx, tx, bookID)
		if err != nil {
			return err
		}

		eventID, err := id.Generate(id.PrefixEvent)
		if err != nil {
			return fmt.Errorf("generate event ID: %w", err)
		}
		page := snapshot
		if err := s.store.AppendEventTx(ctx, tx, &domain.BookEvent{
			ID:            eventID,
			BookID:        bookID,
			Type:          domain.EventArchived,
			DateEffective: today,
			PageNumber:    &page,
			Version:       latest.Version,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		status := domain.StatusArchived
		return s.store.UpdateBookProjectionTx(ctx, tx, bookID, store.BookProjection{
			Status: &status,
		}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("archive book: %w", err)
	}

	book.Status = domain.StatusArchived
	book.UpdatedAt = now
	return book, nil
}

// DeleteBook soft-deletes a book. The row and its event history survive for
// audit; the book disappears from all reads and its title becomes reusable.
func (s *BookService) DeleteBook(ctx context.Context, bookID, userID string) error {
	book, err := s.loadOwnedBook(ctx, bookID, userID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.SoftDeleteBookTx(ctx, tx, book.ID, now)
	})
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	s.logger.Info("Book deleted",
		"book_id", bookID,
		"user_id", userID,
	)
	return nil
}

// GetBook returns a book the user owns.
func (s *BookService) GetBook(ctx context.Context, bookID, userID string) (*domain.Book, error) {
	return s.loadOwnedBook(ctx, bookID, userID)
}

// GetBooks returns all live books for a user, newest first.
func (s *BookService) GetBooks(ctx context.Context, userID string) ([]*domain.Book, error) {
	books, err := s.store.ListBooksForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetEvents returns the book's timeline at its latest version only.
// Superseded versions are never exposed.
func (s *BookService) GetEvents(ctx context.Context, bookID, userID string, order store.Order) ([]*domain.BookEvent, error) {
	book, err := s.loadOwnedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestVersion(ctx, book.ID)
	if err != nil {
		return nil, err
	}

	events, err := s.store.EventsAtVersion(ctx, book.ID, latest.Version, order)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	return events, nil
}
