package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tomeapp/tome-server/internal/domain"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, user_id, title, author_name, total_pages,
	current_page, status, created_at, updated_at, deleted_at`

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.Book.
func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var b domain.Book

	var (
		authorName sql.NullString
		totalPages sql.NullInt64
		status     string
		createdAt  string
		updatedAt  string
		deletedAt  sql.NullString
	)

	err := scanner.Scan(
		&b.ID,
		&b.UserID,
		&b.Title,
		&authorName,
		&totalPages,
		&b.CurrentPage,
		&status,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	b.AuthorName = strPtr(authorName)
	b.TotalPages = intPtr(totalPages)
	b.Status = domain.BookStatus(status)

	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	b.DeletedAt, err = parseNullableTime(deletedAt)
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// CreateBookTx inserts a book row within the caller's transaction.
// Returns ErrAlreadyExists when the user already tracks a live book with the
// same title.
func (s *Store) CreateBookTx(ctx context.Context, tx *sql.Tx, book *domain.Book) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO books (
			id, user_id, title, author_name, total_pages,
			current_page, status, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID,
		book.UserID,
		book.Title,
		nullableString(book.AuthorName),
		nullableInt(book.TotalPages),
		book.CurrentPage,
		string(book.Status),
		formatTime(book.CreatedAt),
		formatTime(book.UpdatedAt),
		nullTimeString(book.DeletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetBook retrieves a book by ID, excluding soft-deleted records.
// Returns ErrNotFound if the book does not exist.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ? AND deleted_at IS NULL`, id)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBookByUserTitle retrieves a user's live book by exact title.
// Returns ErrNotFound when the user does not track such a book.
func (s *Store) GetBookByUserTitle(ctx context.Context, userID, title string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books
		WHERE user_id = ? AND title = ? AND deleted_at IS NULL`,
		userID, title)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBooksForUser returns all live books for a user, newest first.
func (s *Store) ListBooksForUser(ctx context.Context, userID string) ([]*domain.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

// BookProjection carries the denormalized fields the ledger maintains on the
// book row. Nil fields are left untouched.
type BookProjection struct {
	Status      *domain.BookStatus
	CurrentPage *int
}

// UpdateBookProjectionTx updates only the supplied projection fields within
// the caller's transaction. It is never called outside a transaction that
// also writes at least one book event.
func (s *Store) UpdateBookProjectionTx(ctx context.Context, tx *sql.Tx, bookID string, proj BookProjection, updatedAt time.Time) error {
	set := []string{"updated_at = ?"}
	args := []any{formatTime(updatedAt)}

	if proj.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*proj.Status))
	}
	if proj.CurrentPage != nil {
		set = append(set, "current_page = ?")
		args = append(args, *proj.CurrentPage)
	}
	args = append(args, bookID)

	result, err := tx.ExecContext(ctx,
		`UPDATE books SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteBookTx marks a book deleted within the caller's transaction.
// The row and its event history survive for audit.
func (s *Store) SoftDeleteBookTx(ctx context.Context, tx *sql.Tx, bookID string, deletedAt time.Time) error {
	ts := formatTime(deletedAt)
	result, err := tx.ExecContext(ctx, `
		UPDATE books SET status = ?, deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		string(domain.StatusDeleted), ts, ts, bookID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
