package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tomeapp/tome-server/internal/domain"
)

// versionColumns is the ordered list of columns selected in version queries.
// Must match the scan order in scanVersion.
const versionColumns = `id, book_id, version, description, created_at, updated_at`

func scanVersion(scanner interface{ Scan(dest ...any) error }) (*domain.BookEventVersion, error) {
	var v domain.BookEventVersion

	var (
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&v.ID,
		&v.BookID,
		&v.Version,
		&v.Description,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	v.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// LatestVersion returns the highest-numbered version row for a book.
// Every book gets version 1 at creation, so a missing row is a data-integrity
// bug and surfaces as ErrNoVersionFound.
func (s *Store) LatestVersion(ctx context.Context, bookID string) (*domain.BookEventVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM book_event_versions
		WHERE book_id = ?
		ORDER BY version DESC LIMIT 1`,
		bookID)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoVersionFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// LatestVersionTx is LatestVersion inside the caller's transaction.
func (s *Store) LatestVersionTx(ctx context.Context, tx *sql.Tx, bookID string) (*domain.BookEventVersion, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM book_event_versions
		WHERE book_id = ?
		ORDER BY version DESC LIMIT 1`,
		bookID)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoVersionFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVersionTx inserts a version row with an explicit version number
// within the caller's transaction. Used for the initial version 1 when a
// book is created.
func (s *Store) CreateVersionTx(ctx context.Context, tx *sql.Tx, v *domain.BookEventVersion) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO book_event_versions (
			id, book_id, version, description, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID,
		v.BookID,
		v.Version,
		v.Description,
		formatTime(v.CreatedAt),
		formatTime(v.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrVersionConflict.WithCause(err)
		}
		return err
	}
	return nil
}

// CreateNextVersionTx inserts a version row numbered one past the book's
// current latest, within the caller's transaction. Two writers racing on the
// same book compute the same next number; the UNIQUE(book_id, version)
// constraint makes the loser fail with ErrVersionConflict instead of
// silently forking the timeline.
func (s *Store) CreateNextVersionTx(ctx context.Context, tx *sql.Tx, id, bookID, description string, now time.Time) (*domain.BookEventVersion, error) {
	var latest sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM book_event_versions WHERE book_id = ?`,
		bookID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, ErrNoVersionFound
	}

	v := &domain.BookEventVersion{
		ID:          id,
		BookID:      bookID,
		Version:     int(latest.Int64) + 1,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateVersionTx(ctx, tx, v); err != nil {
		return nil, err
	}
	return v, nil
}
