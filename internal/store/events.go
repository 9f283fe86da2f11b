package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/tomeapp/tome-server/internal/domain"
)

// Order controls the timeline sort direction. The sort key is the pair
// (date_effective, creation_order_id): the insertion-order tie-break flips
// together with the date so that a descending read is the exact reverse of
// an ascending one.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// eventColumns is the ordered list of columns selected in event queries.
// Must match the scan order in scanEvent.
const eventColumns = `creation_order_id, id, book_id, event_type,
	date_effective, page_number, version, created_at, updated_at`

// scanEvent scans a sql.Row (or sql.Rows via its Scan method) into a
// domain.BookEvent.
func scanEvent(scanner interface{ Scan(dest ...any) error }) (*domain.BookEvent, error) {
	var e domain.BookEvent

	var (
		eventType     string
		dateEffective string
		pageNumber    sql.NullInt64
		createdAt     string
		updatedAt     string
	)

	err := scanner.Scan(
		&e.CreationOrder,
		&e.ID,
		&e.BookID,
		&eventType,
		&dateEffective,
		&pageNumber,
		&e.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = domain.BookEventType(eventType)
	e.PageNumber = intPtr(pageNumber)

	e.DateEffective, err = parseTime(dateEffective)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	e.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// AppendEventTx inserts a single event within the caller's transaction and
// fills in its creation order from the autoincrement id. The event's version
// must already exist in book_event_versions; a dangling version surfaces as
// ErrConstraintViolation.
func (s *Store) AppendEventTx(ctx context.Context, tx *sql.Tx, event *domain.BookEvent) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO book_events (
			id, book_id, event_type, date_effective,
			page_number, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.BookID,
		string(event.Type),
		formatTime(event.DateEffective),
		nullableInt(event.PageNumber),
		event.Version,
		formatTime(event.CreatedAt),
		formatTime(event.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrConstraintViolation.WithCause(err)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return err
	}

	event.CreationOrder, err = result.LastInsertId()
	return err
}

// AppendEventsTx inserts events in order within the caller's transaction.
// Insertion order is what breaks ties between same-day events, so callers
// must pass events already sorted the way the timeline should read.
func (s *Store) AppendEventsTx(ctx context.Context, tx *sql.Tx, events []*domain.BookEvent) error {
	for _, event := range events {
		if err := s.AppendEventTx(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

// EventsAtVersion returns every event of one version of a book's timeline,
// sorted by effective date with insertion order as the tie-break.
func (s *Store) EventsAtVersion(ctx context.Context, bookID string, version int, order Order) ([]*domain.BookEvent, error) {
	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM book_events
		WHERE book_id = ? AND version = ?
		ORDER BY date_effective `+dir+`, creation_order_id `+dir,
		bookID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.BookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// EventsAtVersionTx is EventsAtVersion inside the caller's transaction. The
// reconciler reads the old timeline through this so the copy it repairs is
// consistent with the version row it just created.
func (s *Store) EventsAtVersionTx(ctx context.Context, tx *sql.Tx, bookID string, version int, order Order) ([]*domain.BookEvent, error) {
	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM book_events
		WHERE book_id = ? AND version = ?
		ORDER BY date_effective `+dir+`, creation_order_id `+dir,
		bookID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.BookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
