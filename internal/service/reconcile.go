package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomeapp/tome-server/internal/domain"
	"github.com/tomeapp/tome-server/internal/id"
	"github.com/tomeapp/tome-server/internal/store"
)

// reconcileTimelineTx rebuilds a book's timeline around a backdated progress
// entry, within the caller's transaction. It creates a new version, copies
// every event dated strictly before the entry unchanged, inserts the new
// entry, then re-walks the remaining events in order repairing their pages so
// the sequence never regresses. The final carried page is written as the
// book's current_page projection and returned.
//
// timeline must be the ascending event list of the book's latest version,
// read inside the same transaction, so the copy being repaired is consistent
// with the version row created here. Two writers racing on the same book
// surface as ErrVersionConflict via the UNIQUE(book_id, version) constraint,
// and the whole rebuild rolls back.
func (s *BookService) reconcileTimelineTx(ctx context.Context, tx *sql.Tx, bookID string, timeline []domain.BookEvent, at time.Time, page int, now time.Time) (int, error) {
	before, after := domain.PartitionTimeline(timeline, at)

	versionID, err := id.Generate(id.PrefixVersion)
	if err != nil {
		return 0, fmt.Errorf("generate version ID: %w", err)
	}
	description := fmt.Sprintf("Backdated progress entry for %s (page %d)", at.Format("2006-01-02"), page)
	next, err := s.store.CreateNextVersionTx(ctx, tx, versionID, bookID, description, now)
	if err != nil {
		return 0, err
	}

	repaired, finalPage := domain.RepairPages(after, page)

	// Assemble the rebuilt timeline: the untouched prefix, the backdated
	// entry, then the repaired suffix. The backdated entry sits ahead of
	// the suffix so insertion order places it before any event sharing
	// its date.
	rebuilt := make([]*domain.BookEvent, 0, len(timeline)+1)
	for _, e := range before {
		c, err := copyEvent(e, next.Version, now)
		if err != nil {
			return 0, err
		}
		rebuilt = append(rebuilt, c)
	}

	eventID, err := id.Generate(id.PrefixEvent)
	if err != nil {
		return 0, fmt.Errorf("generate event ID: %w", err)
	}
	p := page
	rebuilt = append(rebuilt, &domain.BookEvent{
		ID:            eventID,
		BookID:        bookID,
		Type:          domain.EventProgress,
		DateEffective: at,
		PageNumber:    &p,
		Version:       next.Version,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	for _, e := range repaired {
		c, err := copyEvent(e, next.Version, now)
		if err != nil {
			return 0, err
		}
		rebuilt = append(rebuilt, c)
	}

	if err := s.store.AppendEventsTx(ctx, tx, rebuilt); err != nil {
		return 0, err
	}

	if err := s.store.UpdateBookProjectionTx(ctx, tx, bookID, store.BookProjection{
		CurrentPage: &finalPage,
	}, now); err != nil {
		return 0, err
	}

	return finalPage, nil
}

// copyEvent builds a copy of an event for a new version: same type, date,
// and page, with a fresh identifier and version stamp. Source rows are never
// reused or mutated.
func copyEvent(e domain.BookEvent, version int, now time.Time) (*domain.BookEvent, error) {
	eventID, err := id.Generate(id.PrefixEvent)
	if err != nil {
		return nil, fmt.Errorf("generate event ID: %w", err)
	}

	var page *int
	if e.PageNumber != nil {
		p := *e.PageNumber
		page = &p
	}

	return &domain.BookEvent{
		ID:            eventID,
		BookID:        e.BookID,
		Type:          e.Type,
		DateEffective: e.DateEffective,
		PageNumber:    page,
		Version:       version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
