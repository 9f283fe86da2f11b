package domain

import "time"

// BookEventType classifies an occurrence on a book's timeline.
type BookEventType string

// Event types recorded on a book's timeline.
const (
	EventAddToLibrary BookEventType = "ADD_TO_LIBRARY"
	EventStarted      BookEventType = "STARTED"
	EventProgress     BookEventType = "PROGRESS"
	EventCompleted    BookEventType = "COMPLETED"
	EventArchived     BookEventType = "ARCHIVED"
)

// BookEvent is one occurrence within a specific version of a book's timeline.
// Events are append-only - corrections are made by writing a whole new version,
// never by mutating existing rows.
type BookEvent struct {
	ID            string        `json:"id"`
	BookID        string        `json:"book_id"`
	Type          BookEventType `json:"event_type"`
	DateEffective time.Time     `json:"date_effective"`
	PageNumber    *int          `json:"page_number,omitempty"` // nil when the event carries no page snapshot
	Version       int           `json:"version"`
	CreationOrder int64         `json:"creation_order"` // insertion-order tie-break for same-day events
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Page returns the event's page snapshot, or fallback when it has none.
func (e *BookEvent) Page(fallback int) int {
	if e.PageNumber == nil {
		return fallback
	}
	return *e.PageNumber
}

// BookEventVersion represents one generation of a book's event log.
// Exactly one version per book is latest (max version); reads only ever use
// events stamped with it. Superseded versions are kept for audit.
type BookEventVersion struct {
	ID          string    `json:"id"`
	BookID      string    `json:"book_id"`
	Version     int       `json:"version"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StartOfDay truncates t to midnight UTC. Effective dates are stored at day
// granularity so that same-day entries compare equal and fall back to
// insertion order.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
