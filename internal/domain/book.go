// Package domain contains the core business entities and domain logic for the Tome reading tracker.
package domain

import "time"

// BookStatus is the lifecycle state of a tracked book.
type BookStatus string

// Book lifecycle states. WANT_TO_READ → READING → READ is the normal path;
// any state may move to ARCHIVED. DELETED is a soft-delete marker and never
// surfaces through the API.
const (
	StatusWantToRead BookStatus = "WANT_TO_READ"
	StatusReading    BookStatus = "READING"
	StatusRead       BookStatus = "READ"
	StatusArchived   BookStatus = "ARCHIVED"
	StatusDeleted    BookStatus = "DELETED"
)

// Valid reports whether s is a known book status.
func (s BookStatus) Valid() bool {
	switch s {
	case StatusWantToRead, StatusReading, StatusRead, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// Book represents one book a user tracks.
//
// CurrentPage is a denormalized projection over the book's event timeline: it
// always equals the page of the chronologically last event at the book's
// latest version, and is only ever written together with the events that
// justify it.
type Book struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	AuthorName  *string    `json:"author_name,omitempty"`
	TotalPages  *int       `json:"total_pages,omitempty"` // nil = unbounded book
	CurrentPage int        `json:"current_page"`
	Status      BookStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// OwnedBy reports whether the book belongs to the given user.
func (b *Book) OwnedBy(userID string) bool {
	return b.UserID == userID
}

// PageWithinTotal reports whether page fits the book's page count.
// Books without a known total accept any non-negative page.
func (b *Book) PageWithinTotal(page int) bool {
	if page < 0 {
		return false
	}
	if b.TotalPages == nil {
		return true
	}
	return page <= *b.TotalPages
}
