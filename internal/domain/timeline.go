package domain

import "time"

// Timeline logic for reconciling backdated progress entries.
//
// A timeline is the ascending event list of a single (book, version)
// partition, ordered by (date_effective, creation_order). Pages are assumed
// monotonically non-decreasing once established: a backdated insert must not
// silently reduce later recorded pages, but it may itself be superseded by a
// later, already-larger page.

// PartitionTimeline splits an ascending timeline around an effective date.
// Events strictly before at go to before; events dated at or after go to
// after. The >= comparison means an event sharing the exact date of a
// backdated insert is always reprocessed, with insertion order as the
// tie-break.
func PartitionTimeline(events []BookEvent, at time.Time) (before, after []BookEvent) {
	for _, e := range events {
		if e.DateEffective.Before(at) {
			before = append(before, e)
		} else {
			after = append(after, e)
		}
	}
	return before, after
}

// Backdated reports whether an entry effective at refers to a point earlier
// than the last event of an ascending timeline. An empty timeline is never
// backdated.
func Backdated(events []BookEvent, at time.Time) bool {
	if len(events) == 0 {
		return false
	}
	return at.Before(events[len(events)-1].DateEffective)
}

// RepairPages walks the after-region of a partitioned timeline in order and
// corrects each event's page so the sequence never regresses below seed:
//
//   - no page snapshot: carry the previous page forward
//   - page already ahead of the previous one: keep it as asserted
//   - anything else: clamp up to the previous page
//
// Event types are preserved; only pages are corrected. The input is not
// mutated. The returned page is the final carried value - the book's new
// projection after the repair.
func RepairPages(after []BookEvent, seed int) (repaired []BookEvent, finalPage int) {
	prev := seed
	repaired = make([]BookEvent, 0, len(after))
	for _, e := range after {
		corrected := prev
		if e.PageNumber != nil && *e.PageNumber > prev {
			corrected = *e.PageNumber
		}
		page := corrected
		e.PageNumber = &page
		repaired = append(repaired, e)
		prev = corrected
	}
	return repaired, prev
}
