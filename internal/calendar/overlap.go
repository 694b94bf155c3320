package calendar

import "sort"

// Slot is a half-open [Start, End) interval on a single date.
type Slot struct {
	Date  Date
	Start TimeOfDay
	End   TimeOfDay
}

// Valid reports whether the slot has a positive duration within one day.
func (s Slot) Valid() bool {
	return s.Start.Valid() && s.End.Valid() && s.Start < s.End
}

// Overlaps reports whether both slots fall on the same date and their
// intervals intersect. Touching endpoints do not overlap.
func (s Slot) Overlaps(other Slot) bool {
	if s.Date != other.Date {
		return false
	}
	return s.Start < other.End && other.Start < s.End
}

// Reservation is a slot held on a specific room.
type Reservation struct {
	ID     int64
	RoomID int64
	Slot   Slot
}

// Overlap describes an existing reservation that intersects a candidate.
type Overlap struct {
	WithID int64
	RoomID int64
	Slot   Slot
}

// DetectOverlaps returns the reservations in existing that occupy the
// candidate's room during an intersecting interval. The candidate itself,
// matched by ID, is ignored. Results are ordered by start time then ID.
func DetectOverlaps(existing []Reservation, candidate Reservation) []Overlap {
	var overlaps []Overlap
	for _, other := range existing {
		if candidate.ID != 0 && other.ID == candidate.ID {
			continue
		}
		if other.RoomID != candidate.RoomID {
			continue
		}
		if !other.Slot.Overlaps(candidate.Slot) {
			continue
		}
		overlaps = append(overlaps, Overlap{WithID: other.ID, RoomID: other.RoomID, Slot: other.Slot})
	}

	sort.Slice(overlaps, func(i, j int) bool {
		if overlaps[i].Slot.Start == overlaps[j].Slot.Start {
			return overlaps[i].WithID < overlaps[j].WithID
		}
		return overlaps[i].Slot.Start < overlaps[j].Slot.Start
	})
	return overlaps
}
