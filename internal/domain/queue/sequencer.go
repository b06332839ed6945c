package queue

import "github.com/cockroachdb/errors"

var (
	// ErrPositionOutOfRange is returned when a move targets a position
	// outside the current queue bounds. Out-of-range positions are rejected,
	// never clamped.
	ErrPositionOutOfRange = errors.New("position out of range")
	// ErrOrderMismatch is returned when a full reorder does not name exactly
	// the current queue membership.
	ErrOrderMismatch = errors.New("ordering does not match queue membership")
)

// PositionChange assigns a new position to a single item.
type PositionChange struct {
	ItemID   string
	Position int
}

// AppendPosition returns the position a newly appended item receives.
// The first item of an empty queue gets position 0.
func AppendPosition(items []Item) int {
	maxPos := -1
	for i := range items {
		if items[i].Position > maxPos {
			maxPos = items[i].Position
		}
	}
	return maxPos + 1
}

// RemovalShifts returns the position changes that close the gap left by
// removing the item at removedPos: every item past it moves up by one.
// The removed item itself is not part of the result.
func RemovalShifts(removedPos int, items []Item) []PositionChange {
	changes := make([]PositionChange, 0, len(items))
	for i := range items {
		if items[i].Position > removedPos {
			changes = append(changes, PositionChange{
				ItemID:   items[i].ID,
				Position: items[i].Position - 1,
			})
		}
	}
	return changes
}

// MoveShifts returns the position changes for moving the item at oldPos to
// newPos. Moving later shifts the items in (oldPos, newPos] up by one;
// moving earlier shifts the items in [newPos, oldPos) down by one. A
// same-position move yields no changes.
func MoveShifts(oldPos, newPos int, items []Item) ([]PositionChange, error) {
	if oldPos < 0 || oldPos >= len(items) || newPos < 0 || newPos >= len(items) {
		return nil, errors.Wrapf(ErrPositionOutOfRange,
			"move %d -> %d with %d items", oldPos, newPos, len(items))
	}
	if oldPos == newPos {
		return []PositionChange{}, nil
	}

	changes := make([]PositionChange, 0, len(items))
	for i := range items {
		p := items[i].Position
		switch {
		case p == oldPos:
			changes = append(changes, PositionChange{ItemID: items[i].ID, Position: newPos})
		case oldPos < newPos && p > oldPos && p <= newPos:
			changes = append(changes, PositionChange{ItemID: items[i].ID, Position: p - 1})
		case oldPos > newPos && p >= newPos && p < oldPos:
			changes = append(changes, PositionChange{ItemID: items[i].ID, Position: p + 1})
		}
	}
	return changes, nil
}

// Renumber assigns positions 0..N-1 following orderedIDs. The id sequence
// must name every current item exactly once. Items whose position already
// matches are omitted from the result.
func Renumber(items []Item, orderedIDs []string) ([]PositionChange, error) {
	if len(orderedIDs) != len(items) {
		return nil, errors.Wrapf(ErrOrderMismatch,
			"%d ids for %d items", len(orderedIDs), len(items))
	}

	current := make(map[string]int, len(items))
	for i := range items {
		current[items[i].ID] = items[i].Position
	}

	seen := make(map[string]bool, len(orderedIDs))
	changes := make([]PositionChange, 0, len(orderedIDs))
	for pos, id := range orderedIDs {
		oldPos, ok := current[id]
		if !ok {
			return nil, errors.Wrapf(ErrOrderMismatch, "unknown item id %s", id)
		}
		if seen[id] {
			return nil, errors.Wrapf(ErrOrderMismatch, "duplicate item id %s", id)
		}
		seen[id] = true
		if oldPos != pos {
			changes = append(changes, PositionChange{ItemID: id, Position: pos})
		}
	}
	return changes, nil
}
