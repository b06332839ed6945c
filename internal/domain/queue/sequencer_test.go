package queue

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(ids ...string) []Item {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, TrackRef: "ref-" + id, Position: i}
	}
	return items
}

// applyChanges returns item IDs in queue order after applying changes.
func applyChanges(items []Item, changes []PositionChange) []string {
	byID := make(map[string]int, len(items))
	for i := range items {
		byID[items[i].ID] = items[i].Position
	}
	for _, c := range changes {
		byID[c.ItemID] = c.Position
	}
	type entry struct {
		id  string
		pos int
	}
	entries := make([]entry, 0, len(byID))
	for id, pos := range byID {
		entries = append(entries, entry{id, pos})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

func TestAppendPosition(t *testing.T) {
	tests := []struct {
		name     string
		items    []Item
		expected int
	}{
		{
			name:     "empty queue yields position 0",
			items:    nil,
			expected: 0,
		},
		{
			name:     "single item",
			items:    fixture("a"),
			expected: 1,
		},
		{
			name:     "multiple items",
			items:    fixture("a", "b", "c"),
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AppendPosition(tt.items))
		})
	}
}

func TestRemovalShifts(t *testing.T) {
	tests := []struct {
		name       string
		items      []Item
		removedPos int
		expected   []PositionChange
	}{
		{
			name:       "remove middle shifts tail up",
			items:      fixture("a", "b", "c", "d"),
			removedPos: 1,
			expected: []PositionChange{
				{ItemID: "c", Position: 1},
				{ItemID: "d", Position: 2},
			},
		},
		{
			name:       "remove last leaves rest untouched",
			items:      fixture("a", "b", "c"),
			removedPos: 2,
			expected:   []PositionChange{},
		},
		{
			name:       "remove first shifts everything",
			items:      fixture("a", "b"),
			removedPos: 0,
			expected: []PositionChange{
				{ItemID: "b", Position: 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := RemovalShifts(tt.removedPos, tt.items)
			assert.Equal(t, tt.expected, changes)
		})
	}
}

func TestMoveShifts(t *testing.T) {
	tests := []struct {
		name          string
		items         []Item
		oldPos        int
		newPos        int
		expectedOrder []string
		wantErr       error
	}{
		{
			name:          "move later",
			items:         fixture("a", "b", "c", "d"),
			oldPos:        0,
			newPos:        2,
			expectedOrder: []string{"b", "c", "a", "d"},
		},
		{
			name:          "move earlier",
			items:         fixture("a", "b", "c", "d"),
			oldPos:        3,
			newPos:        1,
			expectedOrder: []string{"a", "d", "b", "c"},
		},
		{
			name:          "move to last",
			items:         fixture("a", "b", "c"),
			oldPos:        0,
			newPos:        2,
			expectedOrder: []string{"b", "c", "a"},
		},
		{
			name:          "same position is a no-op",
			items:         fixture("a", "b", "c"),
			oldPos:        1,
			newPos:        1,
			expectedOrder: []string{"a", "b", "c"},
		},
		{
			name:    "new position past end is rejected",
			items:   fixture("a", "b"),
			oldPos:  0,
			newPos:  2,
			wantErr: ErrPositionOutOfRange,
		},
		{
			name:    "negative position is rejected",
			items:   fixture("a", "b"),
			oldPos:  1,
			newPos:  -1,
			wantErr: ErrPositionOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := MoveShifts(tt.oldPos, tt.newPos, tt.items)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOrder, applyChanges(tt.items, changes))
		})
	}
}

func TestMoveShifts_NoOpReturnsEmpty(t *testing.T) {
	changes, err := MoveShifts(1, 1, fixture("a", "b", "c"))
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRenumber(t *testing.T) {
	tests := []struct {
		name          string
		items         []Item
		orderedIDs    []string
		expectedOrder []string
		wantErr       error
	}{
		{
			name:          "full reverse",
			items:         fixture("a", "b", "c"),
			orderedIDs:    []string{"c", "b", "a"},
			expectedOrder: []string{"c", "b", "a"},
		},
		{
			name:          "identity yields no changes",
			items:         fixture("a", "b", "c"),
			orderedIDs:    []string{"a", "b", "c"},
			expectedOrder: []string{"a", "b", "c"},
		},
		{
			name:       "missing id is rejected",
			items:      fixture("a", "b"),
			orderedIDs: []string{"a", "x"},
			wantErr:    ErrOrderMismatch,
		},
		{
			name:       "duplicate id is rejected",
			items:      fixture("a", "b"),
			orderedIDs: []string{"a", "a"},
			wantErr:    ErrOrderMismatch,
		},
		{
			name:       "wrong count is rejected",
			items:      fixture("a", "b", "c"),
			orderedIDs: []string{"a", "b"},
			wantErr:    ErrOrderMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := Renumber(tt.items, tt.orderedIDs)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOrder, applyChanges(tt.items, changes))
		})
	}
}

func TestRenumber_EmitsOnlyChangedPositions(t *testing.T) {
	changes, err := Renumber(fixture("a", "b", "c"), []string{"a", "c", "b"})
	require.NoError(t, err)
	assert.Equal(t, []PositionChange{
		{ItemID: "c", Position: 1},
		{ItemID: "b", Position: 2},
	}, changes)
}
