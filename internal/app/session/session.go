// Package session provides the playback session aggregate: an ordered,
// mutable queue of tracks per owner with an "exactly one current item"
// cursor. All mutations run as atomic read-modify-write units against the
// backing store so that concurrent requests on the same session cannot
// produce gapped or duplicate positions.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/utabox/utabox/internal/domain/queue"
)

// Manager resolves playback sessions and fans mutation events out to the
// registered notifiers.
type Manager struct {
	store     Store
	notifiers []Notifier
}

// NewManager creates a session manager on top of a store.
func NewManager(store Store, notifiers ...Notifier) *Manager {
	return &Manager{store: store, notifiers: notifiers}
}

// GetOrCreateActive returns the owner's active session, creating one with an
// empty queue on first access. Repeated calls for the same owner resolve the
// same session.
func (m *Manager) GetOrCreateActive(ctx context.Context, ownerID string) (*PlaybackSession, error) {
	rec, err := m.store.GetOrCreateActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &PlaybackSession{id: rec.ID, ownerID: rec.OwnerID, store: m.store, mgr: m}, nil
}

// AdvanceExpired advances every active session whose playing track has
// outlived its duration as of now. Returns the number of sessions advanced.
// Sessions with an unknown track duration are never advanced.
func (m *Manager) AdvanceExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := m.store.ExpiredPlaying(ctx, now)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, id := range ids {
		s := &PlaybackSession{id: id, store: m.store, mgr: m}
		if _, err := s.AdvanceToNext(ctx); err != nil {
			zlog.Error().Msgf("auto-advance failed: session_id=%s err=%v", id, err)
			continue
		}
		advanced++
	}
	return advanced, nil
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	for _, n := range m.notifiers {
		n.Publish(ctx, ev)
	}
}

// PlaybackSession is a handle on one session's queue. It delegates position
// arithmetic to the queue package and persists every mutation through the
// store's atomic Mutate.
type PlaybackSession struct {
	id      string
	ownerID string
	store   Store
	mgr     *Manager
}

// ID returns the session id.
func (s *PlaybackSession) ID() string { return s.id }

// OwnerID returns the owning user's external identifier.
func (s *PlaybackSession) OwnerID() string { return s.ownerID }

// AddTrack appends a track with its metadata snapshot to the queue. Duplicate
// track refs are allowed. When no item was playing before the add, the new
// item is promoted immediately; the returned flag reports that promotion so
// the boundary can trigger playback.
func (s *PlaybackSession) AddTrack(ctx context.Context, trackRef string, md queue.Metadata) (queue.Item, bool, error) {
	var created queue.Item
	var promoted bool

	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		now := time.Now().UTC()
		created = queue.Item{
			ID:       uuid.New().String(),
			TrackRef: trackRef,
			Metadata: md,
			Position: queue.AppendPosition(v.Items),
			AddedAt:  now,
		}
		promoted = v.PlayingItem() == nil

		cs := &ChangeSet{}
		if promoted {
			created.IsPlaying = true
			cs.Cursor = &Cursor{TrackRef: trackRef, Position: created.Position, StartedAt: &now}
		}
		cs.Insert = []queue.Item{created}
		return cs, nil
	})
	if err != nil {
		return queue.Item{}, false, err
	}

	s.publish(ctx, Event{
		Type:         EventTrackAdded,
		Item:         &created,
		AutoPromoted: promoted,
	})
	return created, promoted, nil
}

// RemoveTrack deletes an item and closes the position gap it leaves. It
// returns false when the id does not belong to this session. Removing the
// playing item leaves the cursor pointing at the removed track until the
// next AdvanceToNext or SelectTrack call.
func (s *PlaybackSession) RemoveTrack(ctx context.Context, itemID string) (bool, error) {
	var removed *queue.Item

	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		it := v.ItemByID(itemID)
		if it == nil {
			return nil, nil
		}
		cp := *it
		removed = &cp

		shifts := queue.RemovalShifts(it.Position, v.Items)
		cs := &ChangeSet{
			Remove:    []string{itemID},
			Positions: shifts,
		}
		if cur := v.PlayingItem(); cur != nil && cur.ID != itemID {
			cs.Cursor = shiftedCursor(v, cur, shifts)
		}
		return cs, nil
	})
	if err != nil || removed == nil {
		return false, err
	}

	s.publish(ctx, Event{Type: EventTrackRemoved, Item: removed})
	return true, nil
}

// Reorder moves an item from oldPos to newPos. It returns false when the
// item is missing, is no longer at oldPos, or newPos is outside the queue
// bounds. Out-of-range targets are rejected, not clamped.
func (s *PlaybackSession) Reorder(ctx context.Context, itemID string, oldPos, newPos int) (bool, error) {
	var moved *queue.Item

	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		it := v.ItemByID(itemID)
		if it == nil || it.Position != oldPos {
			return nil, nil
		}
		changes, err := queue.MoveShifts(oldPos, newPos, v.Items)
		if err != nil {
			// Out-of-range target: reject the operation, keep state intact.
			return nil, nil
		}
		cp := *it
		cp.Position = newPos
		moved = &cp

		cs := &ChangeSet{Positions: changes}
		if cur := v.PlayingItem(); cur != nil {
			cs.Cursor = shiftedCursor(v, cur, changes)
		}
		return cs, nil
	})
	if err != nil || moved == nil {
		return false, err
	}

	s.publish(ctx, Event{
		Type:         EventTrackMoved,
		Item:         moved,
		FromPosition: oldPos,
		ToPosition:   newPos,
	})
	return true, nil
}

// ReorderFull replaces the whole queue order with orderedIDs. It returns
// false unless the id sequence names exactly the current membership.
func (s *PlaybackSession) ReorderFull(ctx context.Context, orderedIDs []string) (bool, error) {
	ok := false

	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		changes, err := queue.Renumber(v.Items, orderedIDs)
		if err != nil {
			return nil, nil
		}
		ok = true

		cs := &ChangeSet{Positions: changes}
		if cur := v.PlayingItem(); cur != nil {
			cs.Cursor = shiftedCursor(v, cur, changes)
		}
		return cs, nil
	})
	if err != nil || !ok {
		return false, err
	}

	s.publish(ctx, Event{Type: EventQueueReordered})
	return true, nil
}

// SelectTrack marks the given item as the one playing now, clearing the flag
// everywhere else. Returns nil when the id is not part of this session.
func (s *PlaybackSession) SelectTrack(ctx context.Context, itemID string) (*queue.Item, error) {
	var selected *queue.Item

	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		it := v.ItemByID(itemID)
		if it == nil {
			return nil, nil
		}
		now := time.Now().UTC()
		cp := *it
		cp.IsPlaying = true
		selected = &cp

		id := it.ID
		return &ChangeSet{
			Playing: &id,
			Cursor:  &Cursor{TrackRef: it.TrackRef, Position: it.Position, StartedAt: &now},
		}, nil
	})
	if err != nil || selected == nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventTrackSelected, Item: selected})
	return selected, nil
}

// AdvanceToNext stops the current item and starts the one with the smallest
// position past the cursor. At the end of the queue it clears the playing
// flag everywhere, nulls the cursor track ref, and returns nil; there is no
// wrap-around.
func (s *PlaybackSession) AdvanceToNext(ctx context.Context) (*queue.Item, error) {
	var next *queue.Item

	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		var candidate *queue.Item
		for i := range v.Items {
			if v.Items[i].Position <= v.Session.CurrentPosition {
				continue
			}
			if candidate == nil || v.Items[i].Position < candidate.Position {
				candidate = &v.Items[i]
			}
		}

		if candidate == nil {
			next = nil
			none := ""
			// Keep the position so repeated advances stay terminal.
			return &ChangeSet{
				Playing: &none,
				Cursor:  &Cursor{TrackRef: "", Position: v.Session.CurrentPosition},
			}, nil
		}

		now := time.Now().UTC()
		cp := *candidate
		cp.IsPlaying = true
		next = &cp

		id := candidate.ID
		return &ChangeSet{
			Playing: &id,
			Cursor:  &Cursor{TrackRef: candidate.TrackRef, Position: candidate.Position, StartedAt: &now},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if next == nil {
		s.publish(ctx, Event{Type: EventQueueEnded})
		return nil, nil
	}
	s.publish(ctx, Event{Type: EventTrackAdvanced, Item: next})
	return next, nil
}

// Clear deletes every item and resets the cursor.
func (s *PlaybackSession) Clear(ctx context.Context) error {
	err := s.store.Mutate(ctx, s.id, func(v *View) (*ChangeSet, error) {
		return &ChangeSet{
			RemoveAll: true,
			Cursor:    &Cursor{TrackRef: "", Position: 0},
		}, nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, Event{Type: EventQueueCleared})
	return nil
}

// CurrentItem returns the item marked playing, or nil.
func (s *PlaybackSession) CurrentItem(ctx context.Context) (*queue.Item, error) {
	v, err := s.store.View(ctx, s.id)
	if err != nil {
		return nil, err
	}
	if cur := v.PlayingItem(); cur != nil {
		cp := *cur
		return &cp, nil
	}
	return nil, nil
}

// Items returns every item ordered by position.
func (s *PlaybackSession) Items(ctx context.Context) ([]queue.Item, error) {
	v, err := s.store.View(ctx, s.id)
	if err != nil {
		return nil, err
	}
	return v.Items, nil
}

// Upcoming returns the non-playing items ordered by position.
func (s *PlaybackSession) Upcoming(ctx context.Context) ([]queue.Item, error) {
	v, err := s.store.View(ctx, s.id)
	if err != nil {
		return nil, err
	}
	upcoming := make([]queue.Item, 0, len(v.Items))
	for _, it := range v.Items {
		if !it.IsPlaying {
			upcoming = append(upcoming, it)
		}
	}
	return upcoming, nil
}

func (s *PlaybackSession) publish(ctx context.Context, ev Event) {
	if s.mgr == nil {
		return
	}
	ev.SessionID = s.id
	ev.OwnerID = s.ownerID
	s.mgr.publish(ctx, ev)
}

// shiftedCursor re-points the cursor at the playing item when a shift moved
// it, preserving the playback start time. Returns nil when its position is
// unchanged.
func shiftedCursor(v *View, cur *queue.Item, changes []queue.PositionChange) *Cursor {
	for _, c := range changes {
		if c.ItemID == cur.ID && c.Position != cur.Position {
			return &Cursor{
				TrackRef:  cur.TrackRef,
				Position:  c.Position,
				StartedAt: v.Session.PlayingStartedAt,
			}
		}
	}
	return nil
}
