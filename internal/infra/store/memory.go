// Package store provides the session store implementations: an in-process
// memory store and a PostgreSQL store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utabox/utabox/internal/app/session"
	"github.com/utabox/utabox/internal/domain/queue"
)

// Memory keeps sessions in process memory. Mutations of one session are
// serialized by a per-session mutex, which gives the same atomic
// read-modify-write guarantee the PostgreSQL store gets from transactions.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	byOwner  map[string]string // owner id -> active session id
}

type memSession struct {
	mu     sync.Mutex
	record session.Record
	items  []queue.Item // kept sorted by position
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*memSession),
		byOwner:  make(map[string]string),
	}
}

// GetOrCreateActive returns the owner's active session record, creating it
// under the store lock so concurrent first access yields a single session.
func (m *Memory) GetOrCreateActive(_ context.Context, ownerID string) (session.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byOwner[ownerID]; ok {
		return m.sessions[id].record, nil
	}

	rec := session.Record{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	m.sessions[rec.ID] = &memSession{record: rec}
	m.byOwner[ownerID] = rec.ID
	return rec, nil
}

// View returns a copy of the session state.
func (m *Memory) View(_ context.Context, sessionID string) (*session.View, error) {
	ms, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.viewLocked(), nil
}

// Mutate runs fn against a snapshot and applies the change set under the
// session mutex. A failed fn or a nil change set leaves the state untouched.
func (m *Memory) Mutate(_ context.Context, sessionID string, fn func(v *session.View) (*session.ChangeSet, error)) error {
	ms, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	cs, err := fn(ms.viewLocked())
	if err != nil {
		return err
	}
	if cs == nil {
		return nil
	}
	ms.applyLocked(cs)
	return nil
}

// ExpiredPlaying returns sessions whose playing item has a known duration
// that elapsed before now.
func (m *Memory) ExpiredPlaying(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	all := make([]*memSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms)
	}
	m.mu.Unlock()

	var expired []string
	for _, ms := range all {
		ms.mu.Lock()
		startedAt := ms.record.PlayingStartedAt
		if startedAt != nil && ms.record.IsActive {
			for i := range ms.items {
				if ms.items[i].IsPlaying && ms.items[i].Metadata.DurationSeconds > 0 &&
					startedAt.Add(ms.items[i].Duration()).Before(now) {
					expired = append(expired, ms.record.ID)
					break
				}
			}
		}
		ms.mu.Unlock()
	}
	return expired, nil
}

func (m *Memory) lookup(sessionID string) (*memSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return ms, nil
}

// viewLocked copies the session state. Must be called with ms.mu held.
func (ms *memSession) viewLocked() *session.View {
	items := make([]queue.Item, len(ms.items))
	copy(items, ms.items)
	return &session.View{Session: ms.record, Items: items}
}

// applyLocked applies a change set in the documented order. Must be called
// with ms.mu held.
func (ms *memSession) applyLocked(cs *session.ChangeSet) {
	if cs.RemoveAll {
		ms.items = ms.items[:0]
	}
	for _, id := range cs.Remove {
		for i := range ms.items {
			if ms.items[i].ID == id {
				ms.items = append(ms.items[:i], ms.items[i+1:]...)
				break
			}
		}
	}
	for _, pc := range cs.Positions {
		for i := range ms.items {
			if ms.items[i].ID == pc.ItemID {
				ms.items[i].Position = pc.Position
				break
			}
		}
	}
	ms.items = append(ms.items, cs.Insert...)
	if cs.Playing != nil {
		for i := range ms.items {
			ms.items[i].IsPlaying = ms.items[i].ID == *cs.Playing && *cs.Playing != ""
		}
	}
	if cs.Cursor != nil {
		ms.record.CurrentTrackRef = cs.Cursor.TrackRef
		ms.record.CurrentPosition = cs.Cursor.Position
		ms.record.PlayingStartedAt = cs.Cursor.StartedAt
	}
	sort.Slice(ms.items, func(i, j int) bool {
		return ms.items[i].Position < ms.items[j].Position
	})
}
