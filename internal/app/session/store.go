package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/utabox/utabox/internal/domain/queue"
)

var (
	// ErrSessionNotFound is returned when a session id resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict marks store errors caused by a conflicting concurrent
	// write. The operation left no partial state and may be retried.
	ErrConflict = errors.New("concurrent modification conflict")
)

// Record mirrors one persisted session.
type Record struct {
	ID               string
	OwnerID          string
	IsActive         bool
	CurrentTrackRef  string // empty when nothing is playing
	CurrentPosition  int
	PlayingStartedAt *time.Time
	CreatedAt        time.Time
}

// View is the state a mutation closure operates on: the session record and
// its items ordered by position. Closures treat it as read-only; all writes
// go through the returned ChangeSet.
type View struct {
	Session Record
	Items   []queue.Item
}

// ItemByID returns the item with the given id, or nil.
func (v *View) ItemByID(id string) *queue.Item {
	for i := range v.Items {
		if v.Items[i].ID == id {
			return &v.Items[i]
		}
	}
	return nil
}

// PlayingItem returns the item marked playing, or nil.
func (v *View) PlayingItem() *queue.Item {
	for i := range v.Items {
		if v.Items[i].IsPlaying {
			return &v.Items[i]
		}
	}
	return nil
}

// Cursor describes an update to the session's playing cursor. An empty
// TrackRef means nothing is playing.
type Cursor struct {
	TrackRef  string
	Position  int
	StartedAt *time.Time
}

// ChangeSet lists the writes one mutation produced. Nil pointer fields leave
// the corresponding state untouched. Stores apply the fields in declaration
// order: removals, position changes, inserts, playing flag, cursor.
type ChangeSet struct {
	RemoveAll bool
	Remove    []string // item ids to delete
	Positions []queue.PositionChange
	Insert    []queue.Item
	Playing   *string // item id to mark playing; empty string clears all
	Cursor    *Cursor
}

// Store persists sessions and their queues.
//
// Mutate executes fn against the current state of one session and applies
// the returned change set as a single atomic unit: concurrent mutations of
// the same session never interleave, and when fn returns an error nothing
// is written. A nil change set commits no writes.
type Store interface {
	GetOrCreateActive(ctx context.Context, ownerID string) (Record, error)
	View(ctx context.Context, sessionID string) (*View, error)
	Mutate(ctx context.Context, sessionID string, fn func(v *View) (*ChangeSet, error)) error

	// ExpiredPlaying returns ids of active sessions whose playing item has a
	// known duration that elapsed before now.
	ExpiredPlaying(ctx context.Context, now time.Time) ([]string, error)
}
