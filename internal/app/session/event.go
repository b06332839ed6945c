package session

import (
	"context"

	"github.com/utabox/utabox/internal/domain/queue"
)

// EventType identifies a queue mutation.
type EventType string

const (
	EventTrackAdded     EventType = "track.added"
	EventTrackRemoved   EventType = "track.removed"
	EventTrackMoved     EventType = "track.moved"
	EventQueueReordered EventType = "queue.reordered"
	EventTrackSelected  EventType = "track.selected"
	EventTrackAdvanced  EventType = "track.advanced"
	EventQueueEnded     EventType = "queue.ended"
	EventQueueCleared   EventType = "queue.cleared"
)

// Event describes one completed queue mutation. Events are emitted after the
// mutation has been persisted; a failed operation emits nothing.
type Event struct {
	Type         EventType   `json:"type"`
	SessionID    string      `json:"session_id"`
	OwnerID      string      `json:"owner_id"`
	Item         *queue.Item `json:"item,omitempty"`
	AutoPromoted bool        `json:"auto_promoted,omitempty"`
	FromPosition int         `json:"from_position,omitempty"`
	ToPosition   int         `json:"to_position,omitempty"`
	SequenceNo   uint64      `json:"sequence_no,omitempty"`
}

// Notifier receives events after successful mutations. Implementations must
// not block the caller; delivery failures are theirs to handle.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}
