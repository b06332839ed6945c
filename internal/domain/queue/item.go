// Package queue provides the playback queue domain entities and the pure
// position arithmetic used to keep a session's queue dense and ordered.
package queue

import "time"

// Metadata holds display information snapshotted from the catalog when a
// track is queued. It is never refreshed after the item is created.
type Metadata struct {
	Title           string // Track title
	ThumbnailRef    string // Thumbnail image reference
	SourceLabel     string // Channel or artist label
	DurationSeconds int    // Track duration in seconds (0 if unknown)
}

// Item represents a single entry in a session's playback queue.
type Item struct {
	ID        string    // UUID, unique within a session
	TrackRef  string    // External catalog identifier
	Metadata  Metadata  // Display metadata snapshot
	Position  int       // Zero-based dense rank defining play order
	IsPlaying bool      // At most one item per session is playing
	AddedAt   time.Time // Time when added to the queue
}

// Duration returns the track duration, or zero when unknown.
func (i *Item) Duration() time.Duration {
	return time.Duration(i.Metadata.DurationSeconds) * time.Second
}

// TotalDuration returns the combined duration of all items.
func TotalDuration(items []Item) time.Duration {
	var total time.Duration
	for i := range items {
		total += items[i].Duration()
	}
	return total
}
