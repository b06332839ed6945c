// Package catalog defines the track resolution boundary. The queue engine
// never calls the catalog itself; the HTTP boundary resolves a track first
// and hands the metadata snapshot to AddTrack.
package catalog

import (
	"context"

	"github.com/utabox/utabox/internal/domain/queue"
)

// TrackInfo is the catalog's answer for one track reference.
type TrackInfo struct {
	TrackRef        string
	Title           string
	ThumbnailRef    string
	SourceLabel     string
	DurationSeconds int
}

// Resolver looks up display metadata for a track reference.
type Resolver interface {
	ResolveTrack(ctx context.Context, trackRef string) (*TrackInfo, error)
}

// Metadata converts the catalog answer into the queue snapshot shape.
func (t *TrackInfo) Metadata() queue.Metadata {
	return queue.Metadata{
		Title:           t.Title,
		ThumbnailRef:    t.ThumbnailRef,
		SourceLabel:     t.SourceLabel,
		DurationSeconds: t.DurationSeconds,
	}
}
