// Package playback normalizes "what is playing now" queries into snapshots.
package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single playback query.
const DefaultTimeout = 10 * time.Second

// Snapshot is the playback state observed by one poll.
type Snapshot struct {
	IsPlaying   bool
	TrackID     string
	AlbumArtURL string
	Title       string
	Artist      string
}

// Source answers "what is playing now". A nil snapshot means nothing is playing.
type Source interface {
	CurrentPlayback(ctx context.Context) (*Snapshot, error)
}

// Poller queries a Source once per call.
type Poller struct {
	source  Source
	timeout time.Duration
}

// NewPoller creates a Poller. A non-positive timeout uses DefaultTimeout.
func NewPoller(source Source, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{source: source, timeout: timeout}
}

// Poll runs one query. It never fails: errors, empty responses, items without
// an id and paused playback all yield a not-playing snapshot.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := p.source.CurrentPlayback(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to query playback")
		return Snapshot{}
	}
	if snap == nil || !snap.IsPlaying || snap.TrackID == "" {
		return Snapshot{}
	}
	return *snap
}
