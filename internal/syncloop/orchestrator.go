package syncloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/lights"
	"github.com/dokzlo13/tracklight/internal/playback"
	"github.com/dokzlo13/tracklight/internal/rgb"
)

// DefaultPollInterval is the delay between the end of one cycle and the start
// of the next.
const DefaultPollInterval = 2 * time.Second

// Poller reports the current playback.
type Poller interface {
	Poll(ctx context.Context) playback.Snapshot
}

// Fetcher downloads album art.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor reduces album art to a single color.
type Extractor interface {
	Extract(data []byte) (rgb.Color, error)
	Fallback() rgb.Color
}

// Sink applies a color to every light.
type Sink interface {
	SetRGBColorForAll(ctx context.Context, c rgb.Color, transition time.Duration) lights.Report
}

// StateStore persists the last applied track.
type StateStore interface {
	LoadLastTrack(ctx context.Context) (string, error)
	SaveLastTrack(ctx context.Context, trackID, color string) error
}

// Filter adjusts the extracted color before it is applied.
type Filter interface {
	Apply(ctx context.Context, c rgb.Color, snap playback.Snapshot) (rgb.Color, error)
}

// Deps are the collaborators of the loop. Store and Filter are optional.
type Deps struct {
	Poller    Poller
	Fetcher   Fetcher
	Extractor Extractor
	Sink      Sink
	Store     StateStore
	Filter    Filter
}

// Config tunes the loop.
type Config struct {
	PollInterval time.Duration
	Transition   time.Duration
}

// Outcome describes one cycle.
type Outcome struct {
	CycleID  string
	Snapshot playback.Snapshot
	Decision Decision
	Applied  bool
	Color    rgb.Color
	Report   lights.Report
	Err      error
	Elapsed  time.Duration
}

// Status is the loop state exposed to the health server.
type Status struct {
	LastTrackID string     `json:"last_track_id"`
	LastTitle   string     `json:"last_title,omitempty"`
	LastArtist  string     `json:"last_artist,omitempty"`
	LastColor   *rgb.Color `json:"last_color,omitempty"`
	LastCycle   time.Time  `json:"last_cycle"`
	LastApplied time.Time  `json:"last_applied"`
	Cycles      int64      `json:"cycles"`
}

// Orchestrator runs the sync cycle. Tick is not safe for concurrent use;
// Status may be called from any goroutine.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu     sync.RWMutex
	state  State
	status Status
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Restore loads the persisted last track so a restart does not re-apply it.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.deps.Store == nil {
		return nil
	}
	trackID, err := o.deps.Store.LoadLastTrack(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.state = State{LastTrackID: trackID}
	o.status.LastTrackID = trackID
	o.mu.Unlock()

	if trackID != "" {
		log.Info().Str("track", trackID).Msg("Restored last applied track")
	}
	return nil
}

// State returns the current loop state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns a copy of the loop status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := o.status
	if st.LastColor != nil {
		c := *st.LastColor
		st.LastColor = &c
	}
	return st
}

// Run ticks until ctx is cancelled. The first cycle starts immediately; each
// following one starts PollInterval after the previous one finished.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Dur("poll_interval", o.cfg.PollInterval).Msg("Sync loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sync loop stopping")
			return nil
		case <-timer.C:
			o.Tick(ctx)
			timer.Reset(o.cfg.PollInterval)
		}
	}
}

// Tick runs one cycle: poll, decide and, for a new track, fetch the art,
// extract its color, filter it and apply it to the lights.
func (o *Orchestrator) Tick(ctx context.Context) (out Outcome) {
	start := time.Now()
	snap := o.deps.Poller.Poll(ctx)
	decision := Step(snap, o.State())

	out = Outcome{Snapshot: snap, Decision: decision}
	defer func() {
		out.Elapsed = time.Since(start)
		o.mu.Lock()
		o.status.Cycles++
		o.status.LastCycle = start
		o.mu.Unlock()
	}()

	if decision.Action == ActionNone {
		log.Trace().Str("reason", decision.Reason).Str("track", snap.TrackID).Msg("Nothing to do")
		return out
	}

	out.CycleID = uuid.NewString()
	logger := log.With().Str("cycle", out.CycleID).Str("track", snap.TrackID).Logger()
	logger.Debug().Str("reason", decision.Reason).Str("art", snap.AlbumArtURL).Msg("Track changed")

	color, err := o.resolveColor(ctx, snap, logger)
	if err != nil {
		out.Err = err
		if !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("Failed to process album art, retrying next cycle")
		}
		return out
	}
	color = o.filter(ctx, color, snap, logger)

	out.Report = o.deps.Sink.SetRGBColorForAll(ctx, color, o.cfg.Transition)
	out.Applied = true
	out.Color = color

	o.mu.Lock()
	o.state = o.state.Advance(snap.TrackID)
	o.status.LastTrackID = snap.TrackID
	o.status.LastTitle = snap.Title
	o.status.LastArtist = snap.Artist
	o.status.LastColor = &color
	o.status.LastApplied = time.Now()
	o.mu.Unlock()

	if o.deps.Store != nil {
		if err := o.deps.Store.SaveLastTrack(ctx, snap.TrackID, color.String()); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist sync state")
		}
	}

	logger.Info().
		Str("artist", snap.Artist).
		Str("title", snap.Title).
		Str("color", color.String()).
		Int("devices", len(out.Report.Applied)).
		Int("failed", len(out.Report.Failed)).
		Dur("elapsed", time.Since(start)).
		Msg("Track color applied")
	return out
}

func (o *Orchestrator) resolveColor(ctx context.Context, snap playback.Snapshot, logger zerolog.Logger) (rgb.Color, error) {
	if snap.AlbumArtURL == "" {
		fallback := o.deps.Extractor.Fallback()
		logger.Debug().Str("color", fallback.String()).Msg("Track has no album art, using fallback color")
		return fallback, nil
	}

	data, err := o.deps.Fetcher.Fetch(ctx, snap.AlbumArtURL)
	if err != nil {
		return rgb.Color{}, err
	}
	return o.deps.Extractor.Extract(data)
}

func (o *Orchestrator) filter(ctx context.Context, c rgb.Color, snap playback.Snapshot, logger zerolog.Logger) rgb.Color {
	if o.deps.Filter == nil {
		return c
	}
	filtered, err := o.deps.Filter.Apply(ctx, c, snap)
	if err != nil {
		logger.Warn().Err(err).Str("color", c.String()).Msg("Color filter failed, using extracted color")
		return c
	}
	if filtered != c {
		logger.Debug().Str("from", c.String()).Str("to", filtered.String()).Msg("Color filter adjusted color")
	}
	return filtered
}
