// Package syncloop decides, once per cycle, whether the lights need a new color
// and drives the fetch, extract and apply pipeline when they do.
package syncloop

import "github.com/dokzlo13/tracklight/internal/playback"

// State is the loop's memory between cycles.
type State struct {
	// LastTrackID is the last track whose color was applied. It only changes
	// after a new track was fully processed; pausing never clears it.
	LastTrackID string
}

// Advance returns the state after trackID was applied.
func (s State) Advance(trackID string) State {
	return State{LastTrackID: trackID}
}

// Action represents what a cycle has to do.
type Action int

const (
	ActionNone Action = iota
	ActionApplyTrack
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionApplyTrack:
		return "apply_track"
	default:
		return "unknown"
	}
}

// Decision reasons.
const (
	ReasonNotPlaying   = "not_playing"
	ReasonSameTrack    = "same_track"
	ReasonTrackChanged = "track_changed"
)

// Decision is the outcome of Step.
type Decision struct {
	Action Action
	Reason string
}

// Step decides what to do for a snapshot given the current state.
func Step(snap playback.Snapshot, state State) Decision {
	switch {
	case !snap.IsPlaying:
		return Decision{Action: ActionNone, Reason: ReasonNotPlaying}
	case snap.TrackID == state.LastTrackID:
		return Decision{Action: ActionNone, Reason: ReasonSameTrack}
	default:
		return Decision{Action: ActionApplyTrack, Reason: ReasonTrackChanged}
	}
}
