package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	syncKind    = "sync"
	syncStateID = "last_track"
)

type syncRecord struct {
	TrackID   string    `json:"track_id"`
	Color     string    `json:"color,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// SyncState persists the last applied track so a restart does not repeat it.
type SyncState struct {
	store *Store
}

// NewSyncState creates the sync state view over store.
func NewSyncState(store *Store) *SyncState {
	return &SyncState{store: store}
}

// LoadLastTrack returns the last applied track id, or "" if none.
func (s *SyncState) LoadLastTrack(ctx context.Context) (string, error) {
	payload, _, err := s.store.Get(ctx, syncKind, syncStateID)
	if err != nil || payload == nil {
		return "", err
	}
	var rec syncRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return "", fmt.Errorf("corrupt sync state: %w", err)
	}
	return rec.TrackID, nil
}

// SaveLastTrack records trackID and the color applied for it.
func (s *SyncState) SaveLastTrack(ctx context.Context, trackID, color string) error {
	payload, err := json.Marshal(syncRecord{
		TrackID:   trackID,
		Color:     color,
		AppliedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.store.Set(ctx, syncKind, syncStateID, payload)
}

// Reset forgets the last applied track.
func (s *SyncState) Reset(ctx context.Context) error {
	return s.store.Clear(ctx, syncKind)
}
