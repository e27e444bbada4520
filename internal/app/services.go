package app

import (
	"context"

	"github.com/dokzlo13/tracklight/internal/config"
	"github.com/dokzlo13/tracklight/internal/db"
	"github.com/dokzlo13/tracklight/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB    *db.DB
	Store *storage.Store

	// Typed state views
	SyncState *storage.SyncState
	Devices   *storage.DeviceRegistry

	// High-level services
	Spotify *SpotifyService
	Lights  *LightService
	Sync    *SyncService
	Health  *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Store = storage.NewStore(database.DB)
	s.SyncState = storage.NewSyncState(s.Store)
	s.Devices = storage.NewDeviceRegistry(s.Store)

	// Playback source (needs a stored token)
	s.Spotify, err = NewSpotifyService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Lights = NewLightService(cfg, s.Devices)

	s.Sync, err = NewSyncService(cfg, s.Spotify.Poller, s.Lights.Group, s.SyncState)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Health = NewHealthService(cfg, s.Lights, s.Sync.Orchestrator)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Health first so /ready reports 503 while discovery runs
	s.Health.Start(ctx)

	s.Spotify.Start(ctx)

	if err := s.Lights.Discover(ctx); err != nil {
		return err
	}

	return s.Sync.Start(ctx)
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Sync != nil {
		s.Sync.Wait()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Sync != nil {
		s.Sync.Close()
	}
	if s.Lights != nil {
		s.Lights.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
