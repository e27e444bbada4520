// Package app wires the Spotify poller, the Yeelight group and the sync loop
// into the tracklight daemon.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/config"
)

// App runs the daemon: one discovery pass, then the playback to light sync
// loop until the context is cancelled.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New opens the database, loads the Spotify token and builds the services.
// Nothing touches the network until Start.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start discovers the lights and starts the sync loop. A context cancelled
// during discovery yields an error wrapping context.Canceled.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		return err
	}

	log.Info().Int("devices", a.services.Lights.Group.Len()).Msg("Tracklight started")
	return nil
}

// Stop cancels the loop, waits for the running cycle and closes the lights
// and the database.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetSyncState forgets the last applied track.
// Used on startup with the -reset-state flag.
func (a *App) ResetSyncState(ctx context.Context) error {
	if a.services != nil {
		return a.services.SyncState.Reset(ctx)
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
