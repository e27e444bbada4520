package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/config"
	"github.com/dokzlo13/tracklight/internal/syncloop"
)

// DeviceLister reports discovery progress and device states.
type DeviceLister interface {
	Ready() bool
	Devices() []DeviceStatus
}

// StatusProvider reports the sync loop state.
type StatusProvider interface {
	Status() syncloop.Status
}

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg     *config.Config
	devices DeviceLister
	sync    StatusProvider
	server  *http.Server
}

type statusResponse struct {
	Ready   bool            `json:"ready"`
	Sync    syncloop.Status `json:"sync"`
	Devices []DeviceStatus  `json:"devices"`
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, devices DeviceLister, sync StatusProvider) *HealthService {
	return &HealthService{
		cfg:     cfg,
		devices: devices,
		sync:    sync,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// Handler returns the health endpoints.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready once discovery has finished
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.devices.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "discovering"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Ready:   s.devices.Ready(),
			Sync:    s.sync.Status(),
			Devices: s.devices.Devices(),
		})
	})

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := s.cfg.Healthcheck.Addr()

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}
