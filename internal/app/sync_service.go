package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/albumart"
	"github.com/dokzlo13/tracklight/internal/config"
	"github.com/dokzlo13/tracklight/internal/rgb"
	"github.com/dokzlo13/tracklight/internal/script"
	"github.com/dokzlo13/tracklight/internal/syncloop"
)

// SyncService runs the poll, extract and apply loop.
type SyncService struct {
	Orchestrator *syncloop.Orchestrator
	Filter       *script.Filter

	wg sync.WaitGroup
}

// NewSyncService builds the extraction pipeline and the orchestrator.
func NewSyncService(cfg *config.Config, poller syncloop.Poller, sink syncloop.Sink, store syncloop.StateStore) (*SyncService, error) {
	fallback, err := rgb.Parse(cfg.Sync.FallbackColor)
	if err != nil {
		return nil, fmt.Errorf("sync.fallback_color: %w", err)
	}

	extractor := albumart.NewExtractor(albumart.Options{
		Fuzz:            cfg.Extractor.Fuzz,
		PaletteSize:     cfg.Extractor.PaletteSize,
		SaturationBoost: cfg.Extractor.SaturationBoost,
		MaxSamples:      cfg.Extractor.MaxSamples,
		Fallback:        fallback,
	})
	fetcher := albumart.NewFetcher(&http.Client{Timeout: cfg.Artwork.Timeout.Duration()}, cfg.Artwork.MaxBytes)

	s := &SyncService{}
	deps := syncloop.Deps{
		Poller:    poller,
		Fetcher:   fetcher,
		Extractor: extractor,
		Sink:      sink,
		Store:     store,
	}
	if cfg.Sync.FilterScript != "" {
		s.Filter, err = script.LoadFilter(cfg.Sync.FilterScript)
		if err != nil {
			return nil, err
		}
		deps.Filter = s.Filter
		log.Info().Str("path", s.Filter.Path()).Msg("Color filter enabled")
	}

	s.Orchestrator = syncloop.New(deps, syncloop.Config{
		PollInterval: cfg.Sync.PollInterval.Duration(),
		Transition:   cfg.Sync.Transition.Duration(),
	})
	return s, nil
}

// Start restores the persisted state and runs the loop in the background.
func (s *SyncService) Start(ctx context.Context) error {
	if err := s.Orchestrator.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore sync state, starting fresh")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Orchestrator.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Sync loop error")
		}
	}()
	return nil
}

// Wait blocks until the loop has returned.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// Close releases the filter script.
func (s *SyncService) Close() {
	if s.Filter != nil {
		s.Filter.Close()
	}
}
