package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/app"
	"github.com/dokzlo13/tracklight/internal/config"
	"github.com/dokzlo13/tracklight/internal/spotify"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	authorize := flag.Bool("auth", false, "Log in to Spotify, store the token and exit")
	resetState := flag.Bool("reset-state", false, "Forget the last applied track on startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	if *authorize {
		runAuth(cfg)
		return
	}

	log.Info().Str("config", configPath).Msg("Starting tracklight")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset state flag
	if *resetState {
		log.Info().Msg("Clearing stored sync state (-reset-state)")
		if err := application.ResetSyncState(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to clear sync state")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		application.Stop()
		if errors.Is(err, context.Canceled) {
			// Signal arrived during discovery
			return
		}
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// runAuth runs the authorization-code flow against the configured redirect URL.
func runAuth(cfg *config.Config) {
	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" {
		log.Fatal().Err(app.ErrMissingClientCredentials).Msg("Cannot authorize")
	}

	ctx, cancel := context.WithTimeout(app.SignalContext(), 5*time.Minute)
	defer cancel()

	oauthCfg := spotify.OAuthConfig(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURL)
	file := spotify.TokenFile{Path: cfg.Spotify.TokenFile}

	_, err := spotify.Authorize(ctx, oauthCfg, file, func(authURL string) {
		log.Info().Str("redirect", cfg.Spotify.RedirectURL).Msg("Waiting for Spotify authorization")
		fmt.Fprintf(os.Stderr, "\nOpen this URL in your browser to log in:\n\n  %s\n\n", authURL)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Authorization failed")
	}

	log.Info().Str("path", file.Path).Msg("Spotify token saved")
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
