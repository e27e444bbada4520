package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/config"
	"github.com/dokzlo13/tracklight/internal/playback"
	"github.com/dokzlo13/tracklight/internal/spotify"
)

// ErrMissingClientCredentials is returned when the Spotify app credentials are not configured.
var ErrMissingClientCredentials = errors.New("spotify.client_id and spotify.client_secret are required")

// SpotifyService wraps the authorized Web API client and the playback poller.
type SpotifyService struct {
	cfg *config.Config

	Client *spotify.Client
	Poller *playback.Poller
}

// NewSpotifyService loads the stored token and builds the client.
func NewSpotifyService(cfg *config.Config) (*SpotifyService, error) {
	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" {
		return nil, ErrMissingClientCredentials
	}

	oauthCfg := spotify.OAuthConfig(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURL)
	// Token refreshes must outlive any single request context.
	src, err := spotify.NewTokenSource(context.Background(), oauthCfg, spotify.TokenFile{Path: cfg.Spotify.TokenFile})
	if err != nil {
		return nil, err
	}

	httpClient := spotify.NewHTTPClient(context.Background(), src, cfg.Spotify.Timeout.Duration())
	client := spotify.NewClient(httpClient, cfg.Spotify.APIBase)

	return &SpotifyService{
		cfg:    cfg,
		Client: client,
		Poller: playback.NewPoller(client, cfg.Spotify.Timeout.Duration()),
	}, nil
}

// Start logs the authenticated account. A failure is not fatal: the poller
// keeps retrying every cycle.
func (s *SpotifyService) Start(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Spotify.Timeout.Duration())
	defer cancel()

	user, err := s.Client.CurrentUser(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch Spotify profile")
		return
	}
	log.Info().Str("id", user.ID).Str("name", user.DisplayName).
		Msgf("Authenticated as %s (%s)", user.DisplayName, user.ID)
}
