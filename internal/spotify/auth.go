package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when the token file does not exist yet.
var ErrNoToken = errors.New("no spotify token, run with -auth first")

// Scopes needed to read the playback state.
var Scopes = []string{"user-read-playback-state", "user-read-currently-playing"}

// Endpoint is the Spotify accounts service.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.spotify.com/authorize",
	TokenURL:  "https://accounts.spotify.com/api/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// OAuthConfig builds the authorization-code configuration for the app.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     Endpoint,
		Scopes:       Scopes,
	}
}

// TokenFile stores the OAuth token as JSON on disk.
type TokenFile struct {
	Path string
}

// Load reads the token. A missing file yields ErrNoToken.
func (f TokenFile) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", f.Path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

// Save writes the token atomically with owner-only permissions.
func (f TokenFile) Save(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".token-*")
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// savingSource persists every refreshed token.
type savingSource struct {
	base oauth2.TokenSource
	file TokenFile

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.file.Save(tok); err != nil {
			log.Warn().Err(err).Str("path", s.file.Path).Msg("Failed to save refreshed token")
		} else {
			log.Debug().Time("expiry", tok.Expiry).Msg("Spotify token refreshed")
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// NewTokenSource loads the stored token and returns a source that refreshes
// it when expired and writes each new token back to the file.
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, file TokenFile) (oauth2.TokenSource, error) {
	tok, err := file.Load()
	if err != nil {
		return nil, err
	}
	return &savingSource{
		base: oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		file: file,
		last: tok.AccessToken,
	}, nil
}

// NewHTTPClient returns an http.Client that authorizes every request.
func NewHTTPClient(ctx context.Context, src oauth2.TokenSource, timeout time.Duration) *http.Client {
	client := oauth2.NewClient(ctx, src)
	client.Timeout = timeout
	return client
}

// Authorize runs the authorization-code flow. It listens on the redirect URL,
// passes the login URL to announce, waits for the callback, exchanges the
// code and saves the token.
func Authorize(ctx context.Context, cfg *oauth2.Config, file TokenFile, announce func(authURL string)) (*oauth2.Token, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("invalid redirect url %q", cfg.RedirectURL)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	state := uuid.NewString()
	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		var res callback
		if e := q.Get("error"); e != "" {
			res.err = fmt.Errorf("authorization denied: %s", e)
			http.Error(w, "Authorization failed: "+e, http.StatusBadRequest)
		} else {
			res.code = q.Get("code")
			fmt.Fprintln(w, "Authorization complete, you can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Authorization callback server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	announce(cfg.AuthCodeURL(state))

	var res callback
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := file.Save(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
