// Package spotify is the Web API adapter that reports what the user is playing.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dokzlo13/tracklight/internal/playback"
)

// DefaultBaseURL is the Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com/v1"

// Client is an HTTP client for the Spotify Web API. The http.Client is
// expected to authorize requests (see NewHTTPClient).
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ playback.Source = (*Client)(nil)

// NewClient constructs a new Spotify client.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// User is the authenticated account.
type User struct {
	ID          string
	DisplayName string
}

// CurrentPlayback returns the current playback state, or nil when nothing is
// playing on any device.
func (c *Client) CurrentPlayback(ctx context.Context) (*playback.Snapshot, error) {
	var pr playerResponse
	status, err := c.getJSON(ctx, "/me/player?additional_types=track,episode", &pr)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return pr.snapshot(), nil
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var ur userResponse
	if _, err := c.getJSON(ctx, "/me", &ur); err != nil {
		return User{}, err
	}
	return User{ID: ur.ID, DisplayName: ur.DisplayName}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("spotify: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("spotify: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return resp.StatusCode, nil
	default:
		return resp.StatusCode, fmt.Errorf("spotify: GET %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("spotify: decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
