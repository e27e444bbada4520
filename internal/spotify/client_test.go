package spotify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dokzlo13/tracklight/internal/playback"
	"github.com/dokzlo13/tracklight/internal/spotify"
)

const trackPayload = `{
  "is_playing": true,
  "currently_playing_type": "track",
  "item": {
    "id": "4uLU6hMCjMI75M1A2tKUQC",
    "name": "Never Gonna Give You Up",
    "type": "track",
    "artists": [{"id": "a1", "name": "Rick Astley"}, {"id": "a2", "name": "Guest"}],
    "album": {
      "id": "al1",
      "name": "Whenever You Need Somebody",
      "images": [
        {"url": "https://i.scdn.co/image/640", "width": 640, "height": 640},
        {"url": "https://i.scdn.co/image/300", "width": 300, "height": 300}
      ]
    }
  }
}`

const episodePayload = `{
  "is_playing": true,
  "currently_playing_type": "episode",
  "item": {
    "id": "ep1",
    "name": "Episode One",
    "type": "episode",
    "images": [{"url": "https://i.scdn.co/image/ep", "width": 640, "height": 640}],
    "show": {"name": "The Show", "images": []}
  }
}`

func TestCurrentPlayback(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *playback.Snapshot
		wantErr bool
	}{
		{
			name:   "track",
			status: http.StatusOK,
			body:   trackPayload,
			want: &playback.Snapshot{
				IsPlaying:   true,
				TrackID:     "4uLU6hMCjMI75M1A2tKUQC",
				AlbumArtURL: "https://i.scdn.co/image/640",
				Title:       "Never Gonna Give You Up",
				Artist:      "Rick Astley, Guest",
			},
		},
		{
			name:   "episode",
			status: http.StatusOK,
			body:   episodePayload,
			want: &playback.Snapshot{
				IsPlaying:   true,
				TrackID:     "ep1",
				AlbumArtURL: "https://i.scdn.co/image/ep",
				Title:       "Episode One",
				Artist:      "The Show",
			},
		},
		{
			name:   "paused without item",
			status: http.StatusOK,
			body:   `{"is_playing": false, "item": null}`,
			want:   nil,
		},
		{name: "nothing playing", status: http.StatusNoContent, want: nil},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"status":401}}`, wantErr: true},
		{name: "malformed", status: http.StatusOK, body: `{"is_playing":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/me/player" {
					t.Errorf("path = %s, want /me/player", r.URL.Path)
				}
				if got := r.URL.Query().Get("additional_types"); got != "track,episode" {
					t.Errorf("additional_types = %q", got)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := spotify.NewClient(srv.Client(), srv.URL+"/")
			got, err := c.CurrentPlayback(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("CurrentPlayback() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("CurrentPlayback() = %+v, want nil", got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("CurrentPlayback() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCurrentUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":"user42","display_name":"Jane"}`))
	}))
	defer srv.Close()

	c := spotify.NewClient(srv.Client(), srv.URL)
	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if u.ID != "user42" || u.DisplayName != "Jane" {
		t.Errorf("CurrentUser() = %+v", u)
	}
}

func TestCurrentPlayback_FeedsPoller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_playing": false, "item": {"id": "x", "album": {"images": []}}}`))
	}))
	defer srv.Close()

	p := playback.NewPoller(spotify.NewClient(srv.Client(), srv.URL), 0)
	if snap := p.Poll(context.Background()); snap.IsPlaying {
		t.Errorf("Poll() = %+v, want not playing", snap)
	}
}
