package spotify

import (
	"strings"

	"github.com/dokzlo13/tracklight/internal/playback"
)

// wire types for GET /me/player

type playerResponse struct {
	IsPlaying            bool        `json:"is_playing"`
	CurrentlyPlayingType string      `json:"currently_playing_type"`
	Item                 *playerItem `json:"item"`
}

type playerItem struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Artists []artist `json:"artists"`
	Album   *album   `json:"album"`

	// Episodes carry their own artwork and a show instead of an album.
	Images []image `json:"images"`
	Show   *show   `json:"show"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []image `json:"images"`
}

type show struct {
	Name   string  `json:"name"`
	Images []image `json:"images"`
}

type image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// snapshot maps the player response. Spotify lists images widest first.
func (p playerResponse) snapshot() *playback.Snapshot {
	if p.Item == nil {
		return nil
	}
	it := p.Item
	snap := &playback.Snapshot{
		IsPlaying: p.IsPlaying,
		TrackID:   it.ID,
		Title:     it.Name,
	}

	names := make([]string, 0, len(it.Artists))
	for _, a := range it.Artists {
		names = append(names, a.Name)
	}
	snap.Artist = strings.Join(names, ", ")

	switch {
	case it.Album != nil && len(it.Album.Images) > 0:
		snap.AlbumArtURL = it.Album.Images[0].URL
	case len(it.Images) > 0:
		snap.AlbumArtURL = it.Images[0].URL
	case it.Show != nil && len(it.Show.Images) > 0:
		snap.AlbumArtURL = it.Show.Images[0].URL
	}
	if snap.Artist == "" && it.Show != nil {
		snap.Artist = it.Show.Name
	}
	return snap
}
