package spotify

// Playlist is a playlist summary as reported by the API.
type Playlist struct {
	// ID is the playlist identifier.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// TrackCount is the number of tracks in the playlist.
	TrackCount int `json:"track_count"`
}

// PlaylistTrack is one track pulled from a playlist, artist or album page.
type PlaylistTrack struct {
	// ID is the upstream track identifier.
	ID string `json:"id"`
	// Artist is the primary artist's display name.
	Artist string `json:"artist"`
	// ArtistID is the primary artist's identifier.
	ArtistID string `json:"artist_id"`
	// Title is the track title.
	Title string `json:"title"`
	// Album is the album display name.
	Album string `json:"album"`
	// AlbumID is the album identifier.
	AlbumID string `json:"album_id"`
	// DurationSeconds is the track length in whole seconds.
	DurationSeconds int `json:"duration_seconds"`
}

// tokenResponse is the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// playlistsPage is one page of the current user's playlists.
type playlistsPage struct {
	Items []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Tracks struct {
			Total int `json:"total"`
		} `json:"tracks"`
	} `json:"items"`
	Next string `json:"next"`
}

// apiArtist is an artist reference inside track payloads.
type apiArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// apiTrack is the track object shared by playlist and top-tracks payloads.
type apiTrack struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []apiArtist `json:"artists"`
	Album   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"album"`
	DurationMS int `json:"duration_ms"`
}

// playlistTracksPage is one page of a playlist's track listing.
type playlistTracksPage struct {
	Items []struct {
		Track *apiTrack `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

// topTracksResponse is the artist top-tracks payload.
type topTracksResponse struct {
	Tracks []apiTrack `json:"tracks"`
}

// albumTracksPage is one page of an album's track listing. Album track
// objects omit the album block, it is implied by the request.
type albumTracksPage struct {
	Items []struct {
		ID         string      `json:"id"`
		Name       string      `json:"name"`
		Artists    []apiArtist `json:"artists"`
		DurationMS int         `json:"duration_ms"`
	} `json:"items"`
	Next string `json:"next"`
}

// albumResponse carries the album's own display fields.
type albumResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const millisecondsPerSecond = 1000

// toPlaylistTrack flattens an API track into the client's model.
func (t *apiTrack) toPlaylistTrack() *PlaylistTrack {
	result := &PlaylistTrack{
		ID:              t.ID,
		Title:           t.Name,
		Album:           t.Album.Name,
		AlbumID:         t.Album.ID,
		DurationSeconds: t.DurationMS / millisecondsPerSecond,
	}

	if len(t.Artists) > 0 {
		result.Artist = t.Artists[0].Name
		result.ArtistID = t.Artists[0].ID
	}

	return result
}
