package store

import (
	"context"
	"fmt"
	"hash/fnv"
)

// CatalogSong is a catalog row projected for the browsing endpoints.
type CatalogSong struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Duration   int    `json:"duration"`
	Status     string `json:"status"`
	SpotifyID  string `json:"spotify_id,omitempty"`
	PlaylistID string `json:"playlist_id,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// CatalogArtist is an artist aggregate for the browsing endpoints.
type CatalogArtist struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SongCount int    `json:"song_count"`
}

// CatalogAlbum is an album aggregate for the browsing endpoints.
type CatalogAlbum struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	TrackCount int    `json:"track_count"`
}

// FetchSongs returns every catalog row ordered for display.
func (s *Store) FetchSongs(ctx context.Context) ([]*CatalogSong, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, title, artist, album, duration, status,
			COALESCE(spotify_id, ''), COALESCE(playlist_id, ''), local_path
		FROM tracks
		ORDER BY artist COLLATE NOCASE, title COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var songs []*CatalogSong

	for rows.Next() {
		song := new(CatalogSong)

		err = rows.Scan(&song.ID, &song.Name, &song.Artist, &song.Album,
			&song.Duration, &song.Status, &song.SpotifyID, &song.PlaylistID,
			&song.LocalPath)
		if err != nil {
			return nil, err
		}

		songs = append(songs, song)
	}

	return songs, rows.Err()
}

// FetchArtists returns artist aggregates ordered by name.
func (s *Store) FetchArtists(ctx context.Context) ([]*CatalogArtist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artist, COUNT(*)
		FROM tracks
		WHERE artist != ''
		GROUP BY artist
		ORDER BY artist COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var artists []*CatalogArtist

	for rows.Next() {
		artist := new(CatalogArtist)
		if err = rows.Scan(&artist.Name, &artist.SongCount); err != nil {
			return nil, err
		}

		artist.ID = projectionID("artist", artist.Name)
		artists = append(artists, artist)
	}

	return artists, rows.Err()
}

// FetchAlbums returns album aggregates ordered by name.
func (s *Store) FetchAlbums(ctx context.Context) ([]*CatalogAlbum, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT album, artist, COUNT(*)
		FROM tracks
		WHERE album != ''
		GROUP BY album, artist
		ORDER BY album COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var albums []*CatalogAlbum

	for rows.Next() {
		album := new(CatalogAlbum)
		if err = rows.Scan(&album.Name, &album.Artist, &album.TrackCount); err != nil {
			return nil, err
		}

		album.ID = projectionID("album", album.Name+"|"+album.Artist)
		albums = append(albums, album)
	}

	return albums, rows.Err()
}

// projectionID derives a stable synthetic identifier for aggregates that
// have no natural key of their own.
func projectionID(kind, name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))

	return fmt.Sprintf("%s_%d", kind, h.Sum32()%100000)
}
