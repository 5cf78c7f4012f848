// Package spotify implements the playlist provider client. It speaks the
// Web API with a stored OAuth token pair and refreshes the access token
// transparently when it expires.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tunesyncd/tunesyncd/internal/logger"
	http_transport "github.com/tunesyncd/tunesyncd/internal/transport/http"
	"github.com/tunesyncd/tunesyncd/internal/utils"
)

// Client defines the interface for the playlist provider.
type Client interface {
	// Authenticated reports whether usable credentials are stored.
	Authenticated(ctx context.Context) bool
	// FetchUserPlaylists retrieves the current user's playlists.
	FetchUserPlaylists(ctx context.Context) ([]*Playlist, error)
	// FetchPlaylistTracks retrieves every track of the specified playlist.
	FetchPlaylistTracks(ctx context.Context, playlistID string) ([]*PlaylistTrack, error)
	// ExpandArtist retrieves the artist's top tracks.
	ExpandArtist(ctx context.Context, artistID string) ([]*PlaylistTrack, error)
	// ExpandAlbum retrieves the album's full track list.
	ExpandAlbum(ctx context.Context, albumID string) ([]*PlaylistTrack, error)
}

// CredentialStore persists the OAuth token pair. Implemented by the catalog
// store's settings table.
type CredentialStore interface {
	// GetSetting returns a stored value, empty string when unset.
	GetSetting(ctx context.Context, key string) (string, error)
	// SetSetting stores a value.
	SetSetting(ctx context.Context, key, value string) error
}

// Credential keys in the settings table.
const (
	SettingAccessToken  = "spotify_access_token"
	SettingRefreshToken = "spotify_refresh_token"
	SettingClientID     = "spotify_client_id"
)

const (
	apiBaseURL   = "https://api.spotify.com/v1"
	tokenURL     = "https://accounts.spotify.com/api/token" //nolint:gosec // URL, not a credential.
	pageLimit    = 50
	maxRateWait  = 30 * time.Second
	userAgent    = "tunesyncd/1.0"
	topTracksMax = 10
)

// ClientImpl implements the Client interface.
type ClientImpl struct {
	// credentials persists the token pair across restarts.
	credentials CredentialStore
	// httpClient is the HTTP client for making requests.
	httpClient *http.Client
	// baseURL is the API base, overridable in tests.
	baseURL string
	// authURL is the token endpoint, overridable in tests.
	authURL string

	// mu guards accessToken, which is read by sync and scheduler
	// goroutines and replaced by the refresh flow.
	mu sync.Mutex
	// accessToken is the cached access token for the current process.
	accessToken string
}

// NewClient creates and returns a new instance of ClientImpl.
func NewClient(credentials CredentialStore) *ClientImpl {
	httpClient := &http.Client{
		Transport: http_transport.NewUserAgentInjector(
			http_transport.NewLogTransport(http.DefaultTransport, 0),
			utils.NewSimpleUserAgentProvider(userAgent)),
		Timeout: http_transport.DefaultTimeout,
	}

	return &ClientImpl{
		credentials: credentials,
		httpClient:  httpClient,
		baseURL:     apiBaseURL,
		authURL:     tokenURL,
	}
}

// Authenticated reports whether usable credentials are stored.
func (c *ClientImpl) Authenticated(ctx context.Context) bool {
	if c.cachedToken() != "" {
		return true
	}

	access, err := c.credentials.GetSetting(ctx, SettingAccessToken)
	if err == nil && access != "" {
		return true
	}

	refresh, err := c.credentials.GetSetting(ctx, SettingRefreshToken)

	return err == nil && refresh != ""
}

// FetchUserPlaylists retrieves the current user's playlists, following
// pagination to the end.
func (c *ClientImpl) FetchUserPlaylists(ctx context.Context) ([]*Playlist, error) {
	var playlists []*Playlist

	next := fmt.Sprintf("%s/me/playlists?limit=%d", c.baseURL, pageLimit)

	for next != "" {
		var page playlistsPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			playlists = append(playlists, &Playlist{
				ID:         item.ID,
				Name:       item.Name,
				TrackCount: item.Tracks.Total,
			})
		}

		next = page.Next
	}

	return playlists, nil
}

// FetchPlaylistTracks retrieves every track of the specified playlist.
func (c *ClientImpl) FetchPlaylistTracks(ctx context.Context, playlistID string) ([]*PlaylistTrack, error) {
	var tracks []*PlaylistTrack

	next := fmt.Sprintf("%s/playlists/%s/tracks?limit=%d", c.baseURL, url.PathEscape(playlistID), pageLimit)

	for next != "" {
		var page playlistTracksPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			// Local files and removed tracks come through as null.
			if item.Track == nil || item.Track.ID == "" {
				continue
			}

			tracks = append(tracks, item.Track.toPlaylistTrack())
		}

		next = page.Next
	}

	return tracks, nil
}

// ExpandArtist retrieves the artist's top tracks.
func (c *ClientImpl) ExpandArtist(ctx context.Context, artistID string) ([]*PlaylistTrack, error) {
	var response topTracksResponse

	requestURL := fmt.Sprintf("%s/artists/%s/top-tracks", c.baseURL, url.PathEscape(artistID))
	if err := c.getJSON(ctx, requestURL, &response); err != nil {
		return nil, err
	}

	tracks := make([]*PlaylistTrack, 0, min(len(response.Tracks), topTracksMax))

	for i := range response.Tracks {
		if len(tracks) >= topTracksMax {
			break
		}

		tracks = append(tracks, response.Tracks[i].toPlaylistTrack())
	}

	return tracks, nil
}

// ExpandAlbum retrieves the album's full track list.
func (c *ClientImpl) ExpandAlbum(ctx context.Context, albumID string) ([]*PlaylistTrack, error) {
	var album albumResponse

	albumURL := fmt.Sprintf("%s/albums/%s", c.baseURL, url.PathEscape(albumID))
	if err := c.getJSON(ctx, albumURL, &album); err != nil {
		return nil, err
	}

	var tracks []*PlaylistTrack

	next := fmt.Sprintf("%s/albums/%s/tracks?limit=%d", c.baseURL, url.PathEscape(albumID), pageLimit)

	for next != "" {
		var page albumTracksPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			result := &PlaylistTrack{
				ID:              item.ID,
				Title:           item.Name,
				Album:           album.Name,
				AlbumID:         album.ID,
				DurationSeconds: item.DurationMS / millisecondsPerSecond,
			}

			if len(item.Artists) > 0 {
				result.Artist = item.Artists[0].Name
				result.ArtistID = item.Artists[0].ID
			}

			tracks = append(tracks, result)
		}

		next = page.Next
	}

	return tracks, nil
}

// getJSON performs an authenticated GET, refreshing the access token once on
// a 401 and honouring a single rate-limit backoff.
func (c *ClientImpl) getJSON(ctx context.Context, requestURL string, target any) error {
	refreshed := false
	rateWaited := false

	for {
		status, body, retryAfter, err := c.doGet(ctx, requestURL)
		if err != nil {
			return err
		}

		switch {
		case status == http.StatusOK:
			return json.Unmarshal(body, target)

		case status == http.StatusUnauthorized && !refreshed:
			refreshed = true

			if err = c.refreshAccessToken(ctx); err != nil {
				return err
			}

		case status == http.StatusUnauthorized:
			return ErrAuthExpired

		case status == http.StatusForbidden:
			return ErrForbidden

		case status == http.StatusNotFound:
			return ErrPlaylistNotFound

		case status == http.StatusTooManyRequests && !rateWaited:
			rateWaited = true

			wait := retryAfter
			if wait <= 0 || wait > maxRateWait {
				wait = maxRateWait
			}

			logger.Warnf(ctx, "Rate limited, backing off for %s", wait)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}

		case status == http.StatusTooManyRequests:
			return fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter)

		default:
			return fmt.Errorf("%w: %d", ErrUnexpectedHTTPStatus, status)
		}
	}
}

// doGet performs one authenticated GET and returns status, body and any
// Retry-After hint.
func (c *ClientImpl) doGet(ctx context.Context, requestURL string) (int, []byte, time.Duration, error) {
	token, err := c.currentAccessToken(ctx)
	if err != nil {
		return 0, nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, nil, 0, err
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, err
	}

	var retryAfter time.Duration
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if seconds, convErr := strconv.Atoi(raw); convErr == nil {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}

	return resp.StatusCode, body, retryAfter, nil
}

// currentAccessToken returns the cached access token, loading it from the
// credential store on first use.
func (c *ClientImpl) currentAccessToken(ctx context.Context) (string, error) {
	if token := c.cachedToken(); token != "" {
		return token, nil
	}

	access, err := c.credentials.GetSetting(ctx, SettingAccessToken)
	if err != nil {
		return "", err
	}

	if access == "" {
		// No access token yet, try a refresh before giving up.
		if err = c.refreshAccessToken(ctx); err != nil {
			return "", err
		}

		return c.cachedToken(), nil
	}

	c.setCachedToken(access)

	return access, nil
}

// cachedToken returns the in-process access token under the lock.
func (c *ClientImpl) cachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.accessToken
}

func (c *ClientImpl) setCachedToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessToken = token
}

// refreshAccessToken exchanges the stored refresh token for a fresh access
// token and persists the result.
func (c *ClientImpl) refreshAccessToken(ctx context.Context) error {
	refresh, err := c.credentials.GetSetting(ctx, SettingRefreshToken)
	if err != nil {
		return err
	}

	if refresh == "" {
		return ErrNotAuthenticated
	}

	clientID, err := c.credentials.GetSetting(ctx, SettingClientID)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warnf(ctx, "Token refresh rejected with status %d", resp.StatusCode)

		return ErrAuthExpired
	}

	var tokens tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return err
	}

	if tokens.AccessToken == "" {
		return ErrAuthExpired
	}

	c.setCachedToken(tokens.AccessToken)

	if err = c.credentials.SetSetting(ctx, SettingAccessToken, tokens.AccessToken); err != nil {
		return err
	}

	// Some providers rotate the refresh token on every exchange.
	if tokens.RefreshToken != "" {
		if err = c.credentials.SetSetting(ctx, SettingRefreshToken, tokens.RefreshToken); err != nil {
			return err
		}
	}

	logger.Debug(ctx, "Access token refreshed")

	return nil
}
