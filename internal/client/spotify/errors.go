package spotify

import "errors"

// Static error definitions for better error handling.
var (
	// ErrAuthExpired indicates the access token is dead and could not be
	// refreshed. Sync must abort cleanly without touching the catalog.
	ErrAuthExpired = errors.New("authentication expired, re-authenticate")
	// ErrNotAuthenticated indicates no credentials are stored at all.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrForbidden indicates a playlist the token cannot read. The sync
	// skips it and continues with the rest.
	ErrForbidden = errors.New("access to playlist forbidden")
	// ErrRateLimited indicates the API asked us to back off.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnexpectedHTTPStatus indicates an unexpected HTTP status code was received.
	ErrUnexpectedHTTPStatus = errors.New("unexpected HTTP status")
	// ErrPlaylistNotFound indicates the playlist id does not exist.
	ErrPlaylistNotFound = errors.New("playlist not found")
)
