// Package track defines the catalog track model and the canonical identity
// and matching rules used to reconcile remote playlist entries against
// search candidates and the on-disk library.
package track

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// identityDurationBucket is the duration resolution, in seconds, used when
// deriving a track identity. Recordings whose durations land in the same
// bucket are considered the same length.
const identityDurationBucket = 5

// Status is the durable download state of a catalog row.
type Status string

// Catalog row states.
const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusMissing    Status = "missing"
)

// Origin describes how a row entered the catalog.
type Origin string

// Catalog row provenance values.
const (
	OriginPlaylist Origin = "playlist"
	OriginArtist   Origin = "artist"
	OriginAlbum    Origin = "album"
)

// Track is a catalog row: the durable unit of sync and download work.
type Track struct {
	// Identity is the canonical fingerprint, unique across the catalog.
	Identity string `json:"identity"`
	// Artist is the display artist name.
	Artist string `json:"artist"`
	// Title is the display track title.
	Title string `json:"title"`
	// Album is the display album name, possibly empty.
	Album string `json:"album"`
	// Duration is the track length in seconds.
	Duration int `json:"duration"`
	// PlaylistID records which remote playlist produced the row.
	PlaylistID string `json:"playlist_id,omitempty"`
	// SpotifyID is the remote provider's track identifier.
	SpotifyID string `json:"spotify_id,omitempty"`
	// ExpandedFrom records whether the row came from a playlist listing or
	// an artist/album expansion.
	ExpandedFrom Origin `json:"expanded_from,omitempty"`
	// Status is the durable download state.
	Status Status `json:"status,omitempty"`
	// LocalPath is the absolute path on disk after a successful download.
	LocalPath string `json:"local_path,omitempty"`
	// LastError is the most recent failure reason.
	LastError string `json:"last_error,omitempty"`
	// RetryAfter is the epoch second before which the row must not be
	// re-selected; only meaningful while Status is missing.
	RetryAfter int64 `json:"retry_after,omitempty"`
	// DownloadAttempts counts consecutive failed attempts; reset on success.
	DownloadAttempts int `json:"download_attempts,omitempty"`
	// LastSeen is the epoch second of the most recent catalog upsert.
	LastSeen int64 `json:"last_seen,omitempty"`
}

// Candidate is a search result proposed as a realization of a target track.
type Candidate struct {
	// Artist is the candidate's artist as reported by the search backend.
	Artist string `json:"artist"`
	// Title is the candidate's title.
	Title string `json:"title"`
	// Duration is the candidate's length in seconds.
	Duration int `json:"duration"`
	// Channel is the uploading channel, used as a weak authority signal.
	Channel string `json:"channel,omitempty"`
	// URL is the watch URL handed to the extractor.
	URL string `json:"url"`
}

var (
	featParenPattern   = regexp.MustCompile(`\s*\(feat\..*?\)`)
	featBracketPattern = regexp.MustCompile(`\s*\[feat\..*?\]`)
	featTrailPattern   = regexp.MustCompile(`\s*feat\..*$`)
	nonAlnumPattern    = regexp.MustCompile(`[^a-z0-9\s]`)
	spacesPattern      = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a display string for identity and matching:
// NFKD decomposition with non-ASCII code points dropped, lowercased,
// "feat." suffixes removed, punctuation flattened to spaces, whitespace
// collapsed.
func Normalize(s string) string {
	decomposed := norm.NFKD.String(s)

	var builder strings.Builder

	builder.Grow(len(decomposed))

	for _, r := range decomposed {
		if r < unicode.MaxASCII {
			builder.WriteRune(r)
		}
	}

	result := strings.ToLower(builder.String())
	result = featParenPattern.ReplaceAllString(result, "")
	result = featBracketPattern.ReplaceAllString(result, "")
	result = featTrailPattern.ReplaceAllString(result, "")
	result = nonAlnumPattern.ReplaceAllString(result, " ")
	result = spacesPattern.ReplaceAllString(result, " ")

	return strings.TrimSpace(result)
}

// IdentityKey derives the canonical track fingerprint from artist, title and
// duration. Durations are bucketed so small drift between providers does not
// split a track into two identities.
func IdentityKey(artist, title string, durationSeconds int) string {
	return fmt.Sprintf("%s|%s|%d",
		Normalize(artist),
		Normalize(title),
		durationSeconds/identityDurationBucket)
}

// Key returns the track's identity, deriving it when the field is unset.
func (t *Track) Key() string {
	if t.Identity != "" {
		return t.Identity
	}

	return IdentityKey(t.Artist, t.Title, t.Duration)
}

// String renders the track for logs and the recent-event feed.
func (t *Track) String() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}
