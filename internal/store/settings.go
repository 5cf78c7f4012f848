package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/tunesyncd/tunesyncd/internal/pathtemplate"
)

// Settings keys persisted in the settings table.
const (
	settingHostPath          = "host_path"
	settingBitrate           = "bitrate"
	settingFormat            = "format"
	settingConcurrency       = "concurrency"
	settingPathTemplate      = "path_template"
	settingStrictMatching    = "use_strict_matching"
	settingSelectedPlaylists = "selected_playlists"
	settingCookie            = "yt_cookie"
)

// Runtime setting defaults and bounds.
const (
	DefaultBitrate     = 192
	DefaultFormat      = "mp3"
	DefaultConcurrency = 1
	MinConcurrency     = 1
	MaxConcurrency     = 10
)

//nolint:gochecknoglobals // Immutable validation sets used as constants.
var (
	// ValidBitrates are the accepted audio bitrates in kbit/s.
	ValidBitrates = map[int]struct{}{128: {}, 192: {}, 256: {}, 320: {}}
	// ValidFormats are the accepted output container formats.
	ValidFormats = map[string]struct{}{"mp3": {}, "flac": {}, "m4a": {}, "wav": {}}
)

// Static error definitions for better error handling.
var (
	// ErrInvalidBitrate indicates a bitrate outside the accepted set.
	ErrInvalidBitrate = errors.New("invalid bitrate")
	// ErrInvalidFormat indicates an unknown output format.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrInvalidConcurrency indicates a concurrency cap outside 1..10.
	ErrInvalidConcurrency = errors.New("concurrency must be between 1 and 10")
	// ErrRelativeHostPath indicates the music root is not an absolute path.
	ErrRelativeHostPath = errors.New("host_path must be an absolute folder path")
	// ErrNoStrategyFlag indicates a selected playlist with every expansion flag off.
	ErrNoStrategyFlag = errors.New("selected playlist needs at least one of song, artist, album")
)

// PlaylistStrategy is the per-playlist expansion selection.
type PlaylistStrategy struct {
	// Song includes the playlist's own tracks.
	Song bool `json:"song"`
	// Artist expands each track's artist into their catalog.
	Artist bool `json:"artist"`
	// Album expands each track's album into its full track list.
	Album bool `json:"album"`
}

// Settings is the runtime daemon configuration persisted in the database and
// edited through the HTTP config endpoint.
type Settings struct {
	// HostPath is the absolute music library root.
	HostPath string `json:"host_path"`
	// Bitrate is the requested audio bitrate in kbit/s.
	Bitrate int `json:"bitrate"`
	// Format is the output container format.
	Format string `json:"format"`
	// Concurrency caps the number of parallel download slots.
	Concurrency int `json:"concurrency"`
	// PathTemplate is the user path template, see package pathtemplate.
	PathTemplate string `json:"path_template"`
	// UseStrictMatching selects strict instead of fuzzy candidate matching.
	UseStrictMatching bool `json:"use_strict_matching"`
	// SelectedPlaylists maps playlist ids to their expansion strategies.
	SelectedPlaylists map[string]PlaylistStrategy `json:"selected_playlists,omitempty"`
	// Cookie is an optional cookie header forwarded to the extractor.
	// Never logged.
	Cookie string `json:"yt_cookie,omitempty"`
}

// Validate checks the settings against the accepted sets and the path
// template rules.
func (cfg *Settings) Validate() error {
	if _, ok := ValidBitrates[cfg.Bitrate]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, cfg.Bitrate)
	}

	if _, ok := ValidFormats[cfg.Format]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, cfg.Format)
	}

	if cfg.Concurrency < MinConcurrency || cfg.Concurrency > MaxConcurrency {
		return ErrInvalidConcurrency
	}

	if cfg.HostPath != "" && !filepath.IsAbs(cfg.HostPath) {
		return ErrRelativeHostPath
	}

	if err := pathtemplate.Validate(cfg.PathTemplate); err != nil {
		return fmt.Errorf("invalid path_template: %w", err)
	}

	for id, strategy := range cfg.SelectedPlaylists {
		if !strategy.Song && !strategy.Artist && !strategy.Album {
			return fmt.Errorf("%w: playlist %s", ErrNoStrategyFlag, id)
		}
	}

	return nil
}

// LoadSettings reads the runtime settings, applying defaults for unset keys.
func (s *Store) LoadSettings(ctx context.Context) (*Settings, error) {
	cfg := &Settings{
		Bitrate:      DefaultBitrate,
		Format:       DefaultFormat,
		Concurrency:  DefaultConcurrency,
		PathTemplate: pathtemplate.DefaultTemplate,
	}

	read := func(key string) (string, error) {
		return s.GetSetting(ctx, key)
	}

	hostPath, err := read(settingHostPath)
	if err != nil {
		return nil, err
	}

	cfg.HostPath = hostPath

	if raw, err := read(settingBitrate); err != nil {
		return nil, err
	} else if raw != "" {
		if bitrate, convErr := strconv.Atoi(raw); convErr == nil {
			cfg.Bitrate = bitrate
		}
	}

	if raw, err := read(settingFormat); err != nil {
		return nil, err
	} else if raw != "" {
		cfg.Format = raw
	}

	if raw, err := read(settingConcurrency); err != nil {
		return nil, err
	} else if raw != "" {
		if concurrency, convErr := strconv.Atoi(raw); convErr == nil {
			cfg.Concurrency = concurrency
		}
	}

	if raw, err := read(settingPathTemplate); err != nil {
		return nil, err
	} else if raw != "" {
		cfg.PathTemplate = raw
	}

	if raw, err := read(settingStrictMatching); err != nil {
		return nil, err
	} else if raw != "" {
		cfg.UseStrictMatching = raw == "true"
	}

	if raw, err := read(settingCookie); err != nil {
		return nil, err
	} else if raw != "" {
		cfg.Cookie = raw
	}

	if raw, err := read(settingSelectedPlaylists); err != nil {
		return nil, err
	} else if raw != "" {
		strategies := make(map[string]PlaylistStrategy)
		if jsonErr := json.Unmarshal([]byte(raw), &strategies); jsonErr == nil {
			cfg.SelectedPlaylists = strategies
		}
	}

	return cfg, nil
}

// SaveSettings validates and persists the runtime settings.
func (s *Store) SaveSettings(ctx context.Context, cfg *Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	strategies, err := json.Marshal(cfg.SelectedPlaylists)
	if err != nil {
		return err
	}

	pairs := map[string]string{
		settingHostPath:          cfg.HostPath,
		settingBitrate:           strconv.Itoa(cfg.Bitrate),
		settingFormat:            cfg.Format,
		settingConcurrency:       strconv.Itoa(cfg.Concurrency),
		settingPathTemplate:      cfg.PathTemplate,
		settingStrictMatching:    strconv.FormatBool(cfg.UseStrictMatching),
		settingSelectedPlaylists: string(strategies),
		settingCookie:            cfg.Cookie,
	}

	for key, value := range pairs {
		if err := s.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}

	return nil
}

// Configured reports whether the daemon has the minimum settings needed to
// run scheduled syncs: a music root and at least one selected playlist.
func (cfg *Settings) Configured() bool {
	return cfg.HostPath != "" && len(cfg.SelectedPlaylists) > 0
}
