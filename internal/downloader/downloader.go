// Package downloader adapts the yt-dlp extractor as a subprocess. One call
// downloads one candidate into the music root at the path derived from the
// user's path template, reporting integer-percent progress as it goes.
package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tunesyncd/tunesyncd/internal/constants"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/pathtemplate"
	"github.com/tunesyncd/tunesyncd/internal/track"
	"github.com/tunesyncd/tunesyncd/internal/utils"
)

// ProgressFunc receives download progress as integer percents, 0..100.
type ProgressFunc func(percent int)

// Request describes one download.
type Request struct {
	// Candidate is the matched search result to fetch.
	Candidate *track.Candidate
	// Track is the catalog row the download realizes, its display fields
	// feed the path template.
	Track *track.Track
	// RootDir is the absolute music library root.
	RootDir string
	// Template is the parsed user path template.
	Template *pathtemplate.Template
	// Format is the output container format (mp3, flac, m4a, wav).
	Format string
	// Bitrate is the requested audio bitrate in kbit/s.
	Bitrate int
	// Cookie is an optional cookie header forwarded to the extractor.
	Cookie string
	// OnProgress receives progress updates, may be nil.
	OnProgress ProgressFunc
}

// Downloader defines the interface for the audio extractor.
type Downloader interface {
	// Download fetches the candidate and returns the absolute local path
	// of the finished file.
	Download(ctx context.Context, req *Request) (string, error)
}

// YtDlpDownloader implements Downloader by shelling out to yt-dlp.
type YtDlpDownloader struct {
	// binary is the extractor executable name or path.
	binary string
}

const (
	// DefaultBinary is the extractor executable resolved from PATH.
	DefaultBinary = "yt-dlp"

	// killGracePeriod is how long a cancelled extractor gets to exit
	// before the whole process group is killed.
	killGracePeriod = 5 * time.Second
)

// Static error definitions for better error handling.
var (
	// ErrMissingCandidate indicates a download request without a candidate.
	ErrMissingCandidate = errors.New("download request has no candidate")
	// ErrCancelled indicates the download was cancelled or timed out.
	// It is not a durable failure, the item goes back to the queue.
	ErrCancelled = errors.New("download cancelled")
	// ErrOutputMissing indicates the extractor exited cleanly but the
	// expected output file does not exist.
	ErrOutputMissing = errors.New("extractor finished but output file is missing")
)

// progressPattern matches yt-dlp's "[download]  42.7%" progress lines.
//
//nolint:gochecknoglobals // Immutable, pre-compiled regex pattern used as a constant.
var progressPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// NewYtDlpDownloader creates a downloader using the given executable, or
// DefaultBinary when empty.
func NewYtDlpDownloader(binary string) *YtDlpDownloader {
	if binary == "" {
		binary = DefaultBinary
	}

	return &YtDlpDownloader{binary: binary}
}

// Download fetches the candidate and returns the absolute local path of the
// finished file.
func (d *YtDlpDownloader) Download(ctx context.Context, req *Request) (string, error) {
	if req.Candidate == nil {
		return "", ErrMissingCandidate
	}

	finalPath, err := resolveOutputPath(req)
	if err != nil {
		return "", err
	}

	if err = os.MkdirAll(filepath.Dir(finalPath), constants.DefaultFolderPermissions); err != nil {
		return "", fmt.Errorf("failed to create output folder: %w", err)
	}

	args := buildArgs(req, finalPath)

	logger.Debugf(ctx, "Running %s %s", d.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, d.binary, args...) //nolint:gosec // Args are built locally.

	// Run the extractor in its own process group so cancellation kills
	// its ffmpeg children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}

	// Merge extractor stderr into the same stream as progress lines.
	cmd.Stderr = cmd.Stdout

	if err = cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start extractor: %w", err)
	}

	scanProgress(stdout, req.OnProgress)

	err = cmd.Wait()

	if ctx.Err() != nil {
		// Timeout or pause cancellation, not a durable failure.
		return "", fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}

	if err != nil {
		return "", fmt.Errorf("extractor failed: %w", err)
	}

	exists, err := utils.IsFileExist(finalPath)
	if err != nil {
		return "", err
	}

	if !exists {
		return "", fmt.Errorf("%w: %s", ErrOutputMissing, finalPath)
	}

	if req.OnProgress != nil {
		req.OnProgress(100)
	}

	return finalPath, nil
}

// resolveOutputPath renders the absolute destination for the request.
func resolveOutputPath(req *Request) (string, error) {
	fields := pathtemplate.Fields{
		Artist: utils.SanitizeFilename(req.Track.Artist),
		Album:  utils.SanitizeFilename(req.Track.Album),
		Title:  utils.SanitizeFilename(req.Track.Title),
		Ext:    req.Format,
	}

	relPath := req.Template.Render(fields)
	if relPath == "" {
		return "", pathtemplate.ErrUnknownVariable
	}

	return filepath.Join(req.RootDir, filepath.FromSlash(relPath)), nil
}

// buildArgs assembles the extractor command line for one download.
func buildArgs(req *Request, finalPath string) []string {
	// yt-dlp appends the post-processed extension itself.
	outputTemplate := strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".%(ext)s"

	args := []string{
		"--newline",
		"--no-playlist",
		"--extract-audio",
		"--audio-format", req.Format,
		"--audio-quality", fmt.Sprintf("%dk", req.Bitrate),
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"--output", outputTemplate,
	}

	if req.Cookie != "" {
		args = append(args, "--add-header", "Cookie:"+req.Cookie)
	}

	return append(args, req.Candidate.URL)
}

// scanProgress reads extractor output line by line, forwarding progress
// percentages. It returns when the stream closes.
func scanProgress(output io.Reader, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(output)

	lastPercent := -1

	for scanner.Scan() {
		percent, ok := parseProgressLine(scanner.Text())
		if !ok || percent == lastPercent {
			continue
		}

		lastPercent = percent

		if onProgress != nil {
			onProgress(percent)
		}
	}
}

// parseProgressLine extracts the integer percentage from one output line.
func parseProgressLine(line string) (int, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}

	percent := int(value)
	if percent < 0 {
		return 0, false
	}

	if percent > 100 {
		percent = 100
	}

	return percent, true
}
