package tagger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oshokin/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesyncd/tunesyncd/internal/track"
)

func sampleTrack() *track.Track {
	return &track.Track{
		Artist:   "Queen",
		Title:    "Bohemian Rhapsody",
		Album:    "A Night at the Opera",
		Duration: 354,
	}
}

// TestTagger_WriteTags_MP3 tests writing and re-reading ID3v2 tags.
func TestTagger_WriteTags_MP3(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake audio payload"), 0o644))

	tagger := NewTagger()
	require.NoError(t, tagger.WriteTags(context.Background(), path, sampleTrack()))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)

	defer tag.Close()

	assert.Equal(t, "Queen", tag.Artist())
	assert.Equal(t, "Bohemian Rhapsody", tag.Title())
	assert.Equal(t, "A Night at the Opera", tag.Album())
}

// TestTagger_WriteTags_EmbedsAndRemovesCover tests sibling thumbnail
// handling.
func TestTagger_WriteTags_EmbedsAndRemovesCover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	coverPath := filepath.Join(dir, "track.jpg")

	require.NoError(t, os.WriteFile(path, []byte("fake audio payload"), 0o644))
	require.NoError(t, os.WriteFile(coverPath, []byte("fake image"), 0o644))

	tagger := NewTagger()
	require.NoError(t, tagger.WriteTags(context.Background(), path, sampleTrack()))

	// The thumbnail is embedded and the loose file cleaned up.
	_, err := os.Stat(coverPath)
	assert.True(t, os.IsNotExist(err))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)

	defer tag.Close()

	assert.NotEmpty(t, tag.GetFrames(tag.CommonID("Attached picture")))
}

// TestTagger_WriteTags_UnsupportedFormat tests the no-op path.
func TestTagger_WriteTags_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "track.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))

	tagger := NewTagger()
	assert.NoError(t, tagger.WriteTags(context.Background(), path, sampleTrack()))
}

// TestTagger_WriteTags_EmptyPath tests the sentinel error.
func TestTagger_WriteTags_EmptyPath(t *testing.T) {
	t.Parallel()

	tagger := NewTagger()
	assert.ErrorIs(t, tagger.WriteTags(context.Background(), "", sampleTrack()), ErrEmptyTrackPath)
}
