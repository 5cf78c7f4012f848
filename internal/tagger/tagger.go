// Package tagger writes metadata tags to downloaded audio files so the
// library stays browsable in players that ignore file paths.
package tagger

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/oshokin/id3v2/v2"

	"github.com/tunesyncd/tunesyncd/internal/constants"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

// Tagger defines the interface for writing metadata tags to audio files.
type Tagger interface {
	// WriteTags writes the track's display metadata into the file at path.
	WriteTags(ctx context.Context, path string, t *track.Track) error
}

// TaggerImpl provides the default implementation of Tagger. Formats without
// a supported tag container (m4a, wav) are left untouched.
type TaggerImpl struct{}

// imageMetadata contains image data and its MIME type.
type imageMetadata struct {
	// data contains the raw image bytes.
	data []byte
	// mimeType specifies the image format (e.g., "image/jpeg").
	mimeType string
}

const millisecondsPerSecond = 1000

// Static error definitions for better error handling.
var (
	// ErrEmptyTrackPath indicates that the track file path is empty.
	ErrEmptyTrackPath = errors.New("track path cannot be empty")
)

// NewTagger creates a new Tagger instance.
func NewTagger() Tagger {
	return new(TaggerImpl)
}

// WriteTags writes the track's display metadata into the file at path. A
// thumbnail left next to the file by the extractor is embedded as cover art
// and removed afterwards.
func (tp *TaggerImpl) WriteTags(ctx context.Context, path string, t *track.Track) error {
	if path == "" {
		return ErrEmptyTrackPath
	}

	image, coverPath := tp.siblingCover(path)

	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtensionMP3:
		err = tp.writeMP3Tags(path, t, image)
	case constants.ExtensionFLAC:
		err = tp.writeFLACTags(ctx, path, t, image)
	default:
		logger.Debugf(ctx, "No tag container for %s, skipping tagging", filepath.Ext(path))
	}

	if err != nil {
		return err
	}

	if coverPath != "" {
		if removeErr := os.Remove(coverPath); removeErr != nil {
			logger.Warnf(ctx, "Failed to remove cover file %s: %v", coverPath, removeErr)
		}
	}

	return nil
}

// siblingCover looks for a thumbnail next to the audio file and reads it.
func (tp *TaggerImpl) siblingCover(path string) (*imageMetadata, string) {
	base := strings.TrimSuffix(path, filepath.Ext(path))

	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		coverPath := base + ext

		data, err := os.ReadFile(filepath.Clean(coverPath))
		if err != nil {
			continue
		}

		return &imageMetadata{
			data:     data,
			mimeType: mime.TypeByExtension(ext),
		}, coverPath
	}

	return nil, ""
}

func (tp *TaggerImpl) writeMP3Tags(path string, t *track.Track, image *imageMetadata) error {
	//nolint:exhaustruct // ParseFrames intentionally omitted when Parse=false (parsing disabled).
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return err
	}

	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetArtist(t.Artist)
	tag.SetTitle(t.Title)
	tag.SetAlbum(t.Album)

	if t.Duration > 0 {
		tag.AddTextFrame(tag.CommonID("Length"), tag.DefaultEncoding(),
			strconv.Itoa(t.Duration*millisecondsPerSecond))
	}

	if image != nil {
		//nolint:exhaustruct // Description field intentionally empty for cover images.
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    image.mimeType,
			PictureType: id3v2.PTFrontCover,
			Picture:     image.data,
		})
	}

	return tag.Save()
}

func (tp *TaggerImpl) writeFLACTags(ctx context.Context, path string, t *track.Track, image *imageMetadata) error {
	f, err := flac.ParseFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	comment, index := extractFLACComment(f)
	if comment == nil {
		comment = flacvorbis.New()
	}

	flacTags := map[string]string{
		"ARTIST": t.Artist,
		"TITLE":  t.Title,
		"ALBUM":  t.Album,
	}

	for key, value := range flacTags {
		if value == "" {
			continue
		}

		if err = comment.Add(key, value); err != nil {
			return err
		}
	}

	tagMeta := comment.Marshal()
	if index >= 0 {
		f.Meta[index] = &tagMeta
	} else {
		f.Meta = append(f.Meta, &tagMeta)
	}

	tp.embedFLACCover(ctx, f, image)

	return f.Save(path)
}

func (tp *TaggerImpl) embedFLACCover(ctx context.Context, f *flac.File, image *imageMetadata) {
	if image == nil {
		return
	}

	picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "", image.data, image.mimeType)
	if err != nil {
		logger.Errorf(ctx, "Failed to embed image to FLAC: %v", err)

		return
	}

	pictureMeta := picture.Marshal()
	f.Meta = append(f.Meta, &pictureMeta)
}

// extractFLACComment finds the existing Vorbis comment block and its index,
// or (nil, -1) when the file has none.
func extractFLACComment(f *flac.File) (*flacvorbis.MetaDataBlockVorbisComment, int) {
	for idx, meta := range f.Meta {
		if meta.Type != flac.VorbisComment {
			continue
		}

		comment, err := flacvorbis.ParseFromMetaDataBlock(*meta)
		if err == nil {
			return comment, idx
		}
	}

	return nil, -1
}
