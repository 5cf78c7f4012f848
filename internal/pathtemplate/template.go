// Package pathtemplate implements the bidirectional mapping between the
// user's path template and relative filesystem paths. The forward direction
// renders extractor output paths; the reverse direction turns an on-disk
// relative path back into template fields so reconciliation can compare the
// library against the catalog without guessing.
package pathtemplate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Template variables accepted in a user path template.
const (
	VarArtist = "artist"
	VarAlbum  = "album"
	VarTitle  = "title"
	VarExt    = "ext"
)

// DefaultTemplate is used until the user configures their own.
const DefaultTemplate = "{artist}/{album}/{artist} - {title}.{ext}"

// Static error definitions for better error handling.
var (
	// ErrAbsoluteTemplate indicates the template starts with a path separator.
	ErrAbsoluteTemplate = errors.New("template must be relative, not start with '/'")
	// ErrParentTraversal indicates the template contains a '..' segment.
	ErrParentTraversal = errors.New("template must not contain '..'")
	// ErrUnknownVariable indicates the template references a variable outside the allowed set.
	ErrUnknownVariable = errors.New("illegal variables in template")
	// ErrMissingExt indicates the template does not place the file extension.
	ErrMissingExt = errors.New("template must include {ext}")
)

//nolint:gochecknoglobals // Immutable, pre-compiled patterns used as constants.
var (
	variablePattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

	allowedVariables = map[string]struct{}{
		VarArtist: {},
		VarAlbum:  {},
		VarTitle:  {},
		VarExt:    {},
	}
)

// Fields holds the values substituted into a template, or recovered from a
// relative path by the reverse mapping.
type Fields struct {
	Artist string
	Album  string
	Title  string
	Ext    string
}

// Template is a validated, pre-compiled user path template.
type Template struct {
	raw     string
	pattern *regexp.Regexp
}

// Parse validates the raw template and compiles its reverse-mapping regexp.
func Parse(raw string) (*Template, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	pattern, err := compilePathRegexp(raw)
	if err != nil {
		return nil, err
	}

	return &Template{raw: raw, pattern: pattern}, nil
}

// Validate checks the template rules: relative, no parent traversal, only
// allowed variables, and a mandatory {ext} placement.
func Validate(raw string) error {
	if strings.HasPrefix(raw, "/") {
		return ErrAbsoluteTemplate
	}

	if strings.Contains(raw, "..") {
		return ErrParentTraversal
	}

	var (
		illegal []string
		hasExt  bool
	)

	for _, match := range variablePattern.FindAllStringSubmatch(raw, -1) {
		name := match[1]
		if _, ok := allowedVariables[name]; !ok {
			illegal = append(illegal, name)
		}

		if name == VarExt {
			hasExt = true
		}
	}

	if len(illegal) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, strings.Join(illegal, ", "))
	}

	if !hasExt {
		return ErrMissingExt
	}

	return nil
}

// String returns the raw template text.
func (t *Template) String() string {
	return t.raw
}

// Render substitutes the fields into the template, producing a relative path
// with POSIX separators.
func (t *Template) Render(fields Fields) string {
	replacer := strings.NewReplacer(
		"{artist}", fields.Artist,
		"{album}", fields.Album,
		"{title}", fields.Title,
		"{ext}", fields.Ext,
	)

	return replacer.Replace(t.raw)
}

// Match reverse-maps a relative path (any separator) onto the template.
// The second return value is false when the path does not fit the template.
func (t *Template) Match(relPath string) (Fields, bool) {
	normalized := filepath.ToSlash(relPath)

	match := t.pattern.FindStringSubmatch(normalized)
	if match == nil {
		return Fields{}, false
	}

	var fields Fields

	for i, name := range t.pattern.SubexpNames() {
		if i == 0 {
			continue
		}

		// Repeated template variables produce duplicate group names suffixed
		// by ordinal; only the first capture is kept.
		switch {
		case strings.HasPrefix(name, VarArtist) && fields.Artist == "":
			fields.Artist = match[i]
		case strings.HasPrefix(name, VarAlbum) && fields.Album == "":
			fields.Album = match[i]
		case strings.HasPrefix(name, VarTitle) && fields.Title == "":
			fields.Title = match[i]
		case strings.HasPrefix(name, VarExt) && fields.Ext == "":
			fields.Ext = match[i]
		}
	}

	return fields, true
}

// compilePathRegexp escapes the literal parts of the template and replaces
// each variable with a non-greedy named capture. The extension capture
// cannot cross a path separator. The pattern is anchored to the full
// relative path.
func compilePathRegexp(raw string) (*regexp.Regexp, error) {
	var (
		builder strings.Builder
		counter int
		last    int
	)

	builder.WriteString("^")

	for _, loc := range variablePattern.FindAllStringSubmatchIndex(raw, -1) {
		builder.WriteString(regexp.QuoteMeta(raw[last:loc[0]]))

		name := raw[loc[2]:loc[3]]

		groupName := name
		if counter > 0 {
			// Go regexps reject duplicate group names; disambiguate repeats.
			groupName = fmt.Sprintf("%s%d", name, counter)
		}

		if name == VarExt {
			fmt.Fprintf(&builder, `(?P<%s>[^/]+)`, groupName)
		} else {
			fmt.Fprintf(&builder, `(?P<%s>.+?)`, groupName)
		}

		counter++
		last = loc[1]
	}

	builder.WriteString(regexp.QuoteMeta(raw[last:]))
	builder.WriteString("$")

	return regexp.Compile(builder.String())
}

// LibraryEntry is one file under the music root that fits the template.
type LibraryEntry struct {
	// RelPath is the file's path relative to the scanned root.
	RelPath string
	// Fields are the template fields recovered from the path.
	Fields Fields
}

// ScanLibrary walks the music root and reverse-maps every regular file onto
// the template, reporting which tracks are present on disk. Files that do
// not fit the template are ignored.
func ScanLibrary(root string, tmpl *Template) ([]LibraryEntry, error) {
	var entries []LibraryEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		fields, ok := tmpl.Match(relPath)
		if !ok {
			return nil
		}

		entries = append(entries, LibraryEntry{
			RelPath: filepath.ToSlash(relPath),
			Fields:  fields,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
