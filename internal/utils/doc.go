// Package utils provides small shared helpers: filename sanitization for
// library paths, file existence checks, extension handling and content-type
// classification for HTTP debug logging.
package utils
