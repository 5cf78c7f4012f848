package http

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/tunesyncd/tunesyncd/internal/config"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/utils"
)

// LogTransport is an http.RoundTripper that dumps requests and responses to
// the debug log. Credential-bearing headers are redacted before the dump:
// the daemon forwards OAuth tokens and session cookies on every upstream
// call and none of them may reach the log.
type LogTransport struct {
	// next is the underlying HTTP round tripper.
	next http.RoundTripper
	// maxLogLength is the maximum length of logged request/response data.
	maxLogLength uint64
}

// Static error definitions for better error handling.
var (
	// ErrNilRequest indicates that the HTTP request is nil.
	ErrNilRequest = errors.New("request is nil")
)

// sensitiveHeaders carry credentials and are masked in dumps.
//
//nolint:gochecknoglobals // Immutable lookup table.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

const redactedValue = "[redacted]"

// NewLogTransport creates and returns a new instance of LogTransport.
// If maxLogLength is less than or equal to 0, it defaults to config.DefaultMaxLogLength.
func NewLogTransport(next http.RoundTripper, maxLogLength uint64) http.RoundTripper {
	if maxLogLength <= 0 {
		maxLogLength = config.DefaultMaxLogLength
	}

	return &LogTransport{
		next:         next,
		maxLogLength: maxLogLength,
	}
}

// RoundTrip executes a single HTTP transaction, logging the redacted
// request and response when the logger is at debug level.
// It implements the http.RoundTripper interface.
func (t *LogTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	if !logger.IsDebugLevel() {
		return t.next.RoundTrip(req)
	}

	ctx := req.Context()

	requestDump := t.dumpRequest(req)

	startTime := time.Now()

	resp, err := t.next.RoundTrip(req)

	duration := time.Since(startTime)

	if err != nil {
		logger.Debugf(ctx, "Request failed: %s %s | Error: %v", req.Method, req.URL.String(), err)

		return nil, err
	}

	responseDump := t.dumpResponse(resp)

	logger.Debugf(ctx, "%s %s [%d] %s\nRequest: %s\nResponse: %s",
		req.Method, req.URL.Path, resp.StatusCode, duration, requestDump, responseDump)

	return resp, nil
}

// dumpRequest dumps the request with its body, swapping in a redacted
// header set for the duration of the dump.
func (t *LogTransport) dumpRequest(req *http.Request) string {
	original := req.Header
	req.Header = redactHeaders(original)

	dump, err := httputil.DumpRequest(req, true)

	req.Header = original

	if err != nil {
		return err.Error()
	}

	return t.truncate(dump)
}

func (t *LogTransport) dumpResponse(resp *http.Response) string {
	original := resp.Header
	resp.Header = redactHeaders(original)

	// Binary payloads are dumped headers-only.
	contentType := original.Get("Content-Type")

	dump, err := httputil.DumpResponse(resp, utils.IsTextContentType(contentType))

	resp.Header = original

	if err != nil {
		return err.Error()
	}

	return t.truncate(dump)
}

// redactHeaders returns a copy of the headers with credential values masked.
func redactHeaders(headers http.Header) http.Header {
	clone := headers.Clone()
	if clone == nil {
		clone = make(http.Header)
	}

	for _, name := range sensitiveHeaders {
		if clone.Get(name) != "" {
			clone.Set(name, redactedValue)
		}
	}

	return clone
}

func (t *LogTransport) truncate(data []byte) string {
	if uint64(len(data)) > t.maxLogLength {
		return string(data[:t.maxLogLength]) + "... [truncated]"
	}

	return string(data)
}
