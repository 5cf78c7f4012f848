package http

import "time"

const (
	// DefaultTimeout bounds every playlist and search request.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent mimics a common browser so the upstream services
	// treat the daemon like a regular web client.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36" //nolint: lll
)
