// Package ytmusic implements candidate search against the music catalog's
// internal API. Search results are cached per query so repeated worker
// passes over the same missing tracks stay cheap.
package ytmusic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/track"
	http_transport "github.com/tunesyncd/tunesyncd/internal/transport/http"
	"github.com/tunesyncd/tunesyncd/internal/utils"
)

// Client defines the interface for candidate search.
type Client interface {
	// Search returns up to limit candidates for the query, best match first.
	Search(ctx context.Context, query string, limit int) ([]*track.Candidate, error)
}

// ClientImpl implements the Client interface.
type ClientImpl struct {
	// httpClient is the HTTP client for making requests.
	httpClient *http.Client
	// baseURL is the API base, overridable in tests.
	baseURL string

	// mu guards cookie, which the settings hook replaces while worker
	// searches are in flight.
	mu sync.Mutex
	// cookie is an optional cookie header forwarded with every request.
	cookie string
	// searchCache caches search results to avoid re-querying the same
	// track between worker passes.
	searchCache *lru.Cache[string, []*track.Candidate]
}

const (
	searchBaseURL = "https://music.youtube.com/youtubei/v1"
	searchURI     = "search"

	// clientName and clientVersion identify the web client to the
	// internal API. The values track the public web player.
	clientName    = "WEB_REMIX"
	clientVersion = "1.20240101.00.00"

	// songsOnlyParams filters search results to songs.
	songsOnlyParams = "EgWKAQIIAWoKEAkQBRAKEAMQBA=="

	// searchCacheSize bounds the per-process query cache. A library of a
	// few thousand missing tracks fits comfortably.
	searchCacheSize = 4096

	defaultSearchLimit = 5
)

// Static error definitions for better error handling.
var (
	// ErrUnexpectedHTTPStatus indicates an unexpected HTTP status code was received.
	ErrUnexpectedHTTPStatus = errors.New("unexpected HTTP status")
	// ErrNoResults indicates the search payload held no usable items.
	ErrNoResults = errors.New("no search results")
)

// NewClient creates and returns a new instance of ClientImpl.
func NewClient(cookie string) (*ClientImpl, error) {
	searchCache, err := lru.New[string, []*track.Candidate](searchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}

	httpClient := &http.Client{
		Transport: http_transport.NewUserAgentInjector(
			http_transport.NewLogTransport(http.DefaultTransport, 0),
			utils.NewSimpleUserAgentProvider(http_transport.DefaultUserAgent)),
		Timeout: http_transport.DefaultTimeout,
	}

	return &ClientImpl{
		httpClient:  httpClient,
		baseURL:     searchBaseURL,
		cookie:      cookie,
		searchCache: searchCache,
	}, nil
}

// SetCookie replaces the forwarded cookie header, used when the runtime
// settings change.
func (c *ClientImpl) SetCookie(cookie string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cookie = cookie
}

// currentCookie returns the forwarded cookie header under the lock.
func (c *ClientImpl) currentCookie() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cookie
}

// Search returns up to limit candidates for the query, best match first.
func (c *ClientImpl) Search(ctx context.Context, query string, limit int) ([]*track.Candidate, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	if cached, ok := c.searchCache.Get(query); ok {
		logger.Debugf(ctx, "Search cache hit for %q", query)

		return capCandidates(cached, limit), nil
	}

	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    clientName,
				"clientVersion": clientVersion,
			},
		},
		"query":  query,
		"params": songsOnlyParams,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	requestURL := fmt.Sprintf("%s/%s", c.baseURL, searchURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if cookie := c.currentCookie(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedHTTPStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	candidates, err := parseSearchResponse(raw)
	if err != nil {
		return nil, err
	}

	c.searchCache.Add(query, candidates)

	return capCandidates(candidates, limit), nil
}

func capCandidates(candidates []*track.Candidate, limit int) []*track.Candidate {
	if len(candidates) <= limit {
		return candidates
	}

	return candidates[:limit]
}
