package ytmusic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearchServer(t *testing.T, calls *int) *ClientImpl {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)

		fmt.Fprint(w, searchPayload)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient("")
	require.NoError(t, err)

	client.baseURL = server.URL

	return client
}

// TestClient_Search tests a search round trip.
func TestClient_Search(t *testing.T) {
	t.Parallel()

	var calls int

	client := newTestSearchServer(t, &calls)

	candidates, err := client.Search(context.Background(), "queen bohemian rhapsody", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	assert.Equal(t, "Queen", candidates[0].Artist)
	assert.Equal(t, 354, candidates[0].Duration)
}

// TestClient_Search_Cache tests that repeated queries hit the cache.
func TestClient_Search_Cache(t *testing.T) {
	t.Parallel()

	var calls int

	client := newTestSearchServer(t, &calls)

	_, err := client.Search(context.Background(), "queen bohemian rhapsody", 5)
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "queen bohemian rhapsody", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

// TestClient_Search_Limit tests the result cap.
func TestClient_Search_Limit(t *testing.T) {
	t.Parallel()

	var calls int

	client := newTestSearchServer(t, &calls)

	candidates, err := client.Search(context.Background(), "queen", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, candidates)
}

// TestClient_Search_ServerError tests the unexpected-status path.
func TestClient_Search_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient("")
	require.NoError(t, err)

	client.baseURL = server.URL

	_, err = client.Search(context.Background(), "queen", 5)
	assert.ErrorIs(t, err, ErrUnexpectedHTTPStatus)
}

// TestClient_SetCookieDuringSearch exercises cookie replacement while
// searches are in flight, as happens when the settings change mid-run.
func TestClient_SetCookieDuringSearch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, searchPayload)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient("session=0")
	require.NoError(t, err)

	client.baseURL = server.URL

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func(n int) {
			defer wg.Done()

			client.SetCookie(fmt.Sprintf("session=%d", n))
		}(i)

		go func(n int) {
			defer wg.Done()

			// Distinct queries so every call reaches the request path.
			_, searchErr := client.Search(context.Background(), fmt.Sprintf("query %d", n), 5)
			assert.NoError(t, searchErr)
		}(i)
	}

	wg.Wait()

	assert.NotEmpty(t, client.currentCookie())
}
