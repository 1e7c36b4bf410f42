package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFetch returns the trimmed version string and defeats caches on the way.
func TestFetch(t *testing.T) {
	t.Parallel()

	var seen *http.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		_, _ = w.Write([]byte("  1.3.0\n"))
	}))
	t.Cleanup(server.Close)

	source := NewVersionSource()
	source.now = func() time.Time { return time.Unix(0, 42) }

	version, err := source.Fetch(context.Background(), server.URL+"/panel/version")
	require.NoError(t, err)
	require.Equal(t, "1.3.0", version)

	// Cache-busting is mandatory on every fetch.
	require.Equal(t, "42", seen.URL.Query().Get("t"))
	require.Equal(t, "no-cache", seen.Header.Get("Cache-Control"))
	require.Equal(t, "no-cache", seen.Header.Get("Pragma"))
}

// TestFetch_EmptyBody treats an empty or whitespace-only response as a
// failure, never as a valid "no version".
func TestFetch_EmptyBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("   \n\t"))
	}))
	t.Cleanup(server.Close)

	_, err := NewVersionSource().Fetch(context.Background(), server.URL)
	require.ErrorIs(t, err, errEmptyVersion)
}

// TestFetch_BadStatus fails on any non-200 answer.
func TestFetch_BadStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	_, err := NewVersionSource().Fetch(context.Background(), server.URL)
	require.ErrorIs(t, err, errBadHTTPStatus)
}

// TestFetch_FreshBusterPerCall ensures consecutive fetches never reuse
// the same cache-busting value.
func TestFetch_FreshBusterPerCall(t *testing.T) {
	t.Parallel()

	busters := make([]string, 0, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		busters = append(busters, r.URL.Query().Get("t"))
		_, _ = w.Write([]byte("2.0"))
	}))
	t.Cleanup(server.Close)

	source := NewVersionSource()

	for range 2 {
		_, err := source.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
	}

	require.Len(t, busters, 2)
	require.NotEqual(t, busters[0], busters[1])
}
