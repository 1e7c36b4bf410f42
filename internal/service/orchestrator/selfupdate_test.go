package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSelfUpdate_MissingArtifact fails before touching the executable when
// the published checksum cannot be fetched.
func TestSelfUpdate_MissingArtifact(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t)
	env.cfg.SelfUpdateURL = server.URL

	err := env.runner.applySelfUpdate(context.Background())
	require.ErrorIs(t, err, errBadSelfUpdateStatus)
}

// TestSelfUpdate_BadChecksum rejects a malformed checksum file.
func TestSelfUpdate_BadChecksum(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+selfChecksumName {
			_, _ = w.Write([]byte("not-hex-at-all"))
			return
		}

		_, _ = w.Write([]byte("binary"))
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t)
	env.cfg.SelfUpdateURL = server.URL

	err := env.runner.applySelfUpdate(context.Background())
	require.ErrorContains(t, err, "decode checksum")
}

// TestSelfUpdate_EmptyChecksum rejects a blank checksum file.
func TestSelfUpdate_EmptyChecksum(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+selfChecksumName {
			_, _ = w.Write([]byte("   \n"))
			return
		}

		_, _ = w.Write([]byte("binary"))
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t)
	env.cfg.SelfUpdateURL = server.URL

	err := env.runner.applySelfUpdate(context.Background())
	require.ErrorIs(t, err, errEmptyChecksum)
}

// TestMaybeSelfUpdate_Disabled does nothing without a configured folder.
func TestMaybeSelfUpdate_Disabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.cfg.SelfUpdateURL = ""

	// Must not panic or reach the network.
	env.runner.maybeSelfUpdate(context.Background())
}
