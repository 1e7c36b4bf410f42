package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/panel-updater/internal/logger"
)

const (
	// defaultFetchTimeout bounds one version fetch; single attempt, no retry.
	defaultFetchTimeout = 30 * time.Second

	// maxVersionBodySize caps the response body; a version file is one line.
	maxVersionBodySize = 4 * 1024
)

var (
	// errBadHTTPStatus is returned on any non-200 response.
	errBadHTTPStatus = errors.New("unexpected http status")
	// errEmptyVersion is returned when the body is empty or whitespace-only.
	errEmptyVersion = errors.New("version response is empty")
)

// VersionSource fetches the latest published version identifier of a
// subsystem from its upstream location. Staleness here directly causes wrong
// update decisions, so every request carries cache-defeating parameters.
type VersionSource struct {
	client *http.Client
	// now is injectable for tests asserting the cache buster.
	now func() time.Time
}

// NewVersionSource creates a source with a bounded per-fetch timeout.
func NewVersionSource() *VersionSource {
	return &VersionSource{
		client: &http.Client{Timeout: defaultFetchTimeout},
		now:    time.Now,
	}
}

// Fetch returns the single version string published at rawURL.
// The URL gains a fresh timestamp query parameter and the request carries
// no-cache directives, so no intermediate cache can serve a stale answer.
func (s *VersionSource) Fetch(ctx context.Context, rawURL string) (string, error) {
	versionURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse version URL: %w", err)
	}

	query := versionURL.Query()
	query.Set("t", strconv.FormatInt(s.now().UnixNano(), 10))
	versionURL.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL.String(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build version request: %w", err)
	}

	request.Header.Set("Cache-Control", "no-cache")
	request.Header.Set("Pragma", "no-cache")

	response, err := s.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("fetch version: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s: %w", versionURL, response.Status, errBadHTTPStatus)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxVersionBodySize))
	if err != nil {
		return "", fmt.Errorf("read version response: %w", err)
	}

	version := strings.TrimSpace(string(body))
	if version == "" {
		return "", fmt.Errorf("%s: %w", rawURL, errEmptyVersion)
	}

	logger.DebugKV(ctx, "Fetched remote version", "url", rawURL, "version", version)

	return version, nil
}
