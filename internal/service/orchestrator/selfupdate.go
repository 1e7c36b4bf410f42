package orchestrator

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/panel-updater/internal/logger"

	// Ensure SHA512 is available for checksum verification.
	_ "crypto/sha512"
)

const (
	// selfBinaryName is the artifact published at the self-update folder.
	selfBinaryName = "panel-updater"

	// selfChecksumName holds the hex SHA-512 of the published binary.
	selfChecksumName = "panel-updater.sha512"

	// selfUpdateTimeout bounds the whole self-update attempt.
	selfUpdateTimeout = 2 * time.Minute

	// selfChecksumFunction hashes the downloaded binary before applying.
	selfChecksumFunction crypto.Hash = crypto.SHA512

	// selfBinaryMode is applied to the refreshed executable.
	selfBinaryMode os.FileMode = 0o755
)

var (
	// errBadSelfUpdateStatus is returned on any non-200 artifact response.
	errBadSelfUpdateStatus = errors.New("unexpected http status")
	// errEmptyChecksum is returned when the published checksum file is blank.
	errEmptyChecksum = errors.New("checksum file is empty")
)

// maybeSelfUpdate refreshes the orchestrator's own binary from the configured
// folder before the pass resolves any subsystem. Failure is a warning, never
// fatal: an outdated updater can still run today's pass.
func (r *runner) maybeSelfUpdate(ctx context.Context) {
	if r.cfg.SelfUpdateURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, selfUpdateTimeout)
	defer cancel()

	if err := r.applySelfUpdate(ctx); err != nil {
		logger.WarnKV(ctx, "Self-update skipped", "error", err)
	}
}

// applySelfUpdate downloads the published binary, verifies its checksum and
// swaps it over the running executable.
func (r *runner) applySelfUpdate(ctx context.Context) error {
	checksum, err := r.fetchSelfArtifact(ctx, selfChecksumName)
	if err != nil {
		return err
	}

	fields := strings.Fields(string(checksum))
	if len(fields) == 0 {
		return fmt.Errorf("%s: %w", selfChecksumName, errEmptyChecksum)
	}

	expected, err := hex.DecodeString(fields[0])
	if err != nil {
		return fmt.Errorf("decode checksum: %w", err)
	}

	binary, err := r.fetchSelfArtifact(ctx, selfBinaryName)
	if err != nil {
		return err
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own executable: %w", err)
	}

	options := goupdate.Options{
		TargetPath: executable,
		TargetMode: selfBinaryMode,
		Checksum:   expected,
		Hash:       selfChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(binary), options); err != nil {
		return fmt.Errorf("apply self-update: %w", err)
	}

	// go-update keeps the previous binary around; drop it once applied.
	oldBinary := executable + ".old"
	if _, err = os.Stat(oldBinary); err == nil {
		_ = os.Remove(oldBinary)
	}

	logger.Info(ctx, "Updater binary refreshed")

	return nil
}

// fetchSelfArtifact downloads one file from the self-update folder.
func (r *runner) fetchSelfArtifact(ctx context.Context, name string) ([]byte, error) {
	folderURL, err := url.Parse(r.cfg.SelfUpdateURL)
	if err != nil {
		return nil, fmt.Errorf("parse self-update URL: %w", err)
	}

	folderURL.Path = path.Join(folderURL.Path, name)
	finalURL := folderURL.String()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %w", finalURL, response.Status, errBadSelfUpdateStatus)
	}

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return contents, nil
}
