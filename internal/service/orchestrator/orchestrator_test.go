package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/panel-updater/internal/config"
	"github.com/oshokin/panel-updater/internal/domain/update"
	"github.com/oshokin/panel-updater/internal/fsutil"
	"github.com/oshokin/panel-updater/internal/lock"
	"github.com/oshokin/panel-updater/internal/repository/versions"
)

// fakeSource serves remote versions per URL from memory.
type fakeSource struct {
	versions map[string]string
	errs     map[string]error
	calls    int
}

func (s *fakeSource) Fetch(_ context.Context, rawURL string) (string, error) {
	s.calls++

	if err, ok := s.errs[rawURL]; ok {
		return "", err
	}

	return s.versions[rawURL], nil
}

// fakeFetcher materializes payload trees instead of cloning repositories.
type fakeFetcher struct {
	payload func(repoURL, dest string) error
	err     error
	calls   int
}

func (f *fakeFetcher) Checkout(_ context.Context, repoURL, _ string, dest string) error {
	f.calls++

	if f.err != nil {
		return f.err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	return f.payload(repoURL, dest)
}

// fakeServices records service manager calls.
type fakeServices struct {
	active   bool
	startErr error
	stopErr  error
	starts   []string
	stops    []string
}

func (s *fakeServices) Start(_ context.Context, name string) error {
	s.starts = append(s.starts, name)
	return s.startErr
}

func (s *fakeServices) Stop(_ context.Context, name string) error {
	s.stops = append(s.stops, name)
	return s.stopErr
}

func (s *fakeServices) IsActive(_ context.Context, _ string) (bool, error) {
	return s.active, nil
}

// testEnv bundles one fully wired runner over temp directories.
type testEnv struct {
	cfg      *config.Config
	repo     *versions.SQLiteRepository
	source   *fakeSource
	fetcher  *fakeFetcher
	services *fakeServices
	runner   *runner
}

const (
	panelVersionURL    = "https://updates.test/panel/version"
	routerVersionURL   = "https://updates.test/router/version"
	firewallVersionURL = "https://updates.test/firewall/version"
	startupVersionURL  = "https://updates.test/startup/version"
)

// newTestEnv provisions a panel tree at version 1.2.0 with a settings
// subtree holding the SQLite store and an operator secret.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base := t.TempDir()
	panelRoot := filepath.Join(base, "panel")

	require.NoError(t, os.MkdirAll(filepath.Join(panelRoot, "data"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(panelRoot, "index.php"), []byte("panel v1.2.0"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(panelRoot, "data", "secrets.json"), []byte(`{"wifi":"hunter2"}`), 0o600))

	databaseFile := filepath.Join(panelRoot, "data", "panel.db")

	repo, err := versions.NewSQLiteRepository(databaseFile)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repo.Close()
	})

	ctx := context.Background()
	require.NoError(t, repo.InitCanonicalSchema(ctx))
	require.NoError(t, repo.Provision(ctx, update.SubsystemPanel, "1.2.0", "Version 1.2.0"))

	cfg := &config.Config{
		PanelRoot:        panelRoot,
		PreservedSubtree: "data",
		DatabaseFile:     databaseFile,
		BackupDir:        filepath.Join(base, "backups"),
		LockFile:         filepath.Join(base, "updater.lock"),
		LockMaxAge:       time.Hour,
		ServiceName:      "panel",
		BackupPolicy:     config.BackupStrict,
		Panel: config.Remote{
			VersionURL: panelVersionURL,
			RepoURL:    "https://git.test/panel.git",
			Branch:     "master",
		},
	}

	env := &testEnv{
		cfg:  cfg,
		repo: repo,
		source: &fakeSource{
			versions: map[string]string{panelVersionURL: "1.2.0"},
			errs:     map[string]error{},
		},
		fetcher: &fakeFetcher{
			payload: func(_, dest string) error {
				if err := os.WriteFile(filepath.Join(dest, "index.php"), []byte("panel v1.3.0"), 0o644); err != nil {
					return err
				}

				// The payload ships its own settings subtree, which must
				// never survive the restore.
				if err := os.MkdirAll(filepath.Join(dest, "data"), 0o755); err != nil {
					return err
				}

				return os.WriteFile(filepath.Join(dest, "data", "shipped.json"), []byte("{}"), 0o644)
			},
		},
		services: &fakeServices{active: true},
	}

	env.runner = &runner{
		cfg:         cfg,
		repo:        repo,
		source:      env.source,
		fetcher:     env.fetcher,
		services:    env.services,
		runLock:     lock.New(cfg.LockFile, cfg.LockMaxAge),
		assumeYes:   true,
		stdin:       strings.NewReader(""),
		stdout:      io.Discard,
		interactive: func() bool { return false },
	}

	return env
}

// addAuxiliaries provisions the three auxiliary subsystems at 1.0 and
// declares them in the configuration with the given installer scripts.
func (e *testEnv) addAuxiliaries(t *testing.T, installerByRepo map[string]string) {
	t.Helper()

	ctx := context.Background()

	entries := []struct {
		subsystem  update.Subsystem
		versionURL string
	}{
		{update.SubsystemRouter, routerVersionURL},
		{update.SubsystemFirewall, firewallVersionURL},
		{update.SubsystemStartup, startupVersionURL},
	}

	for _, entry := range entries {
		require.NoError(t, e.repo.Provision(ctx, entry.subsystem, "1.0", "Version 1.0"))

		repoURL := fmt.Sprintf("https://git.test/%s.git", entry.subsystem.DisplayName())
		e.cfg.Auxiliaries = append(e.cfg.Auxiliaries, config.Auxiliary{
			Key: entry.subsystem.String(),
			Remote: config.Remote{
				VersionURL: entry.versionURL,
				RepoURL:    repoURL,
				Branch:     "master",
			},
			Installer: "./install.sh",
		})
		e.source.versions[entry.versionURL] = "1.1"
	}

	basePayload := e.fetcher.payload
	e.fetcher.payload = func(repoURL, dest string) error {
		script, ok := installerByRepo[repoURL]
		if !ok {
			return basePayload(repoURL, dest)
		}

		return os.WriteFile(filepath.Join(dest, "install.sh"), []byte(script), 0o755)
	}
}

const (
	installerOK   = "#!/bin/sh\nexit 0\n"
	installerFail = "#!/bin/sh\necho broken >&2\nexit 1\n"
)

// TestRun_PrimaryUpdate is end-to-end scenario A: the panel is outdated, the
// full pipeline succeeds, the settings subtree survives byte-identical and
// the version store reads the new version.
func TestRun_PrimaryUpdate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.source.versions[panelVersionURL] = "1.3.0"
	env.services.active = false

	require.NoError(t, env.runner.run(context.Background()))

	// The tree was replaced.
	contents, err := os.ReadFile(filepath.Join(env.cfg.PanelRoot, "index.php"))
	require.NoError(t, err)
	require.Equal(t, "panel v1.3.0", string(contents))

	// Durable settings survived; the payload's shipped copy did not.
	contents, err = os.ReadFile(filepath.Join(env.cfg.PanelRoot, "data", "secrets.json"))
	require.NoError(t, err)
	require.Equal(t, `{"wifi":"hunter2"}`, string(contents))
	require.False(t, fsutil.Exists(filepath.Join(env.cfg.PanelRoot, "data", "shipped.json")))

	// The store reads what was committed.
	version, err := env.repo.Read(context.Background(), update.SubsystemPanel)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", version)

	// Stop before the swap, start after the commit.
	require.Equal(t, []string{"panel"}, env.services.stops)
	require.Equal(t, []string{"panel"}, env.services.starts)

	// A snapshot of the old tree was retained.
	snapshots, err := os.ReadDir(env.cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	old, err := os.ReadFile(filepath.Join(env.cfg.BackupDir, snapshots[0].Name(), "index.php"))
	require.NoError(t, err)
	require.Equal(t, "panel v1.2.0", string(old))

	// The lock is gone after the pass.
	require.False(t, fsutil.Exists(env.cfg.LockFile))
}

// TestRun_UpToDate is end-to-end scenario B: nothing is outdated, nothing is
// mutated, and the service is started only because it was not active.
func TestRun_UpToDate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.services.active = false

	require.NoError(t, env.runner.run(context.Background()))

	require.Zero(t, env.fetcher.calls)
	require.Empty(t, env.services.stops)
	require.Equal(t, []string{"panel"}, env.services.starts)

	contents, err := os.ReadFile(filepath.Join(env.cfg.PanelRoot, "index.php"))
	require.NoError(t, err)
	require.Equal(t, "panel v1.2.0", string(contents))

	// An active service is left alone.
	env2 := newTestEnv(t)
	require.NoError(t, env2.runner.run(context.Background()))
	require.Empty(t, env2.services.starts)
}

// TestRun_RemoteUnreadable is end-to-end scenario C: an unobtainable remote
// version aborts the pass before any destructive step.
func TestRun_RemoteUnreadable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.source.errs[panelVersionURL] = fmt.Errorf("version response is empty")

	err := env.runner.run(context.Background())
	require.ErrorIs(t, err, update.ErrVersionUnreadable)

	require.Zero(t, env.fetcher.calls)
	require.Empty(t, env.services.stops)

	version, readErr := env.repo.Read(context.Background(), update.SubsystemPanel)
	require.NoError(t, readErr)
	require.Equal(t, "1.2.0", version)
}

// TestRun_AuxiliaryIsolation ensures a failing router installer does not
// prevent the firewall and startup updates, and leaves the router's
// persisted version unchanged.
func TestRun_AuxiliaryIsolation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addAuxiliaries(t, map[string]string{
		"https://git.test/router.git":   installerFail,
		"https://git.test/firewall.git": installerOK,
		"https://git.test/startup.git":  installerOK,
	})

	err := env.runner.run(context.Background())
	require.ErrorContains(t, err, "router")

	ctx := context.Background()

	version, readErr := env.repo.Read(ctx, update.SubsystemRouter)
	require.NoError(t, readErr)
	require.Equal(t, "1.0", version)

	for _, subsystem := range []update.Subsystem{update.SubsystemFirewall, update.SubsystemStartup} {
		version, readErr = env.repo.Read(ctx, subsystem)
		require.NoError(t, readErr)
		require.Equal(t, "1.1", version)
	}
}

// TestRun_LockHeld exits silently without reading or mutating anything
// while another pass owns the lock.
func TestRun_LockHeld(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.source.versions[panelVersionURL] = "1.3.0"

	// A live competing run: this test process is certainly alive.
	require.NoError(t, os.WriteFile(env.cfg.LockFile,
		[]byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600))

	require.ErrorIs(t, env.runner.run(context.Background()), update.ErrLockHeld)

	require.Zero(t, env.source.calls)
	require.Zero(t, env.fetcher.calls)
	require.Empty(t, env.services.stops)

	// The competing run's token is untouched.
	require.True(t, fsutil.Exists(env.cfg.LockFile))
}

// TestRun_OperatorDeclines applies nothing when the attached operator
// answers no.
func TestRun_OperatorDeclines(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.source.versions[panelVersionURL] = "1.3.0"
	env.runner.assumeYes = false
	env.runner.interactive = func() bool { return true }
	env.runner.stdin = strings.NewReader("n\n")

	require.NoError(t, env.runner.run(context.Background()))

	require.Zero(t, env.fetcher.calls)
	require.Empty(t, env.services.stops)

	version, err := env.repo.Read(context.Background(), update.SubsystemPanel)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", version)
}

// TestRun_OperatorConfirms proceeds on an explicit yes.
func TestRun_OperatorConfirms(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.source.versions[panelVersionURL] = "1.3.0"
	env.runner.assumeYes = false
	env.runner.interactive = func() bool { return true }
	env.runner.stdin = strings.NewReader("y\n")

	var prompt strings.Builder
	env.runner.stdout = &prompt

	require.NoError(t, env.runner.run(context.Background()))

	require.Contains(t, prompt.String(), "panel: 1.2.0 -> 1.3.0")

	version, err := env.repo.Read(context.Background(), update.SubsystemPanel)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", version)
}

// TestPrimaryPipeline_FetchFailureRestoresService aborts before any
// destructive step when the payload cannot be fetched, and restarts the
// service it stopped.
func TestPrimaryPipeline_FetchFailureRestoresService(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.err = fmt.Errorf("network unreachable")

	entry := update.PlanEntry{Subsystem: update.SubsystemPanel, Current: "1.2.0", Target: "1.3.0"}

	outcome, err := env.runner.runPrimaryPipeline(context.Background(), entry)
	require.ErrorIs(t, err, update.ErrTransport)
	require.Equal(t, update.OutcomeFailed, outcome)

	// The working tree, settings included, is untouched.
	contents, readErr := os.ReadFile(filepath.Join(env.cfg.PanelRoot, "data", "secrets.json"))
	require.NoError(t, readErr)
	require.Equal(t, `{"wifi":"hunter2"}`, string(contents))

	// Best-effort recovery to the pre-update running state.
	require.Equal(t, []string{"panel"}, env.services.stops)
	require.Equal(t, []string{"panel"}, env.services.starts)
}

// TestPrimaryPipeline_DegradedOutcome distinguishes "updated but not
// running" from a clean success: the version is committed even though the
// service failed to start.
func TestPrimaryPipeline_DegradedOutcome(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.services.startErr = fmt.Errorf("unit entered failed state")

	entry := update.PlanEntry{Subsystem: update.SubsystemPanel, Current: "1.2.0", Target: "1.3.0"}

	outcome, err := env.runner.runPrimaryPipeline(context.Background(), entry)
	require.ErrorIs(t, err, update.ErrServiceControl)
	require.Equal(t, update.OutcomeDegraded, outcome)

	version, readErr := env.repo.Read(context.Background(), update.SubsystemPanel)
	require.NoError(t, readErr)
	require.Equal(t, "1.3.0", version)
}

// TestPrimaryPipeline_StopFailureIsSafeAbort aborts before any destructive
// action when the service cannot be stopped.
func TestPrimaryPipeline_StopFailureIsSafeAbort(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.services.stopErr = fmt.Errorf("unit not loaded")

	entry := update.PlanEntry{Subsystem: update.SubsystemPanel, Current: "1.2.0", Target: "1.3.0"}

	outcome, err := env.runner.runPrimaryPipeline(context.Background(), entry)
	require.ErrorIs(t, err, update.ErrServiceControl)
	require.Equal(t, update.OutcomeFailed, outcome)

	require.Zero(t, env.fetcher.calls)
	require.False(t, fsutil.Exists(env.cfg.BackupDir))
}

// TestPreservedState_Roundtrip extracts and restores the settings subtree
// with no intervening modification and requires byte identity, while the
// extraction itself leaves the source untouched.
func TestPreservedState_Roundtrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	original := filepath.Join(t.TempDir(), "original")
	source := filepath.Join(env.cfg.PanelRoot, "data")
	require.NoError(t, fsutil.CopyTree(source, original))

	scratch, err := newScratchDir()
	require.NoError(t, err)
	env.runner.rememberScratch(scratch)

	preserved, err := env.runner.extractPreservedState(ctx, scratch)
	require.NoError(t, err)
	require.NotEmpty(t, preserved)

	// Extraction is read-only on the source.
	equal, err := fsutil.TreesEqual(original, source)
	require.NoError(t, err)
	require.True(t, equal)

	// Wipe the subtree and restore the preserved copy.
	require.NoError(t, os.RemoveAll(source))
	require.NoError(t, env.runner.restorePreservedState(ctx, preserved))

	equal, err = fsutil.TreesEqual(original, source)
	require.NoError(t, err)
	require.True(t, equal)

	env.runner.cleanup(ctx)
}
