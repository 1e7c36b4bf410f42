package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/panel-updater/internal/config"
	"github.com/oshokin/panel-updater/internal/domain/update"
	"github.com/oshokin/panel-updater/internal/fsutil"
	"github.com/oshokin/panel-updater/internal/logger"
)

// payloadDirName and preservedDirName split one scratch directory between
// the fetched tree and the settings subtree set aside before the swap.
const (
	payloadDirName   = "payload"
	preservedDirName = "preserved"
)

// runPrimaryPipeline replaces the panel's working directory with the new
// version while preserving the durable settings subtree. The steps run in a
// fixed order with no backward transitions; the first failure is terminal.
// Once the swap begins the pipeline runs to a terminal state, because partial
// completion cannot be rolled back automatically.
func (r *runner) runPrimaryPipeline(ctx context.Context, entry update.PlanEntry) (update.Outcome, error) {
	ctx = logger.WithKV(ctx, "subsystem", entry.Subsystem.DisplayName())

	logger.InfoKV(ctx, "Updating primary subsystem",
		"current", entry.Current, "target", entry.Target)

	// Step 1: stop the service. Nothing has been touched yet, so failure
	// here is a safe abort.
	if err := r.services.Stop(ctx, r.cfg.ServiceName); err != nil {
		return update.OutcomeFailed,
			fmt.Errorf("%w: stop %s before update: %w", update.ErrServiceControl, r.cfg.ServiceName, err)
	}

	// Step 2: snapshot the current tree. The snapshot is retained on disk
	// whatever happens next; it is the sole recovery path if the
	// replacement fails after this point.
	if err := r.backupPanel(ctx); err != nil {
		r.restartAfterAbort(ctx)
		return update.OutcomeFailed, err
	}

	scratch, err := newScratchDir()
	if err != nil {
		r.restartAfterAbort(ctx)
		return update.OutcomeFailed, fmt.Errorf("%w: create scratch: %w", update.ErrFilesystem, err)
	}

	r.rememberScratch(scratch)

	// Step 3: fetch the new tree into isolated scratch space.
	payload := filepath.Join(scratch, payloadDirName)
	if err = r.fetcher.Checkout(ctx, r.cfg.Panel.RepoURL, r.cfg.Panel.Branch, payload); err != nil {
		r.restartAfterAbort(ctx)
		return update.OutcomeFailed, fmt.Errorf("%w: fetch panel payload: %w", update.ErrTransport, err)
	}

	// Step 4: set the settings subtree aside. Read-only on the source;
	// the current tree is untouched until the swap.
	preserved, err := r.extractPreservedState(ctx, scratch)
	if err != nil {
		r.restartAfterAbort(ctx)
		return update.OutcomeFailed, err
	}

	// Step 5: the point of no return. Delete the working directory and
	// move the fetched tree into its place.
	if err = r.swapPanelTree(ctx, payload); err != nil {
		r.restartAfterAbort(ctx)
		return update.OutcomeFailed, err
	}

	// Step 6: the preserved settings replace whatever the payload shipped;
	// the fetched tree's own copy of durable data is never authoritative.
	if err = r.restorePreservedState(ctx, preserved); err != nil {
		r.restartAfterAbort(ctx)
		return update.OutcomeFailed, err
	}

	// Step 7: the runtime user owns the new tree.
	if r.cfg.RuntimeUser != "" {
		if err = fsutil.ChownTree(r.cfg.PanelRoot, r.cfg.RuntimeUser); err != nil {
			r.restartAfterAbort(ctx)
			return update.OutcomeFailed,
				fmt.Errorf("%w: normalize ownership to %s: %w", update.ErrFilesystem, r.cfg.RuntimeUser, err)
		}
	}

	// Step 8: commit and verify the new version. The swap replaced the
	// settings database file, so the store handle is re-established first.
	// A verification mismatch is a correctness violation and aborts before
	// the service is restarted.
	if reopener, ok := r.repo.(repoReopener); ok {
		if err = reopener.Reopen(ctx); err != nil {
			return update.OutcomeFailed,
				fmt.Errorf("%w: reopen settings store: %w", update.ErrFilesystem, err)
		}
	}

	if err = r.commitVersion(ctx, entry); err != nil {
		return update.OutcomeFailed, err
	}

	// Step 9: bring the panel back. The version is already committed, so a
	// failure here leaves the appliance updated but not running.
	if err = r.services.Start(ctx, r.cfg.ServiceName); err != nil {
		logger.ErrorKV(ctx, "Panel updated but its service did not start",
			"service", r.cfg.ServiceName, "version", entry.Target, "error", err)

		return update.OutcomeDegraded,
			fmt.Errorf("%w: start %s after update: %w", update.ErrServiceControl, r.cfg.ServiceName, err)
	}

	logger.InfoKV(ctx, "Primary subsystem updated", "version", entry.Target)

	return update.OutcomeSucceeded, nil
}

// backupPanel copies the working directory to a timestamped snapshot.
// Under the best-effort policy a failed backup only warns, trading
// recoverability for update progress; strict aborts.
func (r *runner) backupPanel(ctx context.Context) error {
	if err := fsutil.EnsureDir(r.cfg.BackupDir); err != nil {
		return r.backupFailed(ctx, err)
	}

	snapshot := filepath.Join(r.cfg.BackupDir, backupName(time.Now()))

	logger.InfoKV(ctx, "Creating backup snapshot", "path", snapshot)

	if err := fsutil.CopyTree(r.cfg.PanelRoot, snapshot); err != nil {
		return r.backupFailed(ctx, err)
	}

	return nil
}

// backupFailed applies the configured backup policy to one failure.
func (r *runner) backupFailed(ctx context.Context, err error) error {
	if r.cfg.BackupPolicy == config.BackupBestEffort {
		logger.WarnKV(ctx, "Backup failed, continuing without a recovery snapshot", "error", err)
		return nil
	}

	return fmt.Errorf("%w: backup panel tree: %w", update.ErrFilesystem, err)
}

// extractPreservedState copies the settings subtree aside before the working
// directory is destroyed. Returns "" when the subtree does not exist.
func (r *runner) extractPreservedState(ctx context.Context, scratch string) (string, error) {
	source := filepath.Join(r.cfg.PanelRoot, r.cfg.PreservedSubtree)
	if !fsutil.Exists(source) {
		logger.InfoKV(ctx, "No settings subtree to preserve", "path", source)
		return "", nil
	}

	preserved := filepath.Join(scratch, preservedDirName)

	logger.InfoKV(ctx, "Preserving settings subtree", "path", source)

	if err := fsutil.CopyTree(source, preserved); err != nil {
		return "", fmt.Errorf("%w: preserve settings subtree: %w", update.ErrFilesystem, err)
	}

	return preserved, nil
}

// swapPanelTree deletes the working directory and moves the payload in.
// The highest-risk step: between the delete and the move the appliance has
// no panel tree at all.
func (r *runner) swapPanelTree(ctx context.Context, payload string) error {
	logger.InfoKV(ctx, "Replacing panel tree", "path", r.cfg.PanelRoot)

	if err := os.RemoveAll(r.cfg.PanelRoot); err != nil {
		return fmt.Errorf("%w: delete panel tree: %w", update.ErrFilesystem, err)
	}

	if err := fsutil.Move(payload, r.cfg.PanelRoot); err != nil {
		return fmt.Errorf("%w: move payload into place: %w", update.ErrFilesystem, err)
	}

	return nil
}

// restorePreservedState moves the preserved subtree into the new tree,
// replacing the payload's own copy if it shipped one.
func (r *runner) restorePreservedState(ctx context.Context, preserved string) error {
	if preserved == "" {
		return nil
	}

	target := filepath.Join(r.cfg.PanelRoot, r.cfg.PreservedSubtree)

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("%w: drop shipped settings subtree: %w", update.ErrFilesystem, err)
	}

	logger.InfoKV(ctx, "Restoring preserved settings subtree", "path", target)

	if err := fsutil.Move(preserved, target); err != nil {
		return fmt.Errorf("%w: restore settings subtree: %w", update.ErrFilesystem, err)
	}

	return nil
}

// commitVersion writes the new version record and verifies it landed exactly.
func (r *runner) commitVersion(ctx context.Context, entry update.PlanEntry) error {
	if err := r.repo.Write(ctx, entry.Subsystem, entry.Target, displayValue(entry.Target)); err != nil {
		return fmt.Errorf("commit version %s: %w", entry.Target, err)
	}

	if err := r.repo.Verify(ctx, entry.Subsystem, entry.Target); err != nil {
		return fmt.Errorf("%w: %w", update.ErrPersistenceMismatch, err)
	}

	return nil
}

// restartAfterAbort is the best-effort recovery to the pre-update running
// state after an aborted pipeline. Its own failure is only logged: the abort
// error already in flight carries the real cause.
func (r *runner) restartAfterAbort(ctx context.Context) {
	if err := r.services.Start(ctx, r.cfg.ServiceName); err != nil {
		logger.ErrorKV(ctx, "Failed to restart service after aborted update",
			"service", r.cfg.ServiceName, "error", err)
	}
}
