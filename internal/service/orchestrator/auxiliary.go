package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/panel-updater/internal/config"
	"github.com/oshokin/panel-updater/internal/domain/update"
	"github.com/oshokin/panel-updater/internal/logger"
)

// runAuxiliaryPipelines updates each planned auxiliary subsystem in the fixed
// order. Failures are isolated per subsystem: a broken router update never
// prevents the firewall or startup manager from being attempted. The pass is
// still reported as failed when any of them broke, so schedulers can alert.
func (r *runner) runAuxiliaryPipelines(ctx context.Context, plan *update.Plan) error {
	var failed []string

	for _, subsystem := range update.AuxiliaryOrder() {
		entry := plan.Entry(subsystem)
		if entry == nil {
			continue
		}

		aux := r.cfg.AuxiliaryFor(subsystem)
		if aux == nil {
			continue
		}

		if err := r.runAuxiliary(ctx, aux, *entry); err != nil {
			logger.WarnKV(ctx, "Auxiliary update failed, version unchanged",
				"subsystem", subsystem.DisplayName(), "error", err)

			failed = append(failed, subsystem.DisplayName())
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("auxiliary updates failed: %s", strings.Join(failed, ", "))
	}

	return nil
}

// runAuxiliary executes one fetch → install → commit sequence. The installer
// program shipped at the checkout root is judged solely by its exit status;
// on failure the subsystem stays at its old version.
func (r *runner) runAuxiliary(ctx context.Context, aux *config.Auxiliary, entry update.PlanEntry) error {
	ctx = logger.WithKV(ctx, "subsystem", entry.Subsystem.DisplayName())

	logger.InfoKV(ctx, "Updating auxiliary subsystem",
		"current", entry.Current, "target", entry.Target)

	scratch, err := newScratchDir()
	if err != nil {
		return fmt.Errorf("%w: create scratch: %w", update.ErrFilesystem, err)
	}

	r.rememberScratch(scratch)

	checkout := filepath.Join(scratch, payloadDirName)
	if err = r.fetcher.Checkout(ctx, aux.Remote.RepoURL, aux.Remote.Branch, checkout); err != nil {
		return fmt.Errorf("%w: fetch installer payload: %w", update.ErrTransport, err)
	}

	if err = r.runInstaller(ctx, aux.Installer, checkout); err != nil {
		return err
	}

	if err = r.repo.Write(ctx, entry.Subsystem, entry.Target, displayValue(entry.Target)); err != nil {
		return fmt.Errorf("commit version %s: %w", entry.Target, err)
	}

	logger.InfoKV(ctx, "Auxiliary subsystem updated", "version", entry.Target)

	return nil
}

// runInstaller invokes the subsystem's installer from the checkout root.
func (r *runner) runInstaller(ctx context.Context, installer, checkout string) error {
	logger.InfoKV(ctx, "Running installer", "installer", installer)

	cmd := exec.CommandContext(ctx, installer)
	cmd.Dir = checkout

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("installer %s: %s: %w",
			installer, strings.TrimSpace(string(output)), err)
	}

	return nil
}
