package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/oshokin/panel-updater/internal/config"
	"github.com/oshokin/panel-updater/internal/domain/update"
	"github.com/oshokin/panel-updater/internal/fsutil"
	"github.com/oshokin/panel-updater/internal/lock"
	"github.com/oshokin/panel-updater/internal/logger"
	"github.com/oshokin/panel-updater/internal/remote"
	"github.com/oshokin/panel-updater/internal/repository/versions"
	"github.com/oshokin/panel-updater/internal/sysmgr"
)

// Options are inputs accepted by the orchestrator entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// AssumeYes applies the plan without asking, even on a terminal.
	AssumeYes bool
}

// runner holds the collaborators and mutable state of a single pass.
// It is intentionally unexported; call Run(ctx, Options) from callers.
type runner struct {
	cfg       *config.Config // Orchestrator settings loaded from YAML.
	repo      versions.Repository
	source    VersionSource
	fetcher   PayloadFetcher
	services  sysmgr.Manager
	runLock   *lock.Lock
	assumeYes bool
	stdin     io.Reader // Operator input; overridden in tests.
	stdout    io.Writer // Operator output; overridden in tests.
	// interactive reports whether an operator is attached.
	interactive func() bool
	// scratch accumulates temp directories removed at the end of the pass.
	scratch []string
}

// Run executes one orchestration pass and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "panel-updater")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if cfg.LogFile != "" {
		ctx = logger.ToContext(ctx,
			logger.NewWithFile(nil, cfg.LogFile).Named("panel-updater"))
	}

	repo, err := versions.NewSQLiteRepository(cfg.DatabaseFile)
	if err != nil {
		return err
	}

	defer func() {
		_ = repo.Close()
	}()

	r := &runner{
		cfg:       cfg,
		repo:      repo,
		source:    remote.NewVersionSource(),
		fetcher:   remote.NewGitFetcher(),
		services:  sysmgr.NewHostManager(),
		runLock:   lock.New(cfg.LockFile, cfg.LockMaxAge),
		assumeYes: opts.AssumeYes,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd())
		},
	}

	if err = r.run(ctx); err != nil {
		// Not a failure: a concurrent pass owns the appliance right now.
		if errors.Is(err, update.ErrLockHeld) {
			logger.Info(ctx, "Another update pass is active, exiting")
			return nil
		}

		logger.ErrorKV(ctx, "Update pass failed", "error", err)

		return err
	}

	return nil
}

// run drives one pass: lock, resolve, confirm, update, release.
func (r *runner) run(ctx context.Context) error {
	acquired, err := r.runLock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}

	if !acquired {
		return fmt.Errorf("%s: %w", r.cfg.LockFile, update.ErrLockHeld)
	}

	defer r.runLock.Release(ctx)
	defer r.cleanup(ctx)

	r.maybeSelfUpdate(ctx)

	plan, err := r.buildPlan(ctx)
	if err != nil {
		return err
	}

	if plan.IsEmpty() {
		logger.Info(ctx, "All subsystems are up to date")
		return r.ensurePanelRunning(ctx)
	}

	confirmed, err := r.confirmPlan(ctx, plan)
	if err != nil {
		return err
	}

	if !confirmed {
		logger.Info(ctx, "Update plan declined by operator, nothing changed")
		return nil
	}

	if entry := plan.Entry(update.SubsystemPanel); entry != nil {
		outcome, pipelineErr := r.runPrimaryPipeline(ctx, *entry)

		logger.InfoKV(ctx, "Primary pipeline finished", "outcome", outcome.String())

		// Primary failures abort the pass: the appliance's health comes
		// before auxiliary refreshes (a degraded outcome included, since
		// the panel is not running).
		if pipelineErr != nil {
			return pipelineErr
		}
	} else if err = r.ensurePanelRunning(ctx); err != nil {
		return err
	}

	return r.runAuxiliaryPipelines(ctx, plan)
}

// buildPlan resolves current and remote versions for all subsystems.
// Primary resolution failures are fatal; auxiliary ones only exclude the
// subsystem from the plan.
func (r *runner) buildPlan(ctx context.Context) (*update.Plan, error) {
	plan := new(update.Plan)

	current, err := r.repo.Read(ctx, update.SubsystemPanel)
	if err != nil {
		return nil, fmt.Errorf("%w: read panel version: %w", update.ErrVersionUnreadable, err)
	}

	target, err := r.source.Fetch(ctx, r.cfg.Panel.VersionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch panel version: %w", update.ErrVersionUnreadable, err)
	}

	newer, err := update.IsNewer(target, current)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", update.ErrVersionUnreadable, err)
	}

	logger.InfoKV(ctx, "Resolved panel versions", "current", current, "remote", target)

	if newer {
		plan.Add(update.PlanEntry{Subsystem: update.SubsystemPanel, Current: current, Target: target})
	}

	for _, subsystem := range update.AuxiliaryOrder() {
		r.planAuxiliary(ctx, plan, subsystem)
	}

	return plan, nil
}

// planAuxiliary resolves one auxiliary subsystem into the plan.
// Absence of a version record means "not installed" and is skipped silently;
// resolution failures are warnings that exclude the subsystem from this pass.
func (r *runner) planAuxiliary(ctx context.Context, plan *update.Plan, subsystem update.Subsystem) {
	aux := r.cfg.AuxiliaryFor(subsystem)
	if aux == nil {
		return
	}

	current, err := r.repo.Read(ctx, subsystem)
	if err != nil {
		if errors.Is(err, versions.ErrNotFound) {
			logger.DebugKV(ctx, "Subsystem not provisioned, skipping",
				"subsystem", subsystem.DisplayName())
			return
		}

		logger.WarnKV(ctx, "Cannot read subsystem version, skipping",
			"subsystem", subsystem.DisplayName(), "error", err)

		return
	}

	target, err := r.source.Fetch(ctx, aux.Remote.VersionURL)
	if err != nil {
		logger.WarnKV(ctx, "Cannot fetch remote version, skipping",
			"subsystem", subsystem.DisplayName(), "error", err)
		return
	}

	newer, err := update.IsNewer(target, current)
	if err != nil {
		logger.WarnKV(ctx, "Cannot compare versions, skipping",
			"subsystem", subsystem.DisplayName(), "error", err)
		return
	}

	logger.InfoKV(ctx, "Resolved subsystem versions",
		"subsystem", subsystem.DisplayName(), "current", current, "remote", target)

	if newer {
		plan.Add(update.PlanEntry{Subsystem: subsystem, Current: current, Target: target})
	}
}

// confirmPlan asks an attached operator for explicit approval before any
// mutation. Unattended runs proceed automatically.
func (r *runner) confirmPlan(ctx context.Context, plan *update.Plan) (bool, error) {
	if r.assumeYes || !r.interactive() {
		return true, nil
	}

	fmt.Fprintf(r.stdout, "The following subsystems will be updated:\n%s\n", plan)
	fmt.Fprint(r.stdout, "Apply these updates? [y/N]: ")

	answer, err := bufio.NewReader(r.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	accepted := answer == "y" || answer == "yes"
	if !accepted {
		logger.InfoKV(ctx, "Operator declined the plan", "answer", answer)
	}

	return accepted, nil
}

// ensurePanelRunning self-heals the primary service: if it is not active for
// any reason, start it.
func (r *runner) ensurePanelRunning(ctx context.Context) error {
	active, err := r.services.IsActive(ctx, r.cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("%w: %w", update.ErrServiceControl, err)
	}

	if active {
		return nil
	}

	logger.InfoKV(ctx, "Primary service is not active, starting it",
		"service", r.cfg.ServiceName)

	if err = r.services.Start(ctx, r.cfg.ServiceName); err != nil {
		return fmt.Errorf("%w: %w", update.ErrServiceControl, err)
	}

	return nil
}

// rememberScratch registers a temp directory for end-of-pass removal.
func (r *runner) rememberScratch(path string) {
	r.scratch = append(r.scratch, path)
}

// cleanup removes scratch directories. Backup snapshots are deliberately
// retained: they are the sole recovery path after a failed replacement.
func (r *runner) cleanup(ctx context.Context) {
	for _, dir := range r.scratch {
		if fsutil.Exists(dir) {
			if err := os.RemoveAll(dir); err != nil {
				logger.WarnKV(ctx, "Failed to remove scratch directory",
					"path", dir, "error", err)
			}
		}
	}

	r.scratch = nil
}
