package sysmgr

import (
	"context"
	"fmt"

	"github.com/kardianos/service"

	"github.com/oshokin/panel-updater/internal/logger"
)

// Manager abstracts the host's service manager for one named system service.
type Manager interface {
	// Start requests the service manager start the service.
	Start(ctx context.Context, name string) error
	// Stop requests the service manager stop the service.
	Stop(ctx context.Context, name string) error
	// IsActive reports whether the service is currently running.
	IsActive(ctx context.Context, name string) (bool, error)
}

// HostManager drives named system services (systemd, launchd, SCM) through
// the service library's control interface.
type HostManager struct{}

// noopProgram satisfies the service interface; control operations never
// run the program, they only address the named service.
type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }

// NewHostManager creates a manager for the host's init system.
func NewHostManager() *HostManager {
	return &HostManager{}
}

// handle builds a control handle for the named service.
func (m *HostManager) handle(name string) (service.Service, error) {
	//nolint:exhaustruct // Control handles need only the service name.
	svc, err := service.New(noopProgram{}, &service.Config{Name: name})
	if err != nil {
		return nil, fmt.Errorf("service handle %s: %w", name, err)
	}

	return svc, nil
}

// Start starts the named service.
func (m *HostManager) Start(ctx context.Context, name string) error {
	svc, err := m.handle(name)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Starting service", "service", name)

	if err = svc.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	return nil
}

// Stop stops the named service.
func (m *HostManager) Stop(ctx context.Context, name string) error {
	svc, err := m.handle(name)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Stopping service", "service", name)

	if err = svc.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}

	return nil
}

// IsActive reports whether the named service is running.
func (m *HostManager) IsActive(_ context.Context, name string) (bool, error) {
	svc, err := m.handle(name)
	if err != nil {
		return false, err
	}

	status, err := svc.Status()
	if err != nil {
		return false, fmt.Errorf("status %s: %w", name, err)
	}

	return status == service.StatusRunning, nil
}
