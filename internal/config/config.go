package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/panel-updater/internal/domain/update"
)

// BackupPolicy decides whether a failed backup aborts the primary pipeline.
type BackupPolicy string

const (
	// BackupStrict aborts the pipeline when the pre-update backup fails.
	BackupStrict BackupPolicy = "strict"
	// BackupBestEffort continues past a failed backup with a warning,
	// trading recoverability for update progress.
	BackupBestEffort BackupPolicy = "best-effort"
)

// Remote describes where a subsystem publishes its version and payload.
type Remote struct {
	// VersionURL is a plain-text resource holding a single version string.
	VersionURL string `yaml:"version_url"`
	// RepoURL is the upstream repository checked out for the payload.
	RepoURL string `yaml:"repo_url"`
	// Branch is the single branch fetched from the repository.
	Branch string `yaml:"branch"`
}

// Auxiliary configures one auxiliary subsystem pipeline.
type Auxiliary struct {
	// Key is the subsystem identifier, matching its version store record.
	Key string `yaml:"key"`
	// Remote holds the subsystem's upstream locations.
	Remote Remote `yaml:",inline"`
	// Installer is the program invoked from the checkout root; its exit
	// status alone decides success.
	Installer string `yaml:"installer"`
}

// Config holds all settings of the update orchestrator.
type Config struct {
	// PanelRoot is the primary subsystem's working directory.
	PanelRoot string `yaml:"panel_root"`
	// PreservedSubtree is the durable settings subtree inside PanelRoot,
	// relative to it. It must survive an update byte-identical.
	PreservedSubtree string `yaml:"preserved_subtree"`
	// DatabaseFile is the SQLite settings database holding version records.
	DatabaseFile string `yaml:"database_file"`
	// BackupDir receives timestamped snapshots of PanelRoot.
	BackupDir string `yaml:"backup_dir"`
	// LockFile is the well-known location of the run lock token.
	LockFile string `yaml:"lock_file"`
	// LockMaxAge bounds how long an orphaned lock may block new passes.
	LockMaxAge time.Duration `yaml:"lock_max_age"`
	// LogFile is the durable update journal; empty disables the file sink.
	LogFile string `yaml:"log_file"`
	// ServiceName is the primary subsystem's system service.
	ServiceName string `yaml:"service_name"`
	// RuntimeUser owns the panel tree after an update.
	RuntimeUser string `yaml:"runtime_user"`
	// BackupPolicy is strict or best-effort.
	BackupPolicy BackupPolicy `yaml:"backup_policy"`
	// Panel holds the primary subsystem's upstream locations.
	Panel Remote `yaml:"panel"`
	// Auxiliaries lists auxiliary subsystems in their update order.
	Auxiliaries []Auxiliary `yaml:"auxiliaries"`
	// SelfUpdateURL, when set, points at the folder publishing the
	// orchestrator's own binary and checksum.
	SelfUpdateURL string `yaml:"self_update_url"`
}

const (
	// DefaultConfigFilename is the default location of the settings YAML.
	DefaultConfigFilename = "/etc/panel-updater/panel-updater.yaml"

	// DefaultLockMaxAge is how old an orphaned lock may grow before a new
	// pass is allowed to clear it.
	DefaultLockMaxAge = 2 * time.Hour

	// DefaultBranch is checked out when a remote does not name one.
	DefaultBranch = "master"

	// DefaultPreservedSubtree is the settings subtree preserved across
	// panel updates.
	DefaultPreservedSubtree = "data"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errPanelRootRequired is returned when the panel working directory is missing.
	errPanelRootRequired = errors.New("panel root must be provided")
	// errDatabaseFileRequired is returned when the settings database path is missing.
	errDatabaseFileRequired = errors.New("database file must be provided")
	// errServiceNameRequired is returned when the primary service name is missing.
	errServiceNameRequired = errors.New("service name must be provided")
	// errUnknownBackupPolicy is returned for policies other than strict/best-effort.
	errUnknownBackupPolicy = errors.New("backup policy must be strict or best-effort")
	// errUnknownSubsystemKey is returned for auxiliary keys without a version record contract.
	errUnknownSubsystemKey = errors.New("unknown auxiliary subsystem key")
	// errInstallerRequired is returned when an auxiliary has no installer program.
	errInstallerRequired = errors.New("auxiliary installer must be provided")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// and fills in defaults for optional ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.PanelRoot == "" {
		return errPanelRootRequired
	}

	if cfg.DatabaseFile == "" {
		return errDatabaseFileRequired
	}

	if cfg.ServiceName == "" {
		return errServiceNameRequired
	}

	if err := validateRemote("panel", &cfg.Panel); err != nil {
		return err
	}

	for i := range cfg.Auxiliaries {
		if err := validateAuxiliary(&cfg.Auxiliaries[i]); err != nil {
			return err
		}
	}

	applyDefaults(cfg)

	switch cfg.BackupPolicy {
	case BackupStrict, BackupBestEffort:
	default:
		return fmt.Errorf("%q: %w", cfg.BackupPolicy, errUnknownBackupPolicy)
	}

	return nil
}

// validateRemote requires a well-formed version URL and a repository location.
func validateRemote(name string, remote *Remote) error {
	if remote.VersionURL == "" {
		return fmt.Errorf("%s: version URL must be provided", name)
	}

	if _, err := url.ParseRequestURI(remote.VersionURL); err != nil {
		return fmt.Errorf("%s: invalid version URL: %w", name, err)
	}

	if remote.RepoURL == "" {
		return fmt.Errorf("%s: repository URL must be provided", name)
	}

	if remote.Branch == "" {
		remote.Branch = DefaultBranch
	}

	return nil
}

// validateAuxiliary checks one auxiliary subsystem entry.
func validateAuxiliary(aux *Auxiliary) error {
	subsystem := update.Subsystem(aux.Key)

	switch subsystem {
	case update.SubsystemRouter, update.SubsystemFirewall, update.SubsystemStartup:
	case update.SubsystemPanel:
		return fmt.Errorf("%q is the primary subsystem: %w", aux.Key, errUnknownSubsystemKey)
	default:
		return fmt.Errorf("%q: %w", aux.Key, errUnknownSubsystemKey)
	}

	if aux.Installer == "" {
		return fmt.Errorf("%s: %w", aux.Key, errInstallerRequired)
	}

	return validateRemote(aux.Key, &aux.Remote)
}

// applyDefaults fills optional fields that have sensible fallbacks.
func applyDefaults(cfg *Config) {
	if cfg.PreservedSubtree == "" {
		cfg.PreservedSubtree = DefaultPreservedSubtree
	}

	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(filepath.Dir(cfg.PanelRoot), "panel-backups")
	}

	if cfg.LockFile == "" {
		cfg.LockFile = filepath.Join(os.TempDir(), "panel-updater.lock")
	}

	if cfg.LockMaxAge <= 0 {
		cfg.LockMaxAge = DefaultLockMaxAge
	}

	if cfg.BackupPolicy == "" {
		cfg.BackupPolicy = BackupStrict
	}
}

// AuxiliaryFor returns the configuration of the given auxiliary subsystem,
// or nil when the appliance does not declare it.
func (c *Config) AuxiliaryFor(subsystem update.Subsystem) *Auxiliary {
	for i := range c.Auxiliaries {
		if c.Auxiliaries[i].Key == subsystem.String() {
			return &c.Auxiliaries[i]
		}
	}

	return nil
}

// Default returns a commented starting configuration for a typical appliance.
// Used by the init-config subcommand.
func Default() *Config {
	return &Config{
		PanelRoot:        "/var/www/panel",
		PreservedSubtree: DefaultPreservedSubtree,
		DatabaseFile:     "/var/www/panel/data/panel.db",
		BackupDir:        "/var/backups/panel",
		LockFile:         "/tmp/panel-updater.lock",
		LockMaxAge:       DefaultLockMaxAge,
		LogFile:          "/var/log/panel-updater.log",
		ServiceName:      "panel",
		RuntimeUser:      "www-data",
		BackupPolicy:     BackupStrict,
		Panel: Remote{
			VersionURL: "https://updates.example.com/panel/version",
			RepoURL:    "https://github.com/example/panel.git",
			Branch:     DefaultBranch,
		},
		Auxiliaries: []Auxiliary{
			{
				Key: update.SubsystemRouter.String(),
				Remote: Remote{
					VersionURL: "https://updates.example.com/router/version",
					RepoURL:    "https://github.com/example/router.git",
					Branch:     DefaultBranch,
				},
				Installer: "./install.sh",
			},
			{
				Key: update.SubsystemFirewall.String(),
				Remote: Remote{
					VersionURL: "https://updates.example.com/firewall/version",
					RepoURL:    "https://github.com/example/firewall.git",
					Branch:     DefaultBranch,
				},
				Installer: "./install.sh",
			},
			{
				Key: update.SubsystemStartup.String(),
				Remote: Remote{
					VersionURL: "https://updates.example.com/startup/version",
					RepoURL:    "https://github.com/example/startup.git",
					Branch:     DefaultBranch,
				},
				Installer: "./install.sh",
			},
		},
	}
}
