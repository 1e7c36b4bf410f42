package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/panel-updater/internal/domain/update"
)

// TestValidate checks required fields and defaulting.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing panel root.
	err := Validate(new(Config))
	require.ErrorIs(t, err, errPanelRootRequired)

	// Missing version URL.
	cfg := &Config{
		PanelRoot:    "/var/www/panel",
		DatabaseFile: "/var/www/panel/data/panel.db",
		ServiceName:  "panel",
	}
	require.Error(t, Validate(cfg))

	// Complete minimal configuration gains defaults.
	cfg.Panel = Remote{
		VersionURL: "https://updates.example.com/panel/version",
		RepoURL:    "https://github.com/example/panel.git",
	}
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultBranch, cfg.Panel.Branch)
	require.Equal(t, DefaultPreservedSubtree, cfg.PreservedSubtree)
	require.Equal(t, BackupStrict, cfg.BackupPolicy)
	require.NotEmpty(t, cfg.LockFile)
	require.Equal(t, DefaultLockMaxAge, cfg.LockMaxAge)
}

// TestValidate_Auxiliaries rejects unknown keys and missing installers.
func TestValidate_Auxiliaries(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg := Default()
		return cfg
	}

	cfg := base()
	cfg.Auxiliaries[0].Key = "mystery_version"
	require.ErrorIs(t, Validate(cfg), errUnknownSubsystemKey)

	cfg = base()
	cfg.Auxiliaries[1].Installer = ""
	require.ErrorIs(t, Validate(cfg), errInstallerRequired)

	// The primary subsystem cannot be declared auxiliary.
	cfg = base()
	cfg.Auxiliaries[0].Key = update.SubsystemPanel.String()
	require.ErrorIs(t, Validate(cfg), errUnknownSubsystemKey)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "panel-updater.yaml")
	cfg := Default()

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PanelRoot, loaded.PanelRoot)
	require.Equal(t, cfg.Panel, loaded.Panel)
	require.Len(t, loaded.Auxiliaries, 3)
	require.Equal(t, cfg.Auxiliaries[2].Key, loaded.Auxiliaries[2].Key)
}

// TestAuxiliaryFor returns the declared entry or nil.
func TestAuxiliaryFor(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NotNil(t, cfg.AuxiliaryFor(update.SubsystemRouter))
	require.Nil(t, (&Config{}).AuxiliaryFor(update.SubsystemRouter))
}
