package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.NodeID)
	require.Equal(t, 100, cfg.WindowSize)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: custom-node\nwindow_size: 50\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom-node", cfg.NodeID)
	require.Equal(t, 50, cfg.WindowSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: file-node\n"), 0o644))

	t.Setenv("NODE_ID", "env-node")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-node", cfg.NodeID)
}

func TestLoad_ExpandsEnvVarsInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger_path: ${LEDGER_DIR}/ledger\n"), 0o644))

	t.Setenv("LEDGER_DIR", "/var/data")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/data/ledger", cfg.LedgerPath)
}

func TestValidate_RejectsUnsupportedAttestationScheme(t *testing.T) {
	cfg := Default()
	cfg.AttestationScheme = "rsa"
	require.Error(t, cfg.Validate())
}
