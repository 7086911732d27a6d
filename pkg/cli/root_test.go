package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/platinummonkey/zerometa/pkg/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and a private layers directory
func runCLI(t *testing.T, layersDir string, args ...string) (string, error) {
	t.Helper()

	for _, k := range []string{"ZEROMETA_LAYERS_DIR", "ZEROMETA_SANDBOX_ROOT", "ZEROMETA_POLICY_FILE",
		"ZEROMETA_AUDIT_LOG", "ZEROMETA_ENFORCE_LIMITS", "ZEROMETA_LOG_LEVEL", "ZEROMETA_METRICS_ADDR",
		"ZEROMETA_DISCOVERY_WORKERS", "ZEROMETA_WATCH_DELAY"} {
		t.Setenv(k, "")
	}

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--layers-dir", layersDir, "--log-level", "error"}, args...))

	err := cmd.Execute()
	return stdout.String(), err
}

func writeLayerSource(t *testing.T, id string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, layers.SaveManifest(&layers.Layer{
		ID:          id,
		Name:        "Echo",
		Description: "d",
		Version:     "1.0.0",
	}, dir))
	return dir
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "zerometa", root.Use)

	expected := []string{"list", "install", "uninstall", "enable", "disable", "load", "exec", "watch"}
	for _, name := range expected {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, "Expected subcommand %s to be registered", name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.Len(t, root.Commands(), len(expected))

	for _, flag := range []string{"layers-dir", "sandbox-root", "policy", "audit-log", "enforce-limits", "log-level", "metrics-addr"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestList_Empty(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No layers installed")
}

func TestInstallListUninstall(t *testing.T) {
	layersDir := t.TempDir()
	source := writeLayerSource(t, "echo")

	out, err := runCLI(t, layersDir, "install", source)
	require.NoError(t, err)
	assert.Contains(t, out, "Installed echo v1.0.0")

	out, err = runCLI(t, layersDir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "1.0.0")
	assert.Contains(t, out, "Total: 1 layers (0 enabled)")

	out, err = runCLI(t, layersDir, "list", "--json")
	require.NoError(t, err)
	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "echo", listed[0]["id"])
	assert.Equal(t, filepath.Join(layersDir, "echo"), listed[0]["path"])

	_, err = runCLI(t, layersDir, "install", source)
	assert.ErrorIs(t, err, layers.ErrAlreadyExists)

	_, err = runCLI(t, layersDir, "install", "--overwrite", source)
	assert.NoError(t, err)

	out, err = runCLI(t, layersDir, "uninstall", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "Uninstalled echo")

	_, err = runCLI(t, layersDir, "uninstall", "echo")
	assert.ErrorIs(t, err, layers.ErrNotFound)
}

func TestEnableDisable_Persists(t *testing.T) {
	layersDir := t.TempDir()
	_, err := runCLI(t, layersDir, "install", writeLayerSource(t, "echo"))
	require.NoError(t, err)

	out, err := runCLI(t, layersDir, "enable", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "Layer echo enabled")

	layer, err := layers.LoadManifestFromDir(filepath.Join(layersDir, "echo"))
	require.NoError(t, err)
	assert.True(t, layer.Enabled)
	assert.Equal(t, "Echo", layer.Name)

	_, err = runCLI(t, layersDir, "disable", "echo")
	require.NoError(t, err)

	layer, err = layers.LoadManifestFromDir(filepath.Join(layersDir, "echo"))
	require.NoError(t, err)
	assert.False(t, layer.Enabled)

	_, err = runCLI(t, layersDir, "enable", "missing")
	assert.ErrorIs(t, err, layers.ErrNotFound)
}

func TestLoad_LayerWithoutNativeCode(t *testing.T) {
	layersDir := t.TempDir()
	_, err := runCLI(t, layersDir, "install", writeLayerSource(t, "echo"))
	require.NoError(t, err)

	out, err := runCLI(t, layersDir, "load", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded echo (initialized): no native code")

	_, err = runCLI(t, layersDir, "load")
	assert.Error(t, err)

	_, err = runCLI(t, layersDir, "load", "missing")
	assert.ErrorIs(t, err, layers.ErrNotFound)
}

func TestExec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX echo")
	}

	layersDir := t.TempDir()
	_, err := runCLI(t, layersDir, "install", writeLayerSource(t, "echo"))
	require.NoError(t, err)

	sandboxRoot := t.TempDir()
	out, err := runCLI(t, layersDir, "--sandbox-root", sandboxRoot, "exec", "echo", "--", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = runCLI(t, layersDir, "--sandbox-root", sandboxRoot, "exec", "echo", "--", "echo", "/etc/passwd")
	assert.ErrorIs(t, err, layers.ErrPermissionDenied)
}

func TestExec_PolicyAndAudit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX echo")
	}

	layersDir := t.TempDir()
	_, err := runCLI(t, layersDir, "install", writeLayerSource(t, "echo"))
	require.NoError(t, err)

	allowed := t.TempDir()
	policyFile := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte("layers:\n  echo:\n    allowed_paths:\n      - "+allowed+"\n"), 0644))
	auditLog := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	out, err := runCLI(t, layersDir, "--sandbox-root", t.TempDir(), "--policy", policyFile, "--audit-log", auditLog,
		"exec", "echo", "--", "echo", allowed+"/file")
	require.NoError(t, err)
	assert.Equal(t, allowed+"/file\n", out)

	data, err := os.ReadFile(auditLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"decision":"allow"`)
	assert.Contains(t, string(data), `"layer":"echo"`)
}

func TestExec_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX false")
	}

	layersDir := t.TempDir()
	_, err := runCLI(t, layersDir, "install", writeLayerSource(t, "echo"))
	require.NoError(t, err)

	_, err = runCLI(t, layersDir, "--sandbox-root", t.TempDir(), "exec", "echo", "--", "false")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestEnable_DocumentsManifestRewrite(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"enable", "disable"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Contains(t, cmd.Long, "Comments and\ntrailing commas in the manifest are not preserved")
	}
}
