package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "text", cfg.Output.Format)
	assert.True(t, cfg.Output.ShowLabels)
	assert.True(t, cfg.Files.Recursive)
	assert.False(t, cfg.Lowering.CheckNames)
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadTomlFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".pycfg.toml", `
[output]
format = "dot"
show_labels = false

[lowering]
check_names = true

[files]
exclude = ["**/vendor/**"]
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "dot", cfg.Output.Format)
	assert.False(t, cfg.Output.ShowLabels)
	assert.True(t, cfg.Lowering.CheckNames)
	assert.Equal(t, []string{"**/vendor/**"}, cfg.Files.ExcludePatterns)
}

func TestLoadPyprojectTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", `
[tool.other]
ignored = true

[tool.pycfg.output]
format = "yaml"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "yaml", cfg.Output.Format)
}

func TestLoadPyprojectWithoutTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", "[tool.other]\nx = 1\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWalksUp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".pycfg.toml", "[output]\nformat = \"dot\"\n")
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, "dot", cfg.Output.Format)
}

func TestLoadInvalidToml(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".pycfg.toml", "not [valid\n")

	_, err := Load(dir)
	assert.Error(t, err)
}
