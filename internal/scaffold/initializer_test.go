package scaffold

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/mirror/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	file, err := Initialize(dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mirror.yml"), file.Path)

	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	cfg, err := config.Load(file.Path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Empty(t, cfg.Agents, "the template uses the default council")
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "static", cfg.Sources[0].Kind)
}

func TestInitialize_Existing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.yml")
	require.NoError(t, os.WriteFile(path, []byte("instance: mine\n"), 0644))

	_, err := Initialize(dir, false)
	var exists *ErrExists
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, path, exists.Path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "instance: mine\n", string(content), "existing file is left alone")

	_, err = Initialize(dir, true)
	require.NoError(t, err)
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "instance: default")
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(filepath.Join(dir, "mirror.yml")))

	path := filepath.Join(dir, "present.yml")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.EqualError(t, CheckExisting(path), path+" already exists")
}
