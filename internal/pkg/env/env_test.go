package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupEnvFile(t *testing.T) {
	t.Cleanup(func() { Env = nil })
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.ErrorIs(t, SetupEnvFile(), ErrNoEnvFile)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_ENV=dev\nDB_NAME=market\n"), 0o600))
	require.NoError(t, SetupEnvFile())
	assert.Equal(t, map[string]string{"APP_ENV": "dev", "DB_NAME": "market"}, Env)
}
