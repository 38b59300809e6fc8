package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToWarn(t *testing.T) {
	l, err := New(Config{Quiet: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}

func TestNew_InvalidLevelFallsBack(t *testing.T) {
	l, err := New(Config{Level: "loud", Quiet: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "devmemory.log")

	l, err := New(Config{Level: "info", File: path, Quiet: true})
	require.NoError(t, err)

	l.Info().Str("sha", "abc123").Msg("synced")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sha":"abc123"`)
	assert.Contains(t, string(data), `"message":"synced"`)
}
