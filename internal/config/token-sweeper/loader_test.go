package token_sweeper_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.Tick)
	assert.True(t, cfg.WantsStore("postgres"))
	assert.False(t, cfg.WantsStore("redis"))
	assert.Equal(t, "leadbook/token-sweeper", cfg.Log.App)
	assert.Equal(t, 7*24*time.Hour, cfg.Sweeper.OutboxRetention)
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "token-sweeper.yaml")
	require.NoError(t, os.WriteFile(p, []byte("sweeper:\n  tick: 30s\n  stores: [postgres, redis]\n"), 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Tick)
	assert.True(t, cfg.WantsStore("redis"))
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	p := filepath.Join(t.TempDir(), "token-sweeper.yaml")
	require.NoError(t, os.WriteFile(p, []byte("sweeper:\n  stores: [memory]\n"), 0o600))

	_, err := Load(p)
	require.ErrorIs(t, err, ErrNoStores)
}
