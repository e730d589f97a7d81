package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := NewEmptyConfig(path)
	cfg.Node.PeerID = "alice"
	cfg.Radio.AdvertiseEvery = Duration{1500 * time.Millisecond}
	require.NoError(t, cfg.Save())

	loaded, err := NewConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Node.PeerID)
	assert.Equal(t, 1500*time.Millisecond, loaded.Radio.AdvertiseEvery.Duration)
	assert.Equal(t, "239.118.2.31:42424", loaded.Radio.Group)
	assert.True(t, loaded.Radio.EmbedIdentity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewEmptyConfig("unused")
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnicastGroup(t *testing.T) {
	cfg := NewEmptyConfig("unused")
	cfg.Radio.Group = "127.0.0.1:9"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSlowSweep(t *testing.T) {
	cfg := NewEmptyConfig("unused")
	cfg.Discovery.SweepEvery = Duration{10 * time.Second}
	require.Error(t, cfg.Validate(), "sweeping slower than the stale threshold must not pass")
}

func TestValidateRejectsBadPeerID(t *testing.T) {
	cfg := NewEmptyConfig("unused")
	cfg.Node.PeerID = "nul\x00byte"
	require.Error(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"radio":{"advertise_every":"soon"}}`), 0644))

	_, err := NewConfigFromFile(path)
	require.Error(t, err)
}
