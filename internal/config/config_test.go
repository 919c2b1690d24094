package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"shipit/internal/config"

	"github.com/stretchr/testify/require"
)

func TestDefaultsWhenUnset(t *testing.T) {
	c, err := config.NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.Equal(t, 3, c.GetRetryCap())
	require.Equal(t, 30*time.Second, c.GetRelaunchGracePeriod())
	require.Equal(t, 0, c.GetBandwidthCeiling())
	require.Equal(t, "ShipIt", c.GetUserAgent())
	require.Equal(t, 0, c.GetStatusAPIPort())
}

func TestSettingsPersistAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c, err := config.NewConfigManager(path)
	require.NoError(t, err)

	require.NoError(t, c.SetRetryCap(5))
	require.NoError(t, c.SetBandwidthCeiling(1024))
	require.NoError(t, c.SetUserAgent("custom-agent/1.0"))

	reloaded, err := config.NewConfigManager(path)
	require.NoError(t, err)
	require.Equal(t, 5, reloaded.GetRetryCap())
	require.Equal(t, 1024, reloaded.GetBandwidthCeiling())
	require.Equal(t, "custom-agent/1.0", reloaded.GetUserAgent())
}

func TestFactoryResetRestoresDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c, err := config.NewConfigManager(path)
	require.NoError(t, err)

	require.NoError(t, c.SetRetryCap(7))
	require.NoError(t, c.FactoryReset())
	require.Equal(t, 3, c.GetRetryCap())
}
