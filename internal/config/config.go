// Package config holds the few operator-tunable knobs the installer
// exposes: the phase retry cap, the relaunch grace period (the daemon
// waits up to four times this value for the target application to
// quit before proceeding without confirmation), and an optional download
// bandwidth ceiling. Everything else about the Request is fixed per
// install and lives in the model package instead.
package config

import (
	"strconv"
	"time"

	"shipit/internal/record"
)

const (
	KeyRetryCap            = "retry_cap"
	KeyRelaunchGracePeriod = "relaunch_grace_period_seconds"
	KeyBandwidthCeiling    = "bandwidth_ceiling_bytes_per_sec"
	KeyUserAgent           = "user_agent"
	KeyStatusAPIPort       = "status_api_port"
)

const configVersion = 1

const (
	defaultRetryCap            = 3
	defaultRelaunchGracePeriod = 30 * time.Second
	defaultUserAgent           = "ShipIt"
	defaultStatusAPIPort       = 0 // 0 disables the status endpoint
)

// ConfigManager reads and writes the daemon's tunables, falling back
// to fixed defaults for anything unset, backed by a durable record
// file rather than a database table.
type ConfigManager struct {
	path   string
	values map[string]string
}

// NewConfigManager loads persisted settings from path, tolerating a
// missing file (first run).
func NewConfigManager(path string) (*ConfigManager, error) {
	c := &ConfigManager{path: path, values: map[string]string{}}
	if record.Exists(path) {
		if err := record.Load(path, configVersion, &c.values); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ConfigManager) save() error {
	return record.Save(c.path, configVersion, c.values)
}

func (c *ConfigManager) GetRetryCap() int {
	v, ok := c.values[KeyRetryCap]
	if !ok {
		return defaultRetryCap
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultRetryCap
	}
	return n
}

func (c *ConfigManager) SetRetryCap(n int) error {
	c.values[KeyRetryCap] = strconv.Itoa(n)
	return c.save()
}

func (c *ConfigManager) GetRelaunchGracePeriod() time.Duration {
	v, ok := c.values[KeyRelaunchGracePeriod]
	if !ok {
		return defaultRelaunchGracePeriod
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRelaunchGracePeriod
	}
	return time.Duration(secs) * time.Second
}

func (c *ConfigManager) SetRelaunchGracePeriod(d time.Duration) error {
	c.values[KeyRelaunchGracePeriod] = strconv.Itoa(int(d.Seconds()))
	return c.save()
}

// GetBandwidthCeiling returns the configured download rate limit in
// bytes/sec, or 0 for unlimited.
func (c *ConfigManager) GetBandwidthCeiling() int {
	v, ok := c.values[KeyBandwidthCeiling]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (c *ConfigManager) SetBandwidthCeiling(bytesPerSec int) error {
	c.values[KeyBandwidthCeiling] = strconv.Itoa(bytesPerSec)
	return c.save()
}

func (c *ConfigManager) GetUserAgent() string {
	v, ok := c.values[KeyUserAgent]
	if !ok || v == "" {
		return defaultUserAgent
	}
	return v
}

func (c *ConfigManager) SetUserAgent(ua string) error {
	c.values[KeyUserAgent] = ua
	return c.save()
}

// GetStatusAPIPort returns the TCP port the local status endpoint
// should bind to, or 0 if it should stay disabled.
func (c *ConfigManager) GetStatusAPIPort() int {
	v, ok := c.values[KeyStatusAPIPort]
	if !ok {
		return defaultStatusAPIPort
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultStatusAPIPort
	}
	return n
}

func (c *ConfigManager) SetStatusAPIPort(port int) error {
	c.values[KeyStatusAPIPort] = strconv.Itoa(port)
	return c.save()
}

// FactoryReset clears every override, restoring defaults.
func (c *ConfigManager) FactoryReset() error {
	c.values = map[string]string{}
	return c.save()
}
