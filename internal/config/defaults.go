package config

// DefaultAddr is the default listen address for the agent HTTP API.
const DefaultAddr = "127.0.0.1:8081"

// Defaults for timing and capacity values that have them.
const (
	DefaultHeartbeatSeconds    = 10
	DefaultSweepMs             = 1000
	DefaultRequestCap          = 64
	DefaultIdleRevertSeconds   = 3
	DefaultSubmitRatePerSecond = 10
)

// DefaultSource is the source ambient voice requests are attributed to.
const DefaultSource = "ambient"

// ApplyDefaults fills zero-valued fields with their documented defaults.
// Called after file and flag merging so explicit values always win.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.SweepMs == 0 {
		c.SweepMs = DefaultSweepMs
	}
	if c.RequestCap == 0 {
		c.RequestCap = DefaultRequestCap
	}
	if c.DefaultSource == "" {
		c.DefaultSource = DefaultSource
	}
	if c.IdleRevertSeconds == 0 {
		c.IdleRevertSeconds = DefaultIdleRevertSeconds
	}
	if c.SubmitRatePerSecond == 0 {
		c.SubmitRatePerSecond = DefaultSubmitRatePerSecond
	}
}
