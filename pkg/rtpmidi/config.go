package rtpmidi

import "github.com/sirupsen/logrus"

// MaxSessionNameLen is the session-name wire limit: 63 ASCII bytes plus
// a terminating NUL.
const MaxSessionNameLen = 64

// DefaultSysExInSize is used when EndpointConfig.SysExInSize is zero.
const DefaultSysExInSize = 1024

// DefaultSysExOutFragmentSize is the recommended maxFragment to pass to
// FragmentSysEx when chunking an outbound SysEx message.
const DefaultSysExOutFragmentSize = 512

// EndpointConfig configures a new Endpoint. Zero-valued fields take the
// package defaults.
type EndpointConfig struct {
	// SessionName is echoed in outgoing IN/OK/NO packets when non-empty.
	// Truncated to MaxSessionNameLen-1 bytes.
	SessionName string

	// SysExInSize is the capacity of the inbound SysEx reassembly buffer.
	// Messages longer than this are truncated (still delivered at 0xF7)
	// and counted by the Metrics sysex-overflow counter.
	SysExInSize uint32

	// SysExOutFragmentSize bounds one outbound SysEx fragment.
	SysExOutFragmentSize uint32

	// Logger receives structured diagnostics. When nil, a new logrus
	// logger at Warn level (writing to stderr) is used.
	Logger *logrus.Logger

	// Metrics receives counters/gauges for this endpoint. A disabled
	// collector is used when nil.
	Metrics *Metrics
}

// DefaultEndpointConfig returns the package defaults.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		SysExInSize:          DefaultSysExInSize,
		SysExOutFragmentSize: DefaultSysExOutFragmentSize,
	}
}

func (c EndpointConfig) normalize() EndpointConfig {
	if c.SysExInSize == 0 {
		c.SysExInSize = DefaultSysExInSize
	}
	if c.SysExOutFragmentSize == 0 {
		c.SysExOutFragmentSize = DefaultSysExOutFragmentSize
	}
	if len(c.SessionName) > MaxSessionNameLen-1 {
		c.SessionName = c.SessionName[:MaxSessionNameLen-1]
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
		c.Logger.SetLevel(logrus.WarnLevel)
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(MetricsConfig{Enabled: false})
	}
	return c
}
