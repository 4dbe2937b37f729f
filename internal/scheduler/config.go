package scheduler

import "time"

const (
	// DefaultOverloadWindow is how far back from a worker's latest sample
	// the sustained-overload analysis looks. It does not depend on the
	// zone's sustained duration.
	DefaultOverloadWindow = 10 * time.Minute

	// DefaultRegimeThreshold separates the scarce and abundant tie-break
	// regimes of the worker competition.
	DefaultRegimeThreshold = 0.5

	// DefaultZone is used when a request names no zone or an unknown one.
	DefaultZone = "BE"
)

// Config holds the scheduler configuration.
type Config struct {
	// OverloadWindow is the trailing window analysed for sustained overload.
	OverloadWindow time.Duration `mapstructure:"overload_window"`

	// RegimeThreshold is the bottleneck ratio below which ties are broken
	// in favour of the higher score (scarce regime).
	RegimeThreshold float64 `mapstructure:"regime_threshold"`

	// DefaultZone is the zone used for unknown or missing zone names.
	DefaultZone string `mapstructure:"default_zone"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		OverloadWindow:  DefaultOverloadWindow,
		RegimeThreshold: DefaultRegimeThreshold,
		DefaultZone:     DefaultZone,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OverloadWindow <= 0 {
		c.OverloadWindow = d.OverloadWindow
	}
	if c.RegimeThreshold <= 0 {
		c.RegimeThreshold = d.RegimeThreshold
	}
	if c.DefaultZone == "" {
		c.DefaultZone = d.DefaultZone
	}
	return c
}
