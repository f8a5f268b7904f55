// Package smoothing turns noisy physiological readings (FiO2, SpO2, HR) into
// values that are stable enough to display.
package smoothing

import (
	"math"
	"time"
)

// Config is a set of tuning parameters, not protocol.
type Config struct {
	// Factor is the exponential smoothing weight of a new sample, in (0, 1].
	Factor float64
	// MinDelta is how far the smoothed value must move before the displayed
	// value follows it.
	MinDelta float32
	// The signal is converged once the raw value has stayed within
	// ConvergeDelta of the smoothed value for ConvergeDuration.
	ConvergeDelta    float32
	ConvergeDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Factor:           0.2,
		MinDelta:         1,
		ConvergeDelta:    0.5,
		ConvergeDuration: 2 * time.Second,
	}
}

// Filter is the smoothing state of one channel.
type Filter struct {
	Raw       float32 `json:"raw"`
	Smoothed  float32 `json:"smoothed"`
	Displayed float32 `json:"displayed"`
	Converged bool    `json:"converged"`

	started     bool
	stableSince int64
}

// Apply feeds a raw sample taken at device time t (milliseconds) and returns
// the value to display.
func (f *Filter) Apply(t int64, raw float32, cfg Config) float32 {
	f.Raw = raw
	if !f.started {
		f.started = true
		f.Smoothed = raw
		f.Displayed = raw
		f.stableSince = t
		return f.Displayed
	}

	f.Smoothed += float32(cfg.Factor) * (raw - f.Smoothed)

	if abs(raw-f.Smoothed) > cfg.ConvergeDelta || t < f.stableSince {
		f.stableSince = t
		f.Converged = false
	} else if t-f.stableSince >= cfg.ConvergeDuration.Milliseconds() {
		f.Converged = true
	}

	if abs(f.Smoothed-f.Displayed) >= cfg.MinDelta || f.Converged {
		f.Displayed = f.Smoothed
	}
	return f.Displayed
}

// Reset forgets all history; the next sample is displayed as is.
func (f *Filter) Reset() {
	*f = Filter{}
}

func abs(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
