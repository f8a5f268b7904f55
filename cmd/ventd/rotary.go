package main

import (
	"sync"
	"time"

	"ventcore/internal/protocol"
)

// RotaryConfig tunes the local knob.
type RotaryConfig struct {
	// Fast spinning: VelocityThreshold detents in the same direction within
	// VelocityWindowMS multiply each detent by VelocityMultiplier.
	VelocityWindowMS   int
	VelocityThreshold  int
	VelocityMultiplier float64

	// ButtonCode is the EV_KEY code of the knob's push button.
	ButtonCode uint16
}

// rotaryState tracks recent encoder activity for velocity detection.
// This allows us to detect "fast spinning" and scale the step size accordingly.
//
// Thread-safe: multiple input device goroutines may call addStep() concurrently.
type rotaryState struct {
	recentSteps []rotaryStep
	mu          sync.Mutex
}

// rotaryStep records a single encoder detent/step
type rotaryStep struct {
	timestamp time.Time
	direction int // +1 clockwise, -1 counter-clockwise
}

func newRotaryState() *rotaryState {
	return &rotaryState{
		recentSteps: make([]rotaryStep, 0, 16),
	}
}

// addStep records a new encoder step at now and returns the count of recent
// steps in the same direction within windowMS.
func (r *rotaryState) addStep(direction int, windowMS int, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-time.Duration(windowMS) * time.Millisecond)

	// Remove old steps outside the velocity window
	filtered := r.recentSteps[:0]
	for _, s := range r.recentSteps {
		if s.timestamp.After(cutoff) {
			filtered = append(filtered, s)
		}
	}

	filtered = append(filtered, rotaryStep{
		timestamp: now,
		direction: direction,
	})
	r.recentSteps = filtered

	sameDir := 0
	for _, s := range filtered {
		if s.direction == direction {
			sameDir++
		}
	}

	return sameDir
}

// knob turns raw relative detents and button edges into the absolute
// RotaryEncoder message the device itself would publish. Times in the message
// are seconds since the knob was created.
type knob struct {
	cfg    RotaryConfig
	rotary *rotaryState
	start  time.Time

	mu    sync.Mutex
	state protocol.RotaryEncoder
}

func newKnob(cfg RotaryConfig, start time.Time) *knob {
	return &knob{
		cfg:    cfg,
		rotary: newRotaryState(),
		start:  start,
	}
}

func (k *knob) since(now time.Time) float32 {
	return float32(now.Sub(k.start).Seconds())
}

// turn applies delta detents and returns the new encoder state.
func (k *knob) turn(delta int32, now time.Time) protocol.RotaryEncoder {
	k.mu.Lock()
	defer k.mu.Unlock()

	if delta == 0 {
		return k.state
	}

	direction := 1
	if delta < 0 {
		direction = -1
	}

	steps := delta
	count := k.rotary.addStep(direction, k.cfg.VelocityWindowMS, now)
	if k.cfg.VelocityThreshold > 0 && count >= k.cfg.VelocityThreshold && k.cfg.VelocityMultiplier > 1 {
		steps = int32(float64(delta) * k.cfg.VelocityMultiplier)
	}

	k.state.Step += steps
	k.state.LastStepChange = k.since(now)
	return k.state
}

// press records a button edge. ok is false when the state did not change
// (key repeat, or a release without a press).
func (k *knob) press(pressed bool, now time.Time) (protocol.RotaryEncoder, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state.ButtonPressed == pressed {
		return k.state, false
	}
	k.state.ButtonPressed = pressed
	if pressed {
		k.state.LastButtonDown = k.since(now)
	} else {
		k.state.LastButtonUp = k.since(now)
	}
	return k.state, true
}
