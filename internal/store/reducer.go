package store

import (
	"slices"
	"time"

	"ventcore/internal/protocol"
	"ventcore/internal/smoothing"
	"ventcore/internal/waveform"
)

// This file implements the reducer:
//
//   - Events: inputs (device messages, operator commits, transport state, ticks)
//   - Commands: side effects requested by the reducer
//   - Broadcasts: notifications for UI clients
//   - Reduce(): computes the next state without performing I/O
//
// The daemon loop owns the State, executes Commands and forwards Broadcasts.

// Config holds the tuning of the derived slices.
type Config struct {
	Waveform  waveform.Config
	Smoothing smoothing.Config
	// StaleAfter is how long without any device message before the
	// connection is reported lost.
	StaleAfter time.Duration
	// PVLoopMaxPoints caps the PV loop of one breath. 0 means unbounded.
	PVLoopMaxPoints int
}

func DefaultConfig() Config {
	return Config{
		Waveform:        waveform.DefaultConfig(),
		Smoothing:       smoothing.DefaultConfig(),
		StaleAfter:      3 * time.Second,
		PVLoopMaxPoints: 2000,
	}
}

// ReduceResult is the output of Reduce(): next state plus side effects and
// notifications.
type ReduceResult struct {
	State      *State
	Commands   []Command
	Broadcasts []Broadcast
}

// Reduce applies one event.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Mutates only s (the single owner's state), which it also returns
func Reduce(s *State, e Event, cfg Config) ReduceResult {
	if s == nil {
		s = NewState()
	}

	var at time.Time
	if te, ok := e.(TimedEvent); ok {
		e, at = te.Event, te.At
	}
	if at.IsZero() {
		at = time.Now()
	}

	rr := ReduceResult{State: s}

	switch ev := e.(type) {
	case StateUpdate:
		reduceMessage(s, ev.Message, !ev.Local, at, cfg, &rr)

	case CommitParameters:
		s.ParametersRequest.Committed = ev.Request
		s.ParametersRequest.Edited = true
		s.touch()

	case CommitStandbyParameters:
		s.ParametersRequest.Standby = ev.Request
		s.ParametersRequest.Edited = true
		s.touch()

	case ApplyStandbyParameters:
		s.ParametersRequest.Committed = s.ParametersRequest.Standby
		s.ParametersRequest.Edited = true
		s.touch()

	case CommitAlarmLimits:
		s.AlarmLimitsRequest.Committed = ev.Request
		s.AlarmLimitsRequest.Edited = true
		s.touch()

	case CommitStandbyAlarmLimits:
		s.AlarmLimitsRequest.Standby = ev.Request
		s.AlarmLimitsRequest.Edited = true
		s.touch()

	case ApplyStandbyAlarmLimits:
		s.AlarmLimitsRequest.Committed = s.AlarmLimitsRequest.Standby
		s.AlarmLimitsRequest.Edited = true
		s.touch()

	case CommitSystemSettings:
		next := s.SystemSettings
		if ev.DisplayBrightness != 0 {
			next.DisplayBrightness = ev.DisplayBrightness
		}
		if ev.Date != 0 {
			next.Date = ev.Date
		}
		next.SeqNum++
		s.SystemSettings = next
		s.touch()

	case CommitDisplaySetting:
		s.Display = ev.Setting
		s.touch()

	case ConnectionObserved:
		prev := s.Connection
		c := &s.Connection
		c.State = ev.State
		c.Session = ev.Session
		c.LastError = ""
		if ev.Err != nil {
			c.LastError = ev.Err.Error()
		}
		if ev.Open != prev.Connected {
			c.Connected = ev.Open
			c.Since = at
		}
		c.Lost = connectionLost(*c, at, cfg.StaleAfter)
		s.touch()
		if c.Connected != prev.Connected || c.Lost != prev.Lost {
			rr.Broadcasts = append(rr.Broadcasts, BroadcastConnectionChanged{Connection: *c, At: at})
		}

	case Tick:
		now := ev.Now
		if now.IsZero() {
			now = at
		}
		if lost := connectionLost(s.Connection, now, cfg.StaleAfter); lost != s.Connection.Lost {
			s.Connection.Lost = lost
			s.touch()
			rr.Broadcasts = append(rr.Broadcasts, BroadcastConnectionChanged{Connection: s.Connection, At: now})
		}
		if s.dirty {
			s.dirty = false
			rr.Broadcasts = append(rr.Broadcasts, BroadcastSnapshot{Version: s.Version, At: now})
		}

	case RequestStateSnapshot:
		if ev.Reply != nil {
			rr.Commands = append(rr.Commands, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: BuildSnapshot(s)})
		}

	default:
		// Unknown event type: no-op.
	}

	return rr
}

// connectionLost reports whether the device has gone quiet. A fresh
// connection counts as traffic.
func connectionLost(c Connection, now time.Time, staleAfter time.Duration) bool {
	if !c.Connected {
		return true
	}
	last := c.LastMessageAt
	if c.Since.After(last) {
		last = c.Since
	}
	return staleAfter > 0 && now.Sub(last) > staleAfter
}

func reduceMessage(s *State, m protocol.Message, fromDevice bool, at time.Time, cfg Config, rr *ReduceResult) {
	if m == nil {
		return
	}

	if fromDevice {
		s.Connection.LastMessageAt = at
		if s.Connection.Lost && s.Connection.Connected {
			s.Connection.Lost = false
			rr.Broadcasts = append(rr.Broadcasts, BroadcastConnectionChanged{Connection: s.Connection, At: at})
		}
	}

	switch m := m.(type) {
	case protocol.SensorMeasurements:
		s.Sensor.set(m, at)
		t := int64(m.Time)
		s.waveforms[ChannelPaw].Apply(t, m.Paw, cfg.Waveform)
		s.waveforms[ChannelFlow].Apply(t, m.Flow, cfg.Waveform)
		s.waveforms[ChannelVolume].Apply(t, m.Volume, cfg.Waveform)

		s.PVLoop.Apply(m.Cycle, m.Paw, m.Volume)
		if limit := cfg.PVLoopMaxPoints; limit > 0 && len(s.PVLoop.Loop) > limit {
			s.PVLoop.Loop = s.PVLoop.Loop[len(s.PVLoop.Loop)-limit:]
		}

		s.Smoothed.FiO2.Apply(t, m.FiO2, cfg.Smoothing)
		s.Smoothed.SpO2.Apply(t, m.SpO2, cfg.Smoothing)
		s.Smoothed.HR.Apply(t, m.HR, cfg.Smoothing)

	case protocol.CycleMeasurements:
		s.Cycle.set(m, at)

	case protocol.Parameters:
		s.Parameters.set(m, at)
		s.ParametersRequest.seed(protocol.ParametersRequest{ParameterValues: m.ParameterValues})

	case protocol.AlarmLimits:
		s.AlarmLimits.set(m, at)
		s.AlarmLimitsRequest.seed(protocol.AlarmLimitsRequest{AlarmRanges: m.AlarmRanges})

	case protocol.NextLogEvents:
		reset := m.SessionID != s.Log.SessionID && len(s.Log.Events) > 0
		added := s.Log.Apply(m)
		meta := m
		meta.Elements = nil
		s.LogBatch.set(meta, at)
		if len(added) > 0 || reset {
			rr.Broadcasts = append(rr.Broadcasts, BroadcastLogEvents{
				Events:       slices.Clone(added),
				NextExpected: s.Log.NextExpected,
				Reset:        reset,
				At:           at,
			})
		}

	case protocol.ActiveLogEvents:
		s.Log.SetActive(m.IDs)

	case protocol.RotaryEncoder:
		var diff int32
		if s.Rotary.Known {
			diff = m.Step - s.Rotary.Encoder.Step
		}
		s.Rotary = RotaryState{Encoder: m, StepDiff: diff, Known: true, At: at}

	case protocol.SystemSettingRequest:
		if m.SeqNum >= s.SystemSettings.SeqNum {
			s.SystemSettings = m
		}

	case protocol.FrontendDisplaySetting:
		s.Display = m

	default:
		// Echoes of outbound request kinds only count as liveness.
	}

	s.touch()
}
