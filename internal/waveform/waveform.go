// Package waveform keeps bounded, restart-aware, segmented time buffers of
// one scalar channel (airway pressure, flow, volume) for real-time plotting.
//
// A History holds the previous sweep (Old) and the sweep currently filling
// (New). New is kept three ways: every point (Full), the same points chunked
// into segments of bounded duration (Segmented), and points not yet committed
// to a segment (BufferedPending). A sweep restarts when the window is full,
// when the device clock goes backwards, or after a gap in the signal.
package waveform

import "time"

// Point is one sample. Offset is milliseconds since the start of its sweep.
type Point struct {
	Offset int64   `json:"t"`
	Value  float32 `json:"v"`
}

// Config bounds a History. All durations are in device time.
type Config struct {
	MaxWindowDuration   time.Duration `json:"max_window_duration"`
	MaxGapDuration      time.Duration `json:"max_gap_duration"`
	MaxSegmentDuration  time.Duration `json:"max_segment_duration"`
	SegmentCommitOffset time.Duration `json:"segment_commit_offset"`
}

// DefaultConfig matches the plot width of the front panel.
func DefaultConfig() Config {
	return Config{
		MaxWindowDuration:   10 * time.Second,
		MaxGapDuration:      500 * time.Millisecond,
		MaxSegmentDuration:  2500 * time.Millisecond,
		SegmentCommitOffset: 200 * time.Millisecond,
	}
}

type OldSweep struct {
	Full []Point `json:"full"`
}

type NewSweep struct {
	Full            []Point   `json:"full"`
	Segmented       [][]Point `json:"segmented"`
	BufferedPending []Point   `json:"buffered_pending"`
}

// History is mutated in place by Apply and Flush. It has a single owner;
// publish copies made with Clone.
type History struct {
	Old      OldSweep `json:"old"`
	New      NewSweep `json:"new"`
	NewStart int64    `json:"new_start"`
}

func ms(d time.Duration) int64 { return d.Milliseconds() }

// LastObservedTime is the device time of the newest point, or NewStart when
// the current sweep is empty.
func (h *History) LastObservedTime() int64 {
	if n := len(h.New.Full); n > 0 {
		return h.NewStart + h.New.Full[n-1].Offset
	}
	return h.NewStart
}

// Apply records a sample taken at device time t (milliseconds) and reports
// whether it started a new sweep.
func (h *History) Apply(t int64, value float32, cfg Config) bool {
	last := h.LastObservedTime()
	if t > h.NewStart+ms(cfg.MaxWindowDuration) ||
		t < last ||
		t-ms(cfg.MaxGapDuration) > last {
		h.restart(t, value)
		return true
	}

	p := Point{Offset: t - h.NewStart, Value: value}
	h.New.Full = append(h.New.Full, p)
	h.New.BufferedPending = append(h.New.BufferedPending, p)

	// Only the first segment is batch-delayed.
	if span(h.New.BufferedPending) < ms(cfg.SegmentCommitOffset) && len(h.New.Segmented) <= 1 {
		return false
	}
	h.commit(cfg)
	return false
}

// Flush commits any pending points into segments immediately.
func (h *History) Flush(cfg Config) {
	h.commit(cfg)
}

func (h *History) restart(t int64, value float32) {
	h.Old = OldSweep{Full: h.New.Full}
	p := Point{Offset: 0, Value: value}
	h.New = NewSweep{
		Full:            []Point{p},
		Segmented:       [][]Point{{}},
		BufferedPending: []Point{p},
	}
	h.NewStart = t
}

func (h *History) commit(cfg Config) {
	pending := h.New.BufferedPending
	if len(pending) == 0 {
		return
	}
	h.New.BufferedPending = nil

	n := len(h.New.Segmented)
	if n == 0 {
		h.New.Segmented = [][]Point{clonePoints(pending)}
		return
	}
	seg := h.New.Segmented[n-1]
	switch {
	case len(seg) == 0:
		h.New.Segmented[n-1] = clonePoints(pending)
	case pending[len(pending)-1].Offset-seg[0].Offset >= ms(cfg.MaxSegmentDuration):
		h.New.Segmented[n-1] = append(seg, pending[0])
		h.New.Segmented = append(h.New.Segmented, clonePoints(pending))
	default:
		h.New.Segmented[n-1] = append(seg, pending...)
	}
}

// PointCount is the number of points held across both sweeps.
func (h *History) PointCount() int {
	return len(h.Old.Full) + len(h.New.Full)
}

// Clone returns a deep copy that shares no backing arrays with h.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	c := &History{
		Old:      OldSweep{Full: clonePoints(h.Old.Full)},
		NewStart: h.NewStart,
		New: NewSweep{
			Full:            clonePoints(h.New.Full),
			BufferedPending: clonePoints(h.New.BufferedPending),
		},
	}
	if h.New.Segmented != nil {
		c.New.Segmented = make([][]Point, len(h.New.Segmented))
		for i, seg := range h.New.Segmented {
			c.New.Segmented[i] = clonePoints(seg)
		}
	}
	return c
}

func span(ps []Point) int64 {
	if len(ps) == 0 {
		return 0
	}
	return ps[len(ps)-1].Offset - ps[0].Offset
}

func clonePoints(ps []Point) []Point {
	if ps == nil {
		return nil
	}
	out := make([]Point, len(ps))
	copy(out, ps)
	return out
}
