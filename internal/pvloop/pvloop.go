// Package pvloop tracks the pressure-volume loop of the current breath.
package pvloop

// Point is a (pressure, volume) pair.
type Point struct {
	Pressure float32 `json:"pressure"`
	Volume   float32 `json:"volume"`
}

// History is one loop relative to the reading at the start of its breath
// cycle. Loop length is not bounded here; callers that need a cap apply it.
type History struct {
	Cycle  uint32  `json:"cycle"`
	Origin Point   `json:"origin"`
	Loop   []Point `json:"loop"`
	// started is false until the first sample so that cycle 0 still resets.
	started bool
}

// Apply records a sample and reports whether it began a new loop.
func (h *History) Apply(cycle uint32, pressure, volume float32) bool {
	if !h.started || cycle != h.Cycle {
		h.started = true
		h.Cycle = cycle
		h.Origin = Point{Pressure: pressure, Volume: volume}
		h.Loop = []Point{{}}
		return true
	}
	h.Loop = append(h.Loop, Point{
		Pressure: pressure - h.Origin.Pressure,
		Volume:   volume - h.Origin.Volume,
	})
	return false
}

func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	c := *h
	if h.Loop != nil {
		c.Loop = append(make([]Point, 0, len(h.Loop)), h.Loop...)
	}
	return &c
}
