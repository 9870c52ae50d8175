package metrics

// LossMeter keeps a bounded window of recent per-step loss averages and
// exposes their mean. It drives the lead process's running description
// line; it carries no reduction semantics.
type LossMeter struct {
	vals   []float64
	maxLen int
}

// NewLossMeter creates a meter over a window of the given size.
func NewLossMeter(window int) *LossMeter {
	if window <= 0 {
		window = 100
	}
	return &LossMeter{maxLen: window}
}

// Update appends a value, evicting the oldest once the window is full.
func (m *LossMeter) Update(v float64) {
	if len(m.vals) == m.maxLen {
		copy(m.vals, m.vals[1:])
		m.vals[len(m.vals)-1] = v
		return
	}
	m.vals = append(m.vals, v)
}

// Len returns the number of values currently in the window.
func (m *LossMeter) Len() int {
	return len(m.vals)
}

// Val returns the mean of the window, or 0 for an empty meter.
func (m *LossMeter) Val() float64 {
	if len(m.vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range m.vals {
		sum += v
	}
	return sum / float64(len(m.vals))
}
