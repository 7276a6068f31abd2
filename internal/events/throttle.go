package events

// DefaultLogEvery is the default sampling interval for build_log events.
const DefaultLogEvery = 5

// Throttle samples output lines for live publication: Observe returns true on
// the Nth, 2Nth, ... call. Create one per step.
type Throttle struct {
	every int
	count int
}

// NewThrottle returns a Throttle firing every n lines (DefaultLogEvery when n <= 0).
func NewThrottle(n int) *Throttle {
	if n <= 0 {
		n = DefaultLogEvery
	}
	return &Throttle{every: n}
}

// Observe counts one line and reports whether it should be published.
func (t *Throttle) Observe() bool {
	t.count++
	return t.count%t.every == 0
}

// Count is the number of observed lines.
func (t *Throttle) Count() int { return t.count }
