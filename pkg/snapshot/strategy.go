package snapshot

// Strategy decides when a snapshot is due.
type Strategy interface {
	// ShouldCreateSnapshot is called with the resolved version and the
	// number of events folded since the last snapshot.
	ShouldCreateSnapshot(currentVersion int64, eventsSinceLastSnapshot int64) bool
}

// IntervalStrategy creates snapshots every Interval events.
type IntervalStrategy struct {
	Interval int64
}

// NewIntervalStrategy creates a strategy that snapshots every n events.
func NewIntervalStrategy(n int64) *IntervalStrategy {
	return &IntervalStrategy{Interval: n}
}

func (s *IntervalStrategy) ShouldCreateSnapshot(_ int64, eventsSinceLastSnapshot int64) bool {
	if s.Interval <= 0 {
		return false
	}
	return eventsSinceLastSnapshot >= s.Interval
}

// Always snapshots whenever at least one event is new.
type Always struct{}

func (Always) ShouldCreateSnapshot(_ int64, eventsSinceLastSnapshot int64) bool {
	return eventsSinceLastSnapshot > 0
}
