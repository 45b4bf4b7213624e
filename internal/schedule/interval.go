package schedule

import "time"

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals share at least one
// instant: s1 < e2 && s2 < e1. Every overlap test in this package goes
// through this predicate so conflict detection, slot generation and
// capacity bucketing cannot drift apart on boundary handling.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}
