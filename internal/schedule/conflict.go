package schedule

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Candidate is a prospective booking being checked against a provider's
// existing appointments.
type Candidate struct {
	ProviderID      uuid.UUID
	StartAt         time.Time
	DurationMinutes int

	// ExcludeID skips one appointment from the conflict set, used when
	// rescheduling so an appointment does not conflict with itself.
	ExcludeID uuid.UUID
}

func (c Candidate) Interval() Interval {
	return Interval{
		Start: c.StartAt,
		End:   c.StartAt.Add(time.Duration(c.DurationMinutes) * time.Minute),
	}
}

// FindConflicts returns every existing appointment of the candidate's
// provider that is not cancelled and overlaps the candidate interval.
func FindConflicts(candidate Candidate, existing []Appointment) []Appointment {
	want := candidate.Interval()

	var conflicts []Appointment
	for _, appt := range existing {
		if appt.ProviderID != candidate.ProviderID {
			continue
		}
		if !appt.Status.CountsTowardLoad() {
			continue
		}
		if candidate.ExcludeID != uuid.Nil && appt.ID == candidate.ExcludeID {
			continue
		}
		if want.Overlaps(appt.Interval()) {
			conflicts = append(conflicts, appt)
		}
	}
	return conflicts
}

// OverlapPair is one mutually overlapping pair found by ReportOverlaps.
type OverlapPair struct {
	A Appointment
	B Appointment
}

// ReportOverlaps finds every overlapping pair among a provider's
// non-cancelled appointments using a sweep over appointments sorted by
// start. Each new interval is compared against the whole currently-open
// set, not just its predecessor, so mutual overlaps between non-adjacent
// appointments are not missed.
func ReportOverlaps(appointments []Appointment) []OverlapPair {
	active := make([]Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.Status.CountsTowardLoad() {
			active = append(active, a)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].StartAt.Before(active[j].StartAt)
	})

	var pairs []OverlapPair
	var open []Appointment
	for _, appt := range active {
		next := open[:0]
		for _, prev := range open {
			if prev.EndAt().After(appt.StartAt) {
				next = append(next, prev)
			}
		}
		open = next

		for _, prev := range open {
			if prev.Interval().Overlaps(appt.Interval()) {
				pairs = append(pairs, OverlapPair{A: prev, B: appt})
			}
		}
		open = append(open, appt)
	}
	return pairs
}
