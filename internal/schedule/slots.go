package schedule

import (
	"fmt"
	"time"
)

// DefaultGranularityMinutes is the step between candidate slot starts when
// the caller does not choose one.
const DefaultGranularityMinutes = 15

// Slot is a candidate bookable interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// GenerateSlots enumerates every bookable slot of the requested duration on
// the given date. day must be midnight of the target date in the clinic's
// timezone; existing should hold the provider's appointments for that day.
// The sequence is recomputed on every call and carries no cached state.
func GenerateSlots(availability WeeklyAvailability, existing []Appointment, day time.Time, durationMinutes, granularityMinutes int) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, NewValidationError("durationMinutes", "must be positive")
	}
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}

	ranges := availability.RangesOn(day.Weekday())
	if len(ranges) == 0 {
		return nil, nil
	}

	booked := make([]Interval, 0, len(existing))
	for _, appt := range existing {
		if appt.Status.CountsTowardLoad() {
			booked = append(booked, appt.Interval())
		}
	}

	duration := time.Duration(durationMinutes) * time.Minute
	step := time.Duration(granularityMinutes) * time.Minute

	var slots []Slot
	for _, r := range ranges {
		if r.End <= r.Start {
			return nil, fmt.Errorf("availability range %s on %s is inverted", r, day.Weekday())
		}

		rangeEnd := day.Add(time.Duration(r.End) * time.Minute)
		for cursor := day.Add(time.Duration(r.Start) * time.Minute); ; cursor = cursor.Add(step) {
			slotEnd := cursor.Add(duration)
			if slotEnd.After(rangeEnd) {
				break
			}

			candidate := Interval{Start: cursor, End: slotEnd}
			if overlapsAny(candidate, booked) {
				continue
			}
			slots = append(slots, Slot{Start: cursor, End: slotEnd})
		}
	}
	return slots, nil
}

func overlapsAny(candidate Interval, booked []Interval) bool {
	for _, iv := range booked {
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}
