package schedule

import "time"

// HourBucket is one hour of a location's day with its occupancy.
type HourBucket struct {
	Hour           int     `json:"hour"`
	Occupied       int     `json:"occupied"`
	Available      int     `json:"available"`
	IsAvailable    bool    `json:"is_available"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// OverCapacity reports whether the bucket exceeds the location's capacity.
// Occupancy above capacity is reported, never clamped, so pre-existing
// violations stay visible.
func (b HourBucket) OverCapacity(capacity int) bool {
	return b.Occupied > capacity
}

// Utilization computes the 24 hourly occupancy buckets for a location on
// one day. Every non-cancelled appointment increments each hour bucket it
// touches, partial hours included. day must be midnight of the target date.
func Utilization(loc Location, appointments []Appointment, day time.Time) []HourBucket {
	occupied := make([]int, 24)
	for _, appt := range appointments {
		if appt.LocationID != loc.ID || !appt.Status.CountsTowardLoad() {
			continue
		}
		for h := 0; h < 24; h++ {
			bucket := Interval{
				Start: day.Add(time.Duration(h) * time.Hour),
				End:   day.Add(time.Duration(h+1) * time.Hour),
			}
			if bucket.Overlaps(appt.Interval()) {
				occupied[h]++
			}
		}
	}

	buckets := make([]HourBucket, 24)
	for h := 0; h < 24; h++ {
		available := loc.Capacity - occupied[h]
		if available < 0 {
			available = 0
		}
		var pct float64
		if loc.Capacity > 0 {
			pct = float64(occupied[h]) / float64(loc.Capacity) * 100
		}
		buckets[h] = HourBucket{
			Hour:           h,
			Occupied:       occupied[h],
			Available:      available,
			IsAvailable:    available > 0,
			UtilizationPct: pct,
		}
	}
	return buckets
}

// HoursSpanned returns the hour indexes an interval touches on the given
// day, clipped to [0,24).
func HoursSpanned(iv Interval, day time.Time) []int {
	var hours []int
	for h := 0; h < 24; h++ {
		bucket := Interval{
			Start: day.Add(time.Duration(h) * time.Hour),
			End:   day.Add(time.Duration(h+1) * time.Hour),
		}
		if bucket.Overlaps(iv) {
			hours = append(hours, h)
		}
	}
	return hours
}
