package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// monday is a Monday at midnight UTC.
func monday(t *testing.T) time.Time {
	t.Helper()
	day := mustTime(t, "2026-03-02T00:00:00Z")
	if day.Weekday() != time.Monday {
		t.Fatalf("fixture is %s, want Monday", day.Weekday())
	}
	return day
}

func TestGenerateSlotsEmptyCalendar(t *testing.T) {
	day := monday(t)
	availability := WeeklyAvailability{
		time.Monday: {{Start: 9 * 60, End: 12 * 60}},
	}

	slots, err := GenerateSlots(availability, nil, day, 30, 15)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	// 09:00 through 11:30 at 15-minute steps, each fitting a 30-minute
	// window inside 09:00-12:00.
	if len(slots) != 11 {
		t.Fatalf("expected 11 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9 * time.Hour)) {
		t.Errorf("first slot starts %v, want 09:00", slots[0].Start)
	}
	if !slots[len(slots)-1].Start.Equal(day.Add(11*time.Hour + 30*time.Minute)) {
		t.Errorf("last slot starts %v, want 11:30", slots[len(slots)-1].Start)
	}
	for i := 1; i < len(slots); i++ {
		if got := slots[i].Start.Sub(slots[i-1].Start); got != 15*time.Minute {
			t.Errorf("slot %d is %v after its predecessor, want 15m", i, got)
		}
	}
}

func TestGenerateSlotsSkipsBooked(t *testing.T) {
	day := monday(t)
	providerID := uuid.New()
	availability := WeeklyAvailability{
		time.Monday: {{Start: 9 * 60, End: 11 * 60}},
	}
	existing := []Appointment{
		makeAppointment(t, providerID, "2026-03-02T10:00:00Z", 30, StatusConfirmed),
	}

	slots, err := GenerateSlots(availability, existing, day, 30, 15)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	for _, slot := range slots {
		candidate := Candidate{
			ProviderID:      providerID,
			StartAt:         slot.Start,
			DurationMinutes: 30,
		}
		if conflicts := FindConflicts(candidate, existing); len(conflicts) != 0 {
			t.Errorf("generated slot %v conflicts with existing appointment", slot.Start)
		}
	}

	// 09:00, 09:15, 09:30, 10:30 - everything touching 10:00-10:30 is out.
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
}

func TestGenerateSlotsCancelledDoesNotBlock(t *testing.T) {
	day := monday(t)
	providerID := uuid.New()
	availability := WeeklyAvailability{
		time.Monday: {{Start: 10 * 60, End: 11 * 60}},
	}
	existing := []Appointment{
		makeAppointment(t, providerID, "2026-03-02T10:00:00Z", 60, StatusCancelled),
	}

	slots, err := GenerateSlots(availability, existing, day, 30, 30)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("cancelled appointment should not block slots, got %d of 2", len(slots))
	}
}

func TestGenerateSlotsCompleteness(t *testing.T) {
	day := monday(t)
	providerID := uuid.New()
	availability := WeeklyAvailability{
		time.Monday: {{Start: 9 * 60, End: 12 * 60}},
	}
	existing := []Appointment{
		makeAppointment(t, providerID, "2026-03-02T09:30:00Z", 30, StatusConfirmed),
	}

	slots, err := GenerateSlots(availability, existing, day, 30, 15)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	generated := map[time.Time]bool{}
	for _, s := range slots {
		generated[s.Start] = true
	}

	// Every candidate start inside the window that fits the duration and
	// avoids the 09:30 appointment must be present.
	for cursor := day.Add(9 * time.Hour); !cursor.Add(30 * time.Minute).After(day.Add(12 * time.Hour)); cursor = cursor.Add(15 * time.Minute) {
		candidate := Interval{Start: cursor, End: cursor.Add(30 * time.Minute)}
		conflicts := candidate.Overlaps(existing[0].Interval())
		if !conflicts && !generated[cursor] {
			t.Errorf("bookable start %v missing from generated slots", cursor)
		}
		if conflicts && generated[cursor] {
			t.Errorf("conflicting start %v present in generated slots", cursor)
		}
	}
}

func TestGenerateSlotsEdgeCases(t *testing.T) {
	day := monday(t)

	t.Run("no ranges for weekday", func(t *testing.T) {
		slots, err := GenerateSlots(WeeklyAvailability{time.Tuesday: {{Start: 9 * 60, End: 17 * 60}}}, nil, day, 30, 15)
		if err != nil {
			t.Fatalf("GenerateSlots: %v", err)
		}
		if len(slots) != 0 {
			t.Errorf("expected no slots, got %d", len(slots))
		}
	})

	t.Run("duration exceeds every range", func(t *testing.T) {
		slots, err := GenerateSlots(WeeklyAvailability{time.Monday: {{Start: 9 * 60, End: 10 * 60}}}, nil, day, 90, 15)
		if err != nil {
			t.Fatalf("GenerateSlots: %v", err)
		}
		if len(slots) != 0 {
			t.Errorf("expected no slots, got %d", len(slots))
		}
	})

	t.Run("inverted range is a configuration error", func(t *testing.T) {
		_, err := GenerateSlots(WeeklyAvailability{time.Monday: {{Start: 12 * 60, End: 9 * 60}}}, nil, day, 30, 15)
		if err == nil {
			t.Fatal("expected an error for an inverted range")
		}
	})

	t.Run("non-positive duration rejected", func(t *testing.T) {
		_, err := GenerateSlots(WeeklyAvailability{time.Monday: {{Start: 9 * 60, End: 12 * 60}}}, nil, day, 0, 15)
		if err == nil {
			t.Fatal("expected an error for zero duration")
		}
	})

	t.Run("multiple ranges stay ordered", func(t *testing.T) {
		availability := WeeklyAvailability{
			time.Monday: {
				{Start: 13 * 60, End: 14 * 60},
				{Start: 9 * 60, End: 10 * 60},
			},
		}
		slots, err := GenerateSlots(availability, nil, day, 30, 30)
		if err != nil {
			t.Fatalf("GenerateSlots: %v", err)
		}
		if len(slots) != 4 {
			t.Fatalf("expected 4 slots over both ranges, got %d", len(slots))
		}
		for i := 1; i < len(slots); i++ {
			if slots[i].Start.Before(slots[i-1].Start) {
				t.Errorf("slots out of order at index %d", i)
			}
		}
	})
}
