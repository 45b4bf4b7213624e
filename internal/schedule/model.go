package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Cancelled appointments do not count toward conflicts or capacity.
func (s Status) CountsTowardLoad() bool {
	return s != StatusCancelled
}

type VisitType string

const (
	VisitTelehealth VisitType = "telehealth"
	VisitInPerson   VisitType = "in_person"
)

func (t VisitType) Valid() bool {
	return t == VisitTelehealth || t == VisitInPerson
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID           uuid.UUID
	Name         string
	Specialty    *string
	Availability WeeklyAvailability
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Location struct {
	ID        uuid.UUID
	Name      string
	Capacity  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	LocationID      uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Type            VisitType
	Status          Status
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EndAt returns the exclusive end of the appointment.
func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartAt, End: a.EndAt()}
}

// MinuteOfDay is a wall-clock offset from local midnight.
type MinuteOfDay int

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

// TimeRange is a half-open [Start, End) window within a single day.
type TimeRange struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

func (r TimeRange) Minutes() int { return int(r.End - r.Start) }

func (r TimeRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

type timeRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeRangeJSON{Start: r.Start.String(), End: r.End.String()})
}

func (r *TimeRange) UnmarshalJSON(data []byte) error {
	var raw timeRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseClock(raw.Start)
	if err != nil {
		return err
	}
	end, err := ParseClock(raw.End)
	if err != nil {
		return err
	}
	r.Start, r.End = start, end
	return nil
}

// WeeklyAvailability maps a weekday to the provider's ordered open ranges.
type WeeklyAvailability map[time.Weekday][]TimeRange

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (w WeeklyAvailability) MarshalJSON() ([]byte, error) {
	out := make(map[string][]TimeRange, len(w))
	for day, ranges := range w {
		out[strings.ToLower(day.String())] = ranges
	}
	return json.Marshal(out)
}

func (w *WeeklyAvailability) UnmarshalJSON(data []byte) error {
	var raw map[string][]TimeRange
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := make(WeeklyAvailability, len(raw))
	for name, ranges := range raw {
		day, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		parsed[day] = ranges
	}
	*w = parsed
	return nil
}

// Validate enforces that each day's ranges are well formed, chronologically
// ordered and non-overlapping.
func (w WeeklyAvailability) Validate() error {
	for day, ranges := range w {
		for i, r := range ranges {
			if r.End <= r.Start {
				return NewValidationError("availability",
					fmt.Sprintf("%s range %s: end must be after start", strings.ToLower(day.String()), r))
			}
			if i == 0 {
				continue
			}
			prev := ranges[i-1]
			if r.Start < prev.End {
				return NewValidationError("availability",
					fmt.Sprintf("%s ranges %s and %s out of order or overlapping", strings.ToLower(day.String()), prev, r))
			}
		}
	}
	return nil
}

// RangesOn returns the open ranges for a weekday, sorted copy.
func (w WeeklyAvailability) RangesOn(day time.Weekday) []TimeRange {
	src := w[day]
	if len(src) == 0 {
		return nil
	}
	ranges := make([]TimeRange, len(src))
	copy(ranges, src)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges
}
