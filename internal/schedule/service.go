package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/audit"
	"github.com/medsched/clinic-scheduling/internal/config"
	"github.com/medsched/clinic-scheduling/internal/notify"
	redisclient "github.com/medsched/clinic-scheduling/internal/redis"
)

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	auditor   audit.Recorder
	publisher notify.Publisher
	cfg       config.Config
	tz        *time.Location
	log       zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, auditor audit.Recorder, publisher notify.Publisher, cfg config.Config, tz *time.Location, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		auditor:   auditor,
		publisher: publisher,
		cfg:       cfg,
		tz:        tz,
		log:       log,
	}
}

// BookRequest is a request to create one appointment.
type BookRequest struct {
	ProviderID      uuid.UUID
	LocationID      uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Type            VisitType
	Status          Status // optional, defaults to pending
	Notes           string
}

// Book validates the request, runs the conflict and capacity checks under
// the provider lock, and persists the appointment. Audit and notification
// side effects run after the decision and never fail the booking.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := s.validateBookRequest(&req); err != nil {
		return nil, err
	}

	provider, err := s.loadActiveProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	location, err := s.loadActiveLocation(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load patient", Err: err}
	}

	candidate := Candidate{
		ProviderID:      req.ProviderID,
		StartAt:         req.StartAt,
		DurationMinutes: req.DurationMinutes,
	}
	if s.cfg.EnforceAvailability {
		if err := s.checkWithinAvailability(provider, candidate); err != nil {
			return nil, err
		}
	}

	appt := &Appointment{
		ID:              uuid.New(),
		ProviderID:      req.ProviderID,
		LocationID:      req.LocationID,
		PatientID:       req.PatientID,
		StartAt:         req.StartAt,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Status:          req.Status,
		Notes:           req.Notes,
	}

	err = s.locker.WithProviderLock(ctx, req.ProviderID, func(lockCtx context.Context) error {
		// Inside the critical section re-check against the current window.
		conflicts, err := s.loadConflicts(lockCtx, candidate)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}

		if err := s.checkLocationCapacity(lockCtx, location, candidate.Interval()); err != nil {
			return err
		}

		if err := s.repo.InsertAtomic(lockCtx, appt); err != nil {
			if errors.Is(err, ErrOverlapDetected) {
				// A competing write slipped in between the check and the
				// insert; report the winners.
				conflicts, lerr := s.loadConflicts(lockCtx, candidate)
				if lerr == nil && len(conflicts) > 0 {
					return &ConflictError{Conflicts: conflicts}
				}
				return &ConflictError{}
			}
			return &PersistenceError{Op: "insert appointment", Err: err}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     "appointment.book",
		Resource:   "appointment",
		ResourceID: &appt.ID,
		Details: map[string]any{
			"provider_id": appt.ProviderID.String(),
			"location_id": appt.LocationID.String(),
			"start_at":    appt.StartAt,
			"duration":    appt.DurationMinutes,
		},
	})
	s.publisher.Publish(ctx, notify.ProviderTopic(appt.ProviderID), map[string]any{
		"event":       notify.EventAppointmentCreated,
		"appointment": appt,
	})

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("provider_id", appt.ProviderID.String()).
		Time("start_at", appt.StartAt).
		Msg("appointment booked")

	return appt, nil
}

// Reschedule moves an existing appointment to a new start and duration under
// the same lock and conflict discipline as Book, excluding the appointment
// itself from the conflict set.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDurationMinutes int, notes *string) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, NewValidationError("start", "must be set")
	}
	if newDurationMinutes <= 0 {
		return nil, NewValidationError("durationMinutes", "must be positive")
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load appointment", Err: err}
	}
	if Terminal(appt.Status) {
		return nil, NewValidationError("status", fmt.Sprintf("cannot reschedule a %s appointment", appt.Status))
	}

	provider, err := s.loadActiveProvider(ctx, appt.ProviderID)
	if err != nil {
		return nil, err
	}

	candidate := Candidate{
		ProviderID:      appt.ProviderID,
		StartAt:         newStart,
		DurationMinutes: newDurationMinutes,
		ExcludeID:       appt.ID,
	}
	if s.cfg.EnforceAvailability {
		if err := s.checkWithinAvailability(provider, candidate); err != nil {
			return nil, err
		}
	}

	appt.StartAt = newStart
	appt.DurationMinutes = newDurationMinutes
	if notes != nil {
		appt.Notes = *notes
	}

	err = s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		conflicts, err := s.loadConflicts(lockCtx, candidate)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}

		if err := s.repo.UpdateAtomic(lockCtx, appt); err != nil {
			if errors.Is(err, ErrOverlapDetected) {
				conflicts, lerr := s.loadConflicts(lockCtx, candidate)
				if lerr == nil && len(conflicts) > 0 {
					return &ConflictError{Conflicts: conflicts}
				}
				return &ConflictError{}
			}
			return &PersistenceError{Op: "update appointment", Err: err}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     "appointment.reschedule",
		Resource:   "appointment",
		ResourceID: &appt.ID,
		Details: map[string]any{
			"start_at": appt.StartAt,
			"duration": appt.DurationMinutes,
		},
	})
	s.publisher.Publish(ctx, notify.ProviderTopic(appt.ProviderID), map[string]any{
		"event":       notify.EventAppointmentUpdated,
		"appointment": appt,
	})

	return appt, nil
}

// TransitionStatus applies the lifecycle machine and persists the move with
// a compare-and-set on the previous status.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load appointment", Err: err}
	}

	next, err := Transition(appt.Status, to)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, next)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The row moved out from under us between the read and the
			// compare-and-set.
			return nil, &InvalidTransitionError{From: appt.Status, To: next}
		}
		return nil, &PersistenceError{Op: "update status", Err: err}
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     "appointment.status",
		Resource:   "appointment",
		ResourceID: &updated.ID,
		Details: map[string]any{
			"from": string(appt.Status),
			"to":   string(updated.Status),
		},
	})
	s.publisher.Publish(ctx, notify.ProviderTopic(updated.ProviderID), map[string]any{
		"event":       notify.EventAppointmentStatusUpdated,
		"appointment": updated,
	})

	return updated, nil
}

// BulkAction names one batch operation.
type BulkAction string

const (
	BulkDelete       BulkAction = "delete"
	BulkUpdateStatus BulkAction = "update-status"
)

// BulkResult reports how many rows the batch actually touched, which may be
// fewer than the number of IDs supplied.
type BulkResult struct {
	AffectedCount int64 `json:"affected_count"`
}

// ApplyBulk runs one action over a set of appointments as a single batch
// statement, with one audit entry and one aggregate notification for the
// whole batch.
func (s *Service) ApplyBulk(ctx context.Context, action BulkAction, ids []uuid.UUID, status Status) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, NewValidationError("appointmentIds", "must not be empty")
	}
	if len(ids) > s.cfg.BulkMaxIDs {
		return BulkResult{}, NewValidationError("appointmentIds",
			fmt.Sprintf("at most %d ids per bulk operation", s.cfg.BulkMaxIDs))
	}

	var (
		affected int64
		err      error
		details  = map[string]any{"count": len(ids)}
	)

	switch action {
	case BulkDelete:
		affected, err = s.repo.BulkDelete(ctx, ids)
	case BulkUpdateStatus:
		if !status.Valid() {
			return BulkResult{}, NewValidationError("data.status", "unknown status "+string(status))
		}
		details["status"] = string(status)
		affected, err = s.repo.BulkUpdateStatus(ctx, ids, status)
	default:
		return BulkResult{}, NewValidationError("action", "must be delete or update-status")
	}
	if err != nil {
		return BulkResult{}, &PersistenceError{Op: "bulk " + string(action), Err: err}
	}

	details["affected"] = affected
	s.auditor.Record(ctx, audit.Entry{
		Action:   "appointment.bulk." + string(action),
		Resource: "appointment",
		Details:  details,
	})
	s.publisher.Publish(ctx, notify.BulkTopic, map[string]any{
		"event":    notify.EventAppointmentsBulkUpdated,
		"action":   string(action),
		"affected": affected,
	})

	s.log.Info().
		Str("action", string(action)).
		Int("requested", len(ids)).
		Int64("affected", affected).
		Msg("bulk operation applied")

	return BulkResult{AffectedCount: affected}, nil
}

// SlotQuery asks for the bookable slots of one provider on one date.
type SlotQuery struct {
	ProviderID         uuid.UUID
	Date               time.Time // any instant on the target date
	DurationMinutes    int
	GranularityMinutes int // 0 means the configured default
}

// SlotQueryResult lists bookable slots along with how many slots the
// availability windows would yield on an empty calendar.
type SlotQueryResult struct {
	AvailableSlots           []Slot `json:"available_slots"`
	ExistingAppointmentCount int    `json:"existing_appointment_count"`
	TotalSlots               int    `json:"total_slots"`
}

// AvailableSlots enumerates the provider's open slots for the query date.
// This is a snapshot read; a slot can be taken between discovery and booking
// and the booking path re-checks.
func (s *Service) AvailableSlots(ctx context.Context, q SlotQuery) (*SlotQueryResult, error) {
	if q.DurationMinutes <= 0 {
		return nil, NewValidationError("durationMinutes", "must be positive")
	}
	granularity := q.GranularityMinutes
	if granularity == 0 {
		granularity = s.cfg.SlotGranularity
	}
	if granularity < 0 {
		return nil, NewValidationError("granularityMinutes", "must be positive")
	}

	provider, err := s.loadActiveProvider(ctx, q.ProviderID)
	if err != nil {
		return nil, err
	}

	day := s.startOfDay(q.Date)
	// Appointments starting the previous day can spill into this one.
	existing, err := s.repo.ListProviderAppointments(ctx, q.ProviderID, day.Add(-24*time.Hour), day.Add(24*time.Hour))
	if err != nil {
		return nil, &PersistenceError{Op: "list provider appointments", Err: err}
	}

	slots, err := GenerateSlots(provider.Availability, existing, day, q.DurationMinutes, granularity)
	if err != nil {
		return nil, err
	}

	total, err := GenerateSlots(provider.Availability, nil, day, q.DurationMinutes, granularity)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, appt := range existing {
		if appt.Status.CountsTowardLoad() && !appt.StartAt.Before(day) && appt.StartAt.Before(day.Add(24*time.Hour)) {
			count++
		}
	}

	return &SlotQueryResult{
		AvailableSlots:           slots,
		ExistingAppointmentCount: count,
		TotalSlots:               len(total),
	}, nil
}

// LocationUtilization computes the hourly occupancy report for one location
// and date. Over-capacity hours are reported as such, not clamped.
func (s *Service) LocationUtilization(ctx context.Context, locationID uuid.UUID, date time.Time) (*Location, []HourBucket, error) {
	location, err := s.repo.GetLocationByID(ctx, locationID)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return nil, nil, err
		}
		return nil, nil, &PersistenceError{Op: "load location", Err: err}
	}

	day := s.startOfDay(date)
	appts, err := s.repo.ListLocationAppointments(ctx, locationID, day.Add(-24*time.Hour), day.Add(24*time.Hour))
	if err != nil {
		return nil, nil, &PersistenceError{Op: "list location appointments", Err: err}
	}

	return location, Utilization(*location, appts, day), nil
}

// ProviderOverlapReport finds every pair of mutually overlapping
// non-cancelled appointments for a provider within [from, to).
func (s *Service) ProviderOverlapReport(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]OverlapPair, error) {
	if !to.After(from) {
		return nil, NewValidationError("range", "to must be after from")
	}
	if _, err := s.loadActiveProvider(ctx, providerID); err != nil && !errors.Is(err, ErrProviderInactive) {
		return nil, err
	}

	appts, err := s.repo.ListProviderAppointments(ctx, providerID, from, to)
	if err != nil {
		return nil, &PersistenceError{Op: "list provider appointments", Err: err}
	}
	return ReportOverlaps(appts), nil
}

// UpdateAvailability validates and stores a provider's weekly open windows.
func (s *Service) UpdateAvailability(ctx context.Context, providerID uuid.UUID, weekly WeeklyAvailability) error {
	if err := weekly.Validate(); err != nil {
		return err
	}

	if err := s.repo.UpdateProviderAvailability(ctx, providerID, weekly); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return err
		}
		return &PersistenceError{Op: "update availability", Err: err}
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     "provider.availability",
		Resource:   "provider",
		ResourceID: &providerID,
	})
	return nil
}

// GetAppointment loads one appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load appointment", Err: err}
	}
	return appt, nil
}

// Internals

func (s *Service) validateBookRequest(req *BookRequest) error {
	switch {
	case req.ProviderID == uuid.Nil:
		return NewValidationError("providerId", "must be set")
	case req.LocationID == uuid.Nil:
		return NewValidationError("locationId", "must be set")
	case req.PatientID == uuid.Nil:
		return NewValidationError("patientId", "must be set")
	case req.StartAt.IsZero():
		return NewValidationError("start", "must be set")
	case req.DurationMinutes <= 0:
		return NewValidationError("durationMinutes", "must be positive")
	}
	if !req.Type.Valid() {
		return NewValidationError("type", "must be telehealth or in_person")
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if !req.Status.Valid() {
		return NewValidationError("status", "unknown status "+string(req.Status))
	}
	return nil
}

func (s *Service) loadActiveProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	provider, err := s.repo.GetProviderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load provider", Err: err}
	}
	if !provider.Active {
		return provider, ErrProviderInactive
	}
	return provider, nil
}

func (s *Service) loadActiveLocation(ctx context.Context, id uuid.UUID) (*Location, error) {
	location, err := s.repo.GetLocationByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load location", Err: err}
	}
	if !location.Active {
		return location, ErrLocationInactive
	}
	return location, nil
}

func (s *Service) loadConflicts(ctx context.Context, candidate Candidate) ([]Appointment, error) {
	from := candidate.StartAt.Add(-s.cfg.ConflictWindow)
	to := candidate.StartAt.Add(s.cfg.ConflictWindow)

	existing, err := s.repo.ListProviderAppointments(ctx, candidate.ProviderID, from, to)
	if err != nil {
		return nil, &PersistenceError{Op: "list provider appointments", Err: err}
	}
	return FindConflicts(candidate, existing), nil
}

// checkWithinAvailability enforces that the candidate interval lies inside
// one of the provider's open windows for that weekday.
func (s *Service) checkWithinAvailability(provider *Provider, candidate Candidate) error {
	iv := candidate.Interval()
	day := s.startOfDay(candidate.StartAt)

	for _, r := range provider.Availability.RangesOn(day.Weekday()) {
		window := Interval{
			Start: day.Add(time.Duration(r.Start) * time.Minute),
			End:   day.Add(time.Duration(r.End) * time.Minute),
		}
		if window.Contains(iv) {
			return nil
		}
	}
	return NewValidationError("start",
		fmt.Sprintf("requested time is outside the provider's availability on %s", day.Weekday()))
}

func (s *Service) checkLocationCapacity(ctx context.Context, location *Location, iv Interval) error {
	day := s.startOfDay(iv.Start)
	appts, err := s.repo.ListLocationAppointments(ctx, location.ID, day.Add(-24*time.Hour), day.Add(24*time.Hour))
	if err != nil {
		return &PersistenceError{Op: "list location appointments", Err: err}
	}

	buckets := Utilization(*location, appts, day)
	for _, h := range HoursSpanned(iv, day) {
		if buckets[h].Occupied >= location.Capacity {
			return &CapacityExceededError{
				LocationID: location.ID.String(),
				Hour:       h,
				Capacity:   location.Capacity,
				Occupied:   buckets[h].Occupied,
			}
		}
	}
	return nil
}

func (s *Service) startOfDay(t time.Time) time.Time {
	local := t.In(s.tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.tz)
}
