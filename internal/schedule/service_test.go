package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/audit"
	"github.com/medsched/clinic-scheduling/internal/config"
	redisclient "github.com/medsched/clinic-scheduling/internal/redis"
)

// -- Mocks --

type mockRepo struct {
	providers map[uuid.UUID]*Provider
	locations map[uuid.UUID]*Location
	patients  map[uuid.UUID]*Patient
	appts     map[uuid.UUID]*Appointment

	insertErr error
	updateErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		providers: make(map[uuid.UUID]*Provider),
		locations: make(map[uuid.UUID]*Location),
		patients:  make(map[uuid.UUID]*Patient),
		appts:     make(map[uuid.UUID]*Appointment),
	}
}

func (m *mockRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

func (m *mockRepo) GetLocationByID(_ context.Context, id uuid.UUID) (*Location, error) {
	l, ok := m.locations[id]
	if !ok {
		return nil, ErrLocationNotFound
	}
	return l, nil
}

func (m *mockRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockRepo) ListProviderAppointments(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	var result []Appointment
	for _, a := range m.appts {
		if a.ProviderID == providerID && !a.StartAt.Before(from) && a.StartAt.Before(to) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *mockRepo) ListLocationAppointments(_ context.Context, locationID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	var result []Appointment
	for _, a := range m.appts {
		if a.LocationID == locationID && !a.StartAt.Before(from) && a.StartAt.Before(to) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *mockRepo) InsertAtomic(_ context.Context, appt *Appointment) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	copied := *appt
	m.appts[appt.ID] = &copied
	return nil
}

func (m *mockRepo) UpdateAtomic(_ context.Context, appt *Appointment) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.appts[appt.ID]; !ok {
		return ErrAppointmentNotFound
	}
	appt.UpdatedAt = time.Now()
	copied := *appt
	m.appts[appt.ID] = &copied
	return nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	copied := *a
	return &copied, nil
}

func (m *mockRepo) UpdateProviderAvailability(_ context.Context, providerID uuid.UUID, availability WeeklyAvailability) error {
	p, ok := m.providers[providerID]
	if !ok {
		return ErrProviderNotFound
	}
	p.Availability = availability
	return nil
}

func (m *mockRepo) BulkDelete(_ context.Context, ids []uuid.UUID) (int64, error) {
	var affected int64
	for _, id := range ids {
		if _, ok := m.appts[id]; ok {
			delete(m.appts, id)
			affected++
		}
	}
	return affected, nil
}

func (m *mockRepo) BulkUpdateStatus(_ context.Context, ids []uuid.UUID, status Status) (int64, error) {
	var affected int64
	for _, id := range ids {
		if a, ok := m.appts[id]; ok {
			a.Status = status
			affected++
		}
	}
	return affected, nil
}

type mockLocker struct {
	err   error
	calls int
}

func (m *mockLocker) WithProviderLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	return fn(ctx)
}

type captureAudit struct {
	entries []audit.Entry
}

func (c *captureAudit) Record(_ context.Context, entry audit.Entry) {
	c.entries = append(c.entries, entry)
}

type captureNotify struct {
	topics   []string
	payloads []any
}

func (c *captureNotify) Publish(_ context.Context, topic string, payload any) {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload)
}

// -- Fixture --

type fixture struct {
	svc      *Service
	repo     *mockRepo
	locker   *mockLocker
	auditor  *captureAudit
	notifier *captureNotify

	provider *Provider
	location *Location
	patient  *Patient
}

func testConfig() config.Config {
	return config.Config{
		ConflictWindow:      24 * time.Hour,
		SlotGranularity:     15,
		BulkMaxIDs:          500,
		EnforceAvailability: true,
	}
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	repo := newMockRepo()
	locker := &mockLocker{}
	auditor := &captureAudit{}
	notifier := &captureNotify{}

	provider := &Provider{
		ID:     uuid.New(),
		Name:   "Dr. Reyes",
		Active: true,
		Availability: WeeklyAvailability{
			time.Monday: {{Start: 9 * 60, End: 17 * 60}},
		},
	}
	location := &Location{ID: uuid.New(), Name: "Main Clinic", Capacity: 3, Active: true}
	patient := &Patient{ID: uuid.New(), Name: "Alex Kim"}

	repo.providers[provider.ID] = provider
	repo.locations[location.ID] = location
	repo.patients[patient.ID] = patient

	svc := NewService(repo, locker, auditor, notifier, cfg, time.UTC, zerolog.Nop())

	return &fixture{
		svc:      svc,
		repo:     repo,
		locker:   locker,
		auditor:  auditor,
		notifier: notifier,
		provider: provider,
		location: location,
		patient:  patient,
	}
}

func (f *fixture) bookRequest(t *testing.T, start string, minutes int) BookRequest {
	t.Helper()
	return BookRequest{
		ProviderID:      f.provider.ID,
		LocationID:      f.location.ID,
		PatientID:       f.patient.ID,
		StartAt:         mustTime(t, start),
		DurationMinutes: minutes,
		Type:            VisitInPerson,
	}
}

// -- Booking --

func TestBookSuccess(t *testing.T) {
	f := newFixture(t, testConfig())

	appt, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Status != StatusPending {
		t.Errorf("status = %s, want pending by default", appt.Status)
	}
	if f.locker.calls != 1 {
		t.Errorf("lock acquired %d times, want 1", f.locker.calls)
	}
	if len(f.auditor.entries) != 1 || f.auditor.entries[0].Action != "appointment.book" {
		t.Errorf("expected one appointment.book audit entry, got %+v", f.auditor.entries)
	}
	if len(f.notifier.topics) != 1 || f.notifier.topics[0] != "appointments:provider:"+f.provider.ID.String() {
		t.Errorf("expected one provider-scoped notification, got %v", f.notifier.topics)
	}
	if _, ok := f.repo.appts[appt.ID]; !ok {
		t.Error("appointment not persisted")
	}
}

func TestBookConflict(t *testing.T) {
	f := newFixture(t, testConfig())

	existing, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if _, err := f.svc.TransitionStatus(context.Background(), existing.ID, StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err = f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:15:00Z", 30))
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(conflictErr.Conflicts) != 1 || conflictErr.Conflicts[0].ID != existing.ID {
		t.Errorf("conflict payload should list the 10:00 appointment, got %+v", conflictErr.Conflicts)
	}
}

func TestBookCancelledSlotIsFree(t *testing.T) {
	f := newFixture(t, testConfig())

	existing, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if _, err := f.svc.TransitionStatus(context.Background(), existing.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30)); err != nil {
		t.Fatalf("booking over a cancelled appointment should succeed, got %v", err)
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, testConfig())

	tests := []struct {
		name   string
		mutate func(*BookRequest)
	}{
		{"missing provider", func(r *BookRequest) { r.ProviderID = uuid.Nil }},
		{"missing location", func(r *BookRequest) { r.LocationID = uuid.Nil }},
		{"missing patient", func(r *BookRequest) { r.PatientID = uuid.Nil }},
		{"zero start", func(r *BookRequest) { r.StartAt = time.Time{} }},
		{"zero duration", func(r *BookRequest) { r.DurationMinutes = 0 }},
		{"negative duration", func(r *BookRequest) { r.DurationMinutes = -30 }},
		{"bad type", func(r *BookRequest) { r.Type = "house_call" }},
		{"bad status", func(r *BookRequest) { r.Status = "archived" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.bookRequest(t, "2026-03-02T10:00:00Z", 30)
			tt.mutate(&req)

			_, err := f.svc.Book(context.Background(), req)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestBookOutsideAvailability(t *testing.T) {
	f := newFixture(t, testConfig())

	// 2026-03-01 is a Sunday; the fixture provider only works Mondays.
	_, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-01T10:00:00Z", 30))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for a Sunday booking, got %v", err)
	}

	cfg := testConfig()
	cfg.EnforceAvailability = false
	relaxed := newFixture(t, cfg)
	if _, err := relaxed.svc.Book(context.Background(), relaxed.bookRequest(t, "2026-03-01T10:00:00Z", 30)); err != nil {
		t.Fatalf("relaxed config should allow the booking, got %v", err)
	}
}

func TestBookCapacityExceeded(t *testing.T) {
	f := newFixture(t, testConfig())
	f.location.Capacity = 1

	// Fill the only seat with a different provider so there is no
	// provider-level conflict.
	other := &Provider{
		ID:     uuid.New(),
		Name:   "Dr. Osei",
		Active: true,
		Availability: WeeklyAvailability{
			time.Monday: {{Start: 9 * 60, End: 17 * 60}},
		},
	}
	f.repo.providers[other.ID] = other

	occupying := makeAppointment(t, other.ID, "2026-03-02T10:00:00Z", 30, StatusConfirmed)
	occupying.LocationID = f.location.ID
	f.repo.appts[occupying.ID] = &occupying

	_, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:15:00Z", 30))
	var capacityErr *CapacityExceededError
	if !errors.As(err, &capacityErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
}

func TestBookLockNotAcquired(t *testing.T) {
	f := newFixture(t, testConfig())
	f.locker.err = redisclient.ErrLockNotAcquired

	_, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if !errors.Is(err, ErrProviderBusy) {
		t.Fatalf("expected ErrProviderBusy, got %v", err)
	}
}

func TestBookWriteRaceSurfacesConflict(t *testing.T) {
	f := newFixture(t, testConfig())
	f.repo.insertErr = ErrOverlapDetected

	_, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictError when the store detects the race, got %v", err)
	}
}

func TestBookInactiveProvider(t *testing.T) {
	f := newFixture(t, testConfig())
	f.provider.Active = false

	_, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if !errors.Is(err, ErrProviderInactive) {
		t.Fatalf("expected ErrProviderInactive, got %v", err)
	}
}

// -- Reschedule --

func TestRescheduleExcludesSelf(t *testing.T) {
	f := newFixture(t, testConfig())

	appt, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	// Shift by 15 minutes into a window only the appointment itself blocks.
	moved, err := f.svc.Reschedule(context.Background(), appt.ID, mustTime(t, "2026-03-02T10:15:00Z"), 30, nil)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !moved.StartAt.Equal(mustTime(t, "2026-03-02T10:15:00Z")) {
		t.Errorf("start = %v, want 10:15", moved.StartAt)
	}
}

func TestRescheduleConflicts(t *testing.T) {
	f := newFixture(t, testConfig())

	first, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	second, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T11:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	_, err = f.svc.Reschedule(context.Background(), second.ID, mustTime(t, "2026-03-02T10:15:00Z"), 30, nil)
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(conflictErr.Conflicts) != 1 || conflictErr.Conflicts[0].ID != first.ID {
		t.Errorf("conflict payload should list the first appointment")
	}
}

func TestRescheduleTerminalRejected(t *testing.T) {
	f := newFixture(t, testConfig())

	appt, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if _, err := f.svc.TransitionStatus(context.Background(), appt.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err = f.svc.Reschedule(context.Background(), appt.ID, mustTime(t, "2026-03-02T12:00:00Z"), 30, nil)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for a cancelled appointment, got %v", err)
	}
}

// -- Status machine through the service --

func TestTransitionStatusLifecycle(t *testing.T) {
	f := newFixture(t, testConfig())

	appt, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	confirmed, err := f.svc.TransitionStatus(context.Background(), appt.ID, StatusConfirmed)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}

	if _, err := f.svc.TransitionStatus(context.Background(), appt.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Completed is terminal.
	_, err = f.svc.TransitionStatus(context.Background(), appt.ID, StatusCancelled)
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestTransitionCancelledToConfirmedRejected(t *testing.T) {
	f := newFixture(t, testConfig())

	appt, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if _, err := f.svc.TransitionStatus(context.Background(), appt.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err = f.svc.TransitionStatus(context.Background(), appt.ID, StatusConfirmed)
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

// -- Bulk --

func TestApplyBulkDeleteCountsExisting(t *testing.T) {
	f := newFixture(t, testConfig())

	var ids []uuid.UUID
	starts := []string{"2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z"}
	for _, s := range starts {
		appt, err := f.svc.Book(context.Background(), f.bookRequest(t, s, 30))
		if err != nil {
			t.Fatalf("seed booking at %s: %v", s, err)
		}
		ids = append(ids, appt.ID)
	}
	ids = append(ids, uuid.New(), uuid.New()) // two IDs that never existed

	f.auditor.entries = nil
	f.notifier.topics = nil

	result, err := f.svc.ApplyBulk(context.Background(), BulkDelete, ids, "")
	if err != nil {
		t.Fatalf("ApplyBulk: %v", err)
	}
	if result.AffectedCount != 3 {
		t.Errorf("affected = %d, want 3", result.AffectedCount)
	}
	if len(f.auditor.entries) != 1 {
		t.Errorf("expected one aggregate audit entry, got %d", len(f.auditor.entries))
	}
	if len(f.notifier.topics) != 1 || f.notifier.topics[0] != "appointments:bulk" {
		t.Errorf("expected one aggregate bulk notification, got %v", f.notifier.topics)
	}
}

func TestApplyBulkUpdateStatus(t *testing.T) {
	f := newFixture(t, testConfig())

	appt, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30))
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	result, err := f.svc.ApplyBulk(context.Background(), BulkUpdateStatus, []uuid.UUID{appt.ID}, StatusConfirmed)
	if err != nil {
		t.Fatalf("ApplyBulk: %v", err)
	}
	if result.AffectedCount != 1 {
		t.Errorf("affected = %d, want 1", result.AffectedCount)
	}
	if f.repo.appts[appt.ID].Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", f.repo.appts[appt.ID].Status)
	}
}

func TestApplyBulkValidation(t *testing.T) {
	cfg := testConfig()
	cfg.BulkMaxIDs = 3
	f := newFixture(t, cfg)

	assertValidation := func(t *testing.T, err error) {
		t.Helper()
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	}

	_, err := f.svc.ApplyBulk(context.Background(), BulkDelete, nil, "")
	assertValidation(t, err)

	tooMany := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	_, err = f.svc.ApplyBulk(context.Background(), BulkDelete, tooMany, "")
	assertValidation(t, err)

	_, err = f.svc.ApplyBulk(context.Background(), BulkUpdateStatus, []uuid.UUID{uuid.New()}, "archived")
	assertValidation(t, err)

	_, err = f.svc.ApplyBulk(context.Background(), BulkAction("merge"), []uuid.UUID{uuid.New()}, "")
	assertValidation(t, err)
}

// -- Slot query --

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t, testConfig())
	f.provider.Availability = WeeklyAvailability{
		time.Monday: {{Start: 9 * 60, End: 12 * 60}},
	}

	result, err := f.svc.AvailableSlots(context.Background(), SlotQuery{
		ProviderID:      f.provider.ID,
		Date:            mustTime(t, "2026-03-02T00:00:00Z"),
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(result.AvailableSlots) != 11 {
		t.Errorf("slots = %d, want 11", len(result.AvailableSlots))
	}
	if result.TotalSlots != 11 {
		t.Errorf("total = %d, want 11", result.TotalSlots)
	}
	if result.ExistingAppointmentCount != 0 {
		t.Errorf("existing = %d, want 0", result.ExistingAppointmentCount)
	}

	if _, err := f.svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30)); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	result, err = f.svc.AvailableSlots(context.Background(), SlotQuery{
		ProviderID:      f.provider.ID,
		Date:            mustTime(t, "2026-03-02T00:00:00Z"),
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if result.ExistingAppointmentCount != 1 {
		t.Errorf("existing = %d, want 1", result.ExistingAppointmentCount)
	}
	if result.TotalSlots != 11 {
		t.Errorf("total should ignore bookings, got %d", result.TotalSlots)
	}
	if len(result.AvailableSlots) >= result.TotalSlots {
		t.Errorf("booked calendar must yield fewer slots: %d of %d", len(result.AvailableSlots), result.TotalSlots)
	}

	// Every remaining slot still books cleanly.
	for _, slot := range result.AvailableSlots {
		conflicts := FindConflicts(Candidate{
			ProviderID:      f.provider.ID,
			StartAt:         slot.Start,
			DurationMinutes: 30,
		}, mapValues(f.repo.appts))
		if len(conflicts) != 0 {
			t.Errorf("generated slot %v would conflict", slot.Start)
		}
	}
}

func mapValues(m map[uuid.UUID]*Appointment) []Appointment {
	out := make([]Appointment, 0, len(m))
	for _, a := range m {
		out = append(out, *a)
	}
	return out
}

// -- Utilization --

func TestLocationUtilizationScenario(t *testing.T) {
	f := newFixture(t, testConfig())
	f.location.Capacity = 2

	for i := 0; i < 3; i++ {
		a := makeAppointment(t, uuid.New(), "2026-03-02T14:00:00Z", 30, StatusConfirmed)
		a.LocationID = f.location.ID
		f.repo.appts[a.ID] = &a
	}

	location, buckets, err := f.svc.LocationUtilization(context.Background(), f.location.ID, mustTime(t, "2026-03-02T00:00:00Z"))
	if err != nil {
		t.Fatalf("LocationUtilization: %v", err)
	}
	b := buckets[14]
	if b.Available != 0 || b.IsAvailable {
		t.Errorf("14:00 bucket should have no availability, got %+v", b)
	}
	if !b.OverCapacity(location.Capacity) {
		t.Error("14:00 bucket should be over capacity")
	}
}

// -- Availability update --

func TestUpdateAvailability(t *testing.T) {
	f := newFixture(t, testConfig())

	bad := WeeklyAvailability{
		time.Monday: {
			{Start: 9 * 60, End: 12 * 60},
			{Start: 11 * 60, End: 14 * 60},
		},
	}
	err := f.svc.UpdateAvailability(context.Background(), f.provider.ID, bad)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for overlapping ranges, got %v", err)
	}

	good := WeeklyAvailability{
		time.Monday:  {{Start: 8 * 60, End: 12 * 60}},
		time.Tuesday: {{Start: 13 * 60, End: 17 * 60}},
	}
	if err := f.svc.UpdateAvailability(context.Background(), f.provider.ID, good); err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}
	if len(f.provider.Availability[time.Tuesday]) != 1 {
		t.Error("availability not persisted")
	}

	if err := f.svc.UpdateAvailability(context.Background(), uuid.New(), good); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

// -- Overlap report --

func TestProviderOverlapReport(t *testing.T) {
	f := newFixture(t, testConfig())

	// Inject overlapping rows directly, bypassing the guarded write path,
	// the way legacy data would look.
	a := makeAppointment(t, f.provider.ID, "2026-03-02T10:00:00Z", 60, StatusConfirmed)
	b := makeAppointment(t, f.provider.ID, "2026-03-02T10:30:00Z", 60, StatusConfirmed)
	f.repo.appts[a.ID] = &a
	f.repo.appts[b.ID] = &b

	pairs, err := f.svc.ProviderOverlapReport(context.Background(), f.provider.ID,
		mustTime(t, "2026-03-02T00:00:00Z"), mustTime(t, "2026-03-03T00:00:00Z"))
	if err != nil {
		t.Fatalf("ProviderOverlapReport: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 overlapping pair, got %d", len(pairs))
	}

	_, err = f.svc.ProviderOverlapReport(context.Background(), f.provider.ID,
		mustTime(t, "2026-03-03T00:00:00Z"), mustTime(t, "2026-03-02T00:00:00Z"))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for inverted range, got %v", err)
	}
}

// -- Audit resilience --

func TestAuditFailureDoesNotBlockBooking(t *testing.T) {
	f := newFixture(t, testConfig())

	// The audit sink contract is fire-and-forget; a panicking or failing
	// recorder must not surface. NopRecorder stands in for an outage.
	svc := NewService(f.repo, f.locker, audit.NopRecorder{}, f.notifier, testConfig(), time.UTC, zerolog.Nop())

	if _, err := svc.Book(context.Background(), f.bookRequest(t, "2026-03-02T10:00:00Z", 30)); err != nil {
		t.Fatalf("Book with inert audit sink: %v", err)
	}
}
