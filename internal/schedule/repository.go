package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrOverlapDetected is returned by InsertAtomic / UpdateAtomic when the
// in-transaction overlap re-check finds a competing row. It signals that a
// concurrent booking won the race after the application-level check passed.
var ErrOverlapDetected = errors.New("overlapping appointment detected at write time")

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Range queries backing conflict detection, slot generation and
	// capacity accounting. Both filter on start_at within [from, to).
	ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListLocationAppointments(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// InsertAtomic re-runs the provider overlap check and inserts the row
	// in one transaction, returning ErrOverlapDetected on loss.
	InsertAtomic(ctx context.Context, appt *Appointment) error

	// UpdateAtomic moves an appointment to a new start/duration with the
	// same in-transaction re-check, excluding the row itself.
	UpdateAtomic(ctx context.Context, appt *Appointment) error

	// UpdateStatus performs a compare-and-set from -> to and returns the
	// updated row, or ErrAppointmentNotFound if the row was missing or no
	// longer in the expected status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	UpdateProviderAvailability(ctx context.Context, providerID uuid.UUID, availability WeeklyAvailability) error

	// Bulk operations run as single statements and report rows affected.
	BulkDelete(ctx context.Context, ids []uuid.UUID) (int64, error)
	BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status Status) (int64, error)
}
