package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medsched/clinic-scheduling/internal/schedule"
)

type BookAppointmentRequest struct {
	ProviderID      string `json:"provider_id"`
	LocationID      string `json:"location_id"`
	PatientID       string `json:"patient_id"`
	Start           string `json:"start"` // RFC 3339
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Status          string `json:"status,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	Start           string  `json:"start"` // RFC 3339
	DurationMinutes int     `json:"duration_minutes"`
	Notes           *string `json:"notes,omitempty"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

type BulkRequest struct {
	Action         string   `json:"action"`
	AppointmentIDs []string `json:"appointment_ids"`
	Data           *struct {
		Status string `json:"status"`
	} `json:"data,omitempty"`
}

type AvailabilityUpdateRequest struct {
	Availability schedule.WeeklyAvailability `json:"availability"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	LocationID      uuid.UUID `json:"location_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
}

func toAppointmentResponse(a *schedule.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		LocationID:      a.LocationID,
		PatientID:       a.PatientID,
		Start:           a.StartAt,
		End:             a.EndAt(),
		DurationMinutes: a.DurationMinutes,
		Type:            string(a.Type),
		Status:          string(a.Status),
		Notes:           a.Notes,
	}
}

type ConflictResponse struct {
	Error     string                `json:"error"`
	Details   string                `json:"details,omitempty"`
	Conflicts []AppointmentResponse `json:"conflicts"`
}

type UtilizationResponse struct {
	LocationID uuid.UUID            `json:"location_id"`
	Capacity   int                  `json:"capacity"`
	Date       string               `json:"date"`
	Buckets    []HourBucketResponse `json:"buckets"`
}

type HourBucketResponse struct {
	Hour           int     `json:"hour"`
	Occupied       int     `json:"occupied"`
	Available      int     `json:"available"`
	IsAvailable    bool    `json:"is_available"`
	UtilizationPct float64 `json:"utilization_pct"`
	OverCapacity   bool    `json:"over_capacity"`
}

type OverlapPairResponse struct {
	A AppointmentResponse `json:"a"`
	B AppointmentResponse `json:"b"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
