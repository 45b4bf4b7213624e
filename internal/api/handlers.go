package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/schedule"
)

func bookAppointmentHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		locationID, err := uuid.Parse(req.LocationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_location_id", "location_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
			return
		}

		appt, err := svc.Book(r.Context(), schedule.BookRequest{
			ProviderID:      providerID,
			LocationID:      locationID,
			PatientID:       patientID,
			StartAt:         start,
			DurationMinutes: req.DurationMinutes,
			Type:            schedule.VisitType(req.Type),
			Status:          schedule.Status(req.Status),
			Notes:           req.Notes,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, start, req.DurationMinutes, req.Notes)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req StatusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.TransitionStatus(r.Context(), id, schedule.Status(req.Status))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func bulkHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		ids := make([]uuid.UUID, 0, len(req.AppointmentIDs))
		for _, raw := range req.AppointmentIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_ids must be valid UUIDs")
				return
			}
			ids = append(ids, id)
		}

		var status schedule.Status
		if req.Data != nil {
			status = schedule.Status(req.Data.Status)
		}

		result, err := svc.ApplyBulk(r.Context(), schedule.BulkAction(req.Action), ids, status)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func slotsHandler(svc *schedule.Service, tz *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		providerID, err := uuid.Parse(q.Get("provider_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		date, err := time.ParseInLocation("2006-01-02", q.Get("date"), tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		duration, err := strconv.Atoi(q.Get("duration_minutes"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be an integer")
			return
		}

		granularity := 0
		if raw := q.Get("granularity_minutes"); raw != "" {
			granularity, err = strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_granularity", "granularity_minutes must be an integer")
				return
			}
		}

		result, err := svc.AvailableSlots(r.Context(), schedule.SlotQuery{
			ProviderID:         providerID,
			Date:               date,
			DurationMinutes:    duration,
			GranularityMinutes: granularity,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func utilizationHandler(svc *schedule.Service, tz *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}
		date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		location, buckets, err := svc.LocationUtilization(r.Context(), id, date)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := UtilizationResponse{
			LocationID: location.ID,
			Capacity:   location.Capacity,
			Date:       date.Format("2006-01-02"),
			Buckets:    make([]HourBucketResponse, len(buckets)),
		}
		for i, b := range buckets {
			resp.Buckets[i] = HourBucketResponse{
				Hour:           b.Hour,
				Occupied:       b.Occupied,
				Available:      b.Available,
				IsAvailable:    b.IsAvailable,
				UtilizationPct: b.UtilizationPct,
				OverCapacity:   b.OverCapacity(location.Capacity),
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func providerConflictsHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		from, err := time.Parse(time.RFC3339, q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
			return
		}

		pairs, err := svc.ProviderOverlapReport(r.Context(), id, from, to)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := make([]OverlapPairResponse, len(pairs))
		for i, p := range pairs {
			a, b := p.A, p.B
			resp[i] = OverlapPairResponse{
				A: toAppointmentResponse(&a),
				B: toAppointmentResponse(&b),
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"overlaps": resp})
	}
}

func updateAvailabilityHandler(svc *schedule.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req AvailabilityUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.UpdateAvailability(r.Context(), id, req.Availability); err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps the service error taxonomy onto HTTP statuses.
// Persistence failures are logged with the raw cause and surfaced as a
// generic internal error.
func handleServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var (
		validationErr *schedule.ValidationError
		conflictErr   *schedule.ConflictError
		capacityErr   *schedule.CapacityExceededError
		transitionErr *schedule.InvalidTransitionError
		persistErr    *schedule.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_error", validationErr.Error())
	case errors.As(err, &conflictErr):
		resp := ConflictResponse{
			Error:     "booking_conflict",
			Details:   conflictErr.Error(),
			Conflicts: make([]AppointmentResponse, len(conflictErr.Conflicts)),
		}
		for i := range conflictErr.Conflicts {
			resp.Conflicts[i] = toAppointmentResponse(&conflictErr.Conflicts[i])
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &capacityErr):
		writeError(w, http.StatusConflict, "capacity_exceeded", capacityErr.Error())
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, "invalid_status_transition", transitionErr.Error())
	case errors.Is(err, schedule.ErrProviderNotFound),
		errors.Is(err, schedule.ErrLocationNotFound),
		errors.Is(err, schedule.ErrPatientNotFound),
		errors.Is(err, schedule.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, schedule.ErrProviderInactive),
		errors.Is(err, schedule.ErrLocationInactive):
		writeError(w, http.StatusConflict, "resource_inactive", err.Error())
	case errors.Is(err, schedule.ErrProviderBusy):
		writeError(w, http.StatusConflict, "provider_being_booked", "provider is currently being booked, please retry shortly")
	case errors.As(err, &persistErr):
		log.Error().Err(persistErr).Str("request_id", GetRequestID(r.Context())).Msg("persistence failure")
		writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	default:
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}
