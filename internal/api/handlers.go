package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/adherence"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
	"github.com/hackgods/medication-adherence-engine/internal/notify"
	"github.com/hackgods/medication-adherence-engine/internal/reminder"
	"github.com/hackgods/medication-adherence-engine/internal/stock"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func doseResponse(d *dose.DoseInstance) DoseResponse {
	return DoseResponse{
		ID:           d.ID,
		ItemID:       d.ItemID,
		DueAt:        d.DueAt,
		Status:       string(d.Status),
		TakenAt:      d.TakenAt,
		DelayMinutes: d.DelayMinutes,
	}
}

func materializeDosesHandler(svc *dose.Service, defaultWindow time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_item_id", "itemID must be a valid UUID")
			return
		}

		var req MaterializeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		now := svc.Now()
		windowEnd := req.WindowEnd
		if windowEnd.IsZero() {
			windowEnd = now.Add(defaultWindow)
		}
		if !windowEnd.After(now) {
			writeError(w, http.StatusBadRequest, "invalid_window", "window_end must be in the future")
			return
		}

		var created int
		if req.Rematerialize {
			created, err = svc.Rematerialize(r.Context(), itemID, windowEnd)
		} else {
			created, err = svc.Materialize(r.Context(), itemID, now, windowEnd)
		}
		if err != nil {
			handleDoseError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, MaterializeResponse{Created: created})
	}
}

func doseActionHandler(svc *dose.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_dose_id", "id must be a valid UUID")
			return
		}

		var req DoseActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var updated *dose.DoseInstance
		switch req.Action {
		case "taken":
			at := svc.Now()
			if req.At != nil {
				at = *req.At
			}
			updated, err = svc.RecordTaken(r.Context(), id, at)
		case "skipped":
			updated, err = svc.RecordSkipped(r.Context(), id)
		case "missed":
			updated, err = svc.RecordMissed(r.Context(), id)
		default:
			writeError(w, http.StatusBadRequest, "invalid_action", "action must be one of taken, skipped, missed")
			return
		}
		if err != nil {
			handleDoseError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, doseResponse(updated))
	}
}

func listDosesHandler(svc *dose.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := resolveUser(w, r)
		if !ok {
			return
		}

		now := svc.Now()
		from, to := now.Add(-24*time.Hour), now.Add(24*time.Hour)
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
				return
			}
			from = t
		}
		if v := r.URL.Query().Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
				return
			}
			to = t
		}

		doses, err := svc.ListByUser(r.Context(), userID, from, to)
		if err != nil {
			handleDoseError(w, err)
			return
		}

		out := make([]DoseResponse, 0, len(doses))
		for i := range doses {
			out = append(out, doseResponse(&doses[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func projectionsHandler(f *stock.Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("item_id"); v != "" {
			itemID, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_item_id", "item_id must be a valid UUID")
				return
			}
			p, err := f.ProjectionForItem(r.Context(), itemID)
			if err != nil {
				handleStockError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, []ProjectionResponse{projectionResponse(*p)})
			return
		}

		userID, ok := resolveUser(w, r)
		if !ok {
			return
		}

		projections, err := f.Projections(r.Context(), userID)
		if err != nil {
			handleStockError(w, err)
			return
		}

		out := make([]ProjectionResponse, 0, len(projections))
		for _, p := range projections {
			out = append(out, projectionResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func projectionResponse(p stock.Projection) ProjectionResponse {
	return ProjectionResponse{
		ItemID:        p.ItemID,
		ItemName:      p.ItemName,
		UnitsLeft:     p.UnitsLeft,
		DailyAvg:      p.DailyAvg,
		DaysRemaining: p.DaysRemaining,
		Trend:         string(p.Trend),
		ProjectedEnd:  p.ProjectedEnd,
	}
}

func refillHandler(f *stock.Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_item_id", "itemID must be a valid UUID")
			return
		}

		var req RefillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Units <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_units", "units must be positive")
			return
		}

		at := f.Now()
		if req.At != nil {
			at = *req.At
		}

		if _, err := f.RecordRefill(r.Context(), itemID, req.Units, at); err != nil {
			handleStockError(w, err)
			return
		}

		p, err := f.ProjectionForItem(r.Context(), itemID)
		if err != nil {
			handleStockError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projectionResponse(*p))
	}
}

func projectedEndHandler(f *stock.Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_item_id", "itemID must be a valid UUID")
			return
		}

		var req ProjectedEndRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := f.SetProjectedEnd(r.Context(), itemID, req.ProjectedEndAt); err != nil {
			handleStockError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func materializeAllHandler(svc *dose.Service, horizon time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := svc.Now()
		created, err := svc.MaterializeAll(r.Context(), now, now.Add(horizon))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, MaterializeResponse{Created: created})
	}
}

func generateIntentsHandler(s *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created, err := s.GenerateIntents(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, GenerateResponse{Created: created})
	}
}

func dispatchDueHandler(d *notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dispatched, delivered, err := d.DispatchDue(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, DispatchResponse{Dispatched: dispatched, Delivered: delivered})
	}
}

func streakHandler(e *adherence.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUser(w, r)
		if !ok {
			return
		}

		res, err := e.Streak(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, StreakResponse{
			Current:          res.Current,
			Longest:          res.Longest,
			TodayAdherence:   res.TodayAdherence,
			FrozenYesterday:  res.FrozenYesterday,
			RecoveryProgress: res.RecoveryProgress,
			RecoveryTarget:   res.RecoveryTarget,
		})
	}
}

func freezeHandler(e *adherence.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUser(w, r)
		if !ok {
			return
		}

		if err := e.UseFreeze(r.Context(), userID); err != nil {
			if errors.Is(err, adherence.ErrFreezeAlreadyUsed) {
				writeError(w, http.StatusConflict, "freeze_already_used", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func alertsHandler(e *adherence.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUser(w, r)
		if !ok {
			return
		}

		alerts, err := e.CriticalAlerts(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]AlertResponse, 0, len(alerts))
		for _, a := range alerts {
			out = append(out, AlertResponse{
				ID:         a.ID,
				Type:       string(a.Type),
				Severity:   string(a.Severity),
				ItemID:     a.ItemID,
				Message:    a.Message,
				DetectedAt: a.DetectedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func dismissAlertHandler(e *adherence.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUser(w, r)
		if !ok {
			return
		}

		alertID := chi.URLParam(r, "alertID")
		if alertID == "" {
			writeError(w, http.StatusBadRequest, "invalid_alert_id", "alertID is required")
			return
		}

		if err := e.Dismiss(r.Context(), userID, alertID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func metricsHandler(d *notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := d.Metrics(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := MetricsResponse{
			Total:       m.Total,
			Delivered:   m.Delivered,
			SuccessRate: m.SuccessRate,
			ByStatus:    make(map[string]int64, len(m.ByStatus)),
			ByChannel:   make(map[string]int64, len(m.ByChannel)),
		}
		for k, v := range m.ByStatus {
			resp.ByStatus[string(k)] = v
		}
		for k, v := range m.ByChannel {
			resp.ByChannel[string(k)] = v
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// pathUser parses {id} and enforces that the caller may act for that user.
func pathUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	if !canAccessUser(r.Context(), userID) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot access another user's data")
		return uuid.Nil, false
	}
	return userID, true
}

// resolveUser picks the acting user: the authenticated identity, or an
// explicit user_id query parameter for automation callers.
func resolveUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if id, ok := GetUserID(r.Context()); ok {
		return id, true
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
		return uuid.Nil, false
	}
	return userID, true
}

func handleDoseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dose.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item_not_found", err.Error())
	case errors.Is(err, dose.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, dose.ErrDoseNotFound):
		writeError(w, http.StatusNotFound, "dose_not_found", err.Error())
	case errors.Is(err, dose.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "dose_already_recorded", err.Error())
	case errors.Is(err, dose.ErrDoseBeingRecorded):
		writeError(w, http.StatusConflict, "dose_being_recorded", "dose is being recorded, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleStockError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stock.ErrStockNotFound):
		writeError(w, http.StatusNotFound, "stock_not_found", err.Error())
	case errors.Is(err, dose.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
