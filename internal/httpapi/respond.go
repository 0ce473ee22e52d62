package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"masar/queue-service/internal/store"
)

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeMappedError(w http.ResponseWriter, err error) {
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: responseError{
			Code:    "validation_failed",
			Message: "invalid fields: " + strings.Join(ve.Fields, ", "),
			Fields:  ve.Fields,
		}})
		return
	}
	status, code, message := mapError(err)
	writeError(w, status, code, message)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrServiceUnavailable):
		return http.StatusConflict, "service_unavailable", "service not available today"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusNotFound, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrNoEligibleTicket):
		return http.StatusNotFound, "no_eligible_ticket", "tickets are waiting but none match your services"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrWrongCounter):
		return http.StatusConflict, "counter_mismatch", "ticket assigned to different counter"
	case errors.Is(err, store.ErrCounterDisabled):
		return http.StatusConflict, "counter_disabled", "counter is disabled"
	case errors.Is(err, store.ErrSessionInvalid):
		return http.StatusUnauthorized, "unauthorized", "invalid or expired session"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "wrong username or password"
	case errors.Is(err, store.ErrOutsideWorkHours):
		return http.StatusConflict, "outside_work_hours", "the office is closed right now"
	case errors.Is(err, store.ErrWindowMismatch):
		return http.StatusConflict, "window_mismatch", "no open feedback window for this ticket"
	case errors.Is(err, store.ErrDuplicateUsername):
		return http.StatusConflict, "duplicate_username", "username already taken"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
