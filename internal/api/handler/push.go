package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/api/respond"
	"github.com/cnutodo/pushsched/internal/notifications"
	"github.com/cnutodo/pushsched/internal/push"
)

const maxBodyBytes = 1 << 20

// ScheduleRequest is the body of POST /scheduleNotification.
type ScheduleRequest struct {
	Subscription *push.Subscription `json:"subscription"`
	PushAlarms   []alarmstore.Alarm `json:"push_alarms"`
}

// StatusResponse is returned by subscribe and unsubscribe.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Subscribe stores or refreshes a push subscription.
// @Summary Register a push subscription
// @Tags push
// @Accept json
// @Produce json
// @Param subscription body push.Subscription true "PushSubscription JSON"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} respond.ErrorResponse
// @Router /subscribe [post]
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var sub push.Subscription
	if !decode(w, r, &sub) {
		return
	}
	if err := sub.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", err.Error())
		return
	}

	created, err := h.svc.Subscribe(r.Context(), sub)
	if err != nil {
		writeServiceError(w, r, "subscribe", err)
		return
	}
	msg := "Subscription updated"
	if created {
		msg = "Subscription saved"
	}
	respond.WriteJSONObject(w, http.StatusOK, StatusResponse{Success: true, Message: msg})
}

// Unsubscribe removes a subscription with all its pending alarms.
// @Summary Remove a push subscription
// @Tags push
// @Accept json
// @Produce json
// @Param subscription body push.Subscription true "PushSubscription JSON"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /unsubscribe [post]
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var sub push.Subscription
	if !decode(w, r, &sub) {
		return
	}
	if err := sub.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", err.Error())
		return
	}

	res, err := h.svc.Unsubscribe(r.Context(), sub)
	if err != nil {
		writeServiceError(w, r, "unsubscribe", err)
		return
	}
	msg := "Unsubscribed successfully"
	if !res.Removed {
		msg = "Subscription not found"
	}
	respond.WriteJSONObject(w, http.StatusOK, StatusResponse{Success: true, Message: msg})
}

// ScheduleNotification replaces the subscriber's pending alarms.
// @Summary Replace a subscriber's schedule
// @Description Clears every pending alarm of the subscription and schedules the submitted ones. Alarms within the same minute are collapsed.
// @Tags push
// @Accept json
// @Produce json
// @Param request body ScheduleRequest true "Subscription and alarms"
// @Success 200 {object} notifications.ScheduleResult
// @Failure 400 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /scheduleNotification [post]
func (h *Handler) ScheduleNotification(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Subscription == nil || req.PushAlarms == nil {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_FIELDS", "subscription and push_alarms are required")
		return
	}
	if err := req.Subscription.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", err.Error())
		return
	}

	res, err := h.svc.Schedule(r.Context(), *req.Subscription, req.PushAlarms)
	if err != nil {
		writeServiceError(w, r, "schedule", err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, res)
}

// VAPIDPublicKey returns the key clients pass as applicationServerKey.
// @Summary VAPID public key
// @Tags push
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} respond.ErrorResponse
// @Router /vapidPublicKey [get]
func (h *Handler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		respond.WriteError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "Push delivery is not configured")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]string{"publicKey": h.vapidPublicKey})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "MALFORMED_BODY", "Request body must be valid JSON", err.Error())
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, notifications.ErrConcurrentRequest):
		respond.WriteError(w, http.StatusConflict, "CONCURRENT_REQUEST", "Another request for this subscription is in progress")
	case errors.Is(err, push.ErrInvalidSubscription):
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", err.Error())
	case errors.Is(err, notifications.ErrShuttingDown):
		respond.WriteError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down")
	default:
		internalError(w, r, op, err)
	}
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.ErrorContext(r.Context(), op+" failed", "error", err)
	respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}
