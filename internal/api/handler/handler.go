// Package handler provides HTTP handlers for all API endpoints.
// Handlers decode and validate requests, then call the notification service.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/api/respond"
	"github.com/cnutodo/pushsched/internal/notifications"
	"github.com/cnutodo/pushsched/internal/push"
)

// Scheduler is the notification service as seen by handlers.
type Scheduler interface {
	Subscribe(ctx context.Context, sub push.Subscription) (bool, error)
	Unsubscribe(ctx context.Context, sub push.Subscription) (*notifications.UnsubscribeResult, error)
	Schedule(ctx context.Context, sub push.Subscription, alarms []alarmstore.Alarm) (*notifications.ScheduleResult, error)
	Stats() notifications.Stats
}

// Pinger is a backend that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	svc            Scheduler
	alarms         Pinger
	subscriptions  Pinger
	vapidPublicKey string
	started        time.Time
}

// New creates a Handler with shared dependencies.
func New(svc Scheduler, alarms, subscriptions Pinger, vapidPublicKey string) *Handler {
	return &Handler{
		svc:            svc,
		alarms:         alarms,
		subscriptions:  subscriptions,
		vapidPublicKey: vapidPublicKey,
		started:        time.Now(),
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "pushsched",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies the alarm and subscription backends.
// @Summary Storage health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, p := range map[string]Pinger{"alarms": h.alarms, "subscriptions": h.subscriptions} {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "unreachable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	respond.WriteJSONObject(w, code, map[string]interface{}{
		"status":    status,
		"stores":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckScheduler returns timer and delivery counters.
// @Summary Scheduler health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/scheduler [get]
func (h *Handler) HealthCheckScheduler(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"scheduler": h.svc.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
