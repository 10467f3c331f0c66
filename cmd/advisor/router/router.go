// Package router configures the advisor's HTTP API.
//
// Routes configured:
//   - GET  /healthz                                 - Health check
//   - GET  /metrics                                 - Prometheus metrics
//   - POST /api/jobs/{jobID}/events                 - Append a lifecycle event
//   - GET  /api/jobs/{jobID}/timeline               - Ordered job timeline
//   - POST /api/targets/{target}/completions        - Record a completed job
//   - GET  /api/targets/{target}/wait[?quantile=p90] - Average (or quantile) wait
//   - GET  /api/targets/{target}/start              - Estimated start time
//   - POST /api/recommendations                     - Rank a posted target snapshot
//   - GET  /api/users/{userID}/recommendations      - Rank the user's cached targets
//   - POST /api/users/{userID}/notifications        - Send a notification
//   - GET  /api/users/{userID}/notifications        - List notifications
//   - POST /api/users/{userID}/notifications/read   - Mark one or all as read
//   - GET  /api/users/{userID}/jobs                 - Cached jobs, filtered by backend, status or tags
//   - GET  /api/users/{userID}/analytics            - Report from cached jobs or history
//   - POST /api/users/{userID}/analytics            - Report from a posted job list
//   - PUT  /api/users/{userID}/session              - Track the user for refresh
//   - DELETE /api/users/{userID}/session            - Stop tracking the user
//
// Validation failures from the components map to 400 Bad Request.
package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/jobadvisor/cmd/advisor/metrics"
	"github.com/HatiCode/jobadvisor/pkg/analytics"
	"github.com/HatiCode/jobadvisor/pkg/history"
	"github.com/HatiCode/jobadvisor/pkg/httpx"
	"github.com/HatiCode/jobadvisor/pkg/notify"
	"github.com/HatiCode/jobadvisor/pkg/predictor"
	"github.com/HatiCode/jobadvisor/pkg/recommend"
	"github.com/HatiCode/jobadvisor/pkg/session"
	"github.com/HatiCode/jobadvisor/pkg/source"
)

// Deps are the components served by the API.
type Deps struct {
	History    *history.Store
	Predictor  *predictor.Predictor
	Notifier   *notify.Dispatcher
	Aggregator *analytics.Aggregator
	Sessions   *session.Cache

	// Metrics is optional.
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Ready backs /healthz. Nil always reports healthy.
	Ready func() error
}

type api struct {
	Deps
	logger *slog.Logger
}

// SetupRoutes builds the advisor's HTTP handler.
func SetupRoutes(d Deps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Ready == nil {
		d.Ready = func() error { return nil }
	}
	a := &api{Deps: d, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RecoveryMiddleware(logger))
	r.Use(httpx.LoggingMiddleware(logger))

	r.Get("/healthz", httpx.HealthHandlerWithCheck(d.Ready))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs/{jobID}/events", a.recordEvent)
		r.Get("/jobs/{jobID}/timeline", a.timeline)

		r.Post("/targets/{target}/completions", a.recordCompletion)
		r.Get("/targets/{target}/wait", a.averageWait)
		r.Get("/targets/{target}/start", a.startTime)

		r.Post("/recommendations", a.recommend)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/recommendations", a.userRecommendations)
			r.Post("/notifications", a.sendNotification)
			r.Get("/notifications", a.listNotifications)
			r.Post("/notifications/read", a.markRead)
			r.Get("/jobs", a.listJobs)
			r.Get("/analytics", a.cachedAnalytics)
			r.Post("/analytics", a.postedAnalytics)
			r.Put("/session", a.trackUser)
			r.Delete("/session", a.forgetUser)
		})
	})

	return r
}

type eventRequest struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (a *api) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	var ts *time.Time
	if req.Timestamp != "" {
		t, ok := history.ParseTimestamp(req.Timestamp)
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid timestamp "+strconv.Quote(req.Timestamp))
			return
		}
		ts = &t
	}

	ev, err := a.History.RecordEvent(r.Context(), chi.URLParam(r, "jobID"), req.EventType, ts, req.Data)
	if err != nil {
		a.writeComponentError(w, err)
		return
	}
	if a.Metrics != nil {
		a.Metrics.RecordEvent(ev.Type)
	}
	a.writeJSON(w, http.StatusCreated, ev)
}

func (a *api) timeline(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	a.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"events": a.History.Timeline(jobID),
	})
}

type completionRequest struct {
	JobID     string  `json:"job_id"`
	QueueTime float64 `json:"queue_time"`
	RunTime   float64 `json:"run_time"`
}

func (a *api) recordCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	target := chi.URLParam(r, "target")
	if err := a.Predictor.RecordCompletion(r.Context(), req.JobID, target, req.QueueTime, req.RunTime); err != nil {
		a.writeComponentError(w, err)
		return
	}
	if a.Metrics != nil {
		a.Metrics.RecordCompletion(target)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) averageWait(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	resp := map[string]any{
		"target":       target,
		"average_wait": a.Predictor.EstimateAverageWait(target),
	}

	q, err := predictor.ParseQuantileLevel(r.URL.Query().Get("quantile"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if q > 0 {
		resp["quantile"] = predictor.FormatQuantileLevel(q)
		if seconds, ok := a.Predictor.WaitQuantile(target, q); ok {
			resp["quantile_wait"] = predictor.FormatWait(seconds)
			resp["quantile_wait_seconds"] = seconds
		} else {
			resp["quantile_wait"] = predictor.Unknown
		}
	}

	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) startTime(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	jobID := r.URL.Query().Get("job_id")

	raw := r.URL.Query().Get("queue_length")
	if raw == "" {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "queue_length parameter required")
		return
	}
	queueLength, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "queue_length must be an integer")
		return
	}

	start, err := a.Predictor.EstimateStartTime(jobID, target, queueLength)
	if err != nil {
		a.writeComponentError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":          jobID,
		"target":          target,
		"queue_length":    queueLength,
		"estimated_start": start,
	})
}

type recommendRequest struct {
	Targets []recommend.TargetStatus `json:"targets"`
}

func (a *api) recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := recommend.ValidateAll(req.Targets); err != nil {
		a.writeComponentError(w, err)
		return
	}
	a.writeRecommendations(w, req.Targets)
}

func (a *api) userRecommendations(w http.ResponseWriter, r *http.Request) {
	targets, _ := a.Sessions.Targets(chi.URLParam(r, "userID"))
	a.writeRecommendations(w, targets)
}

func (a *api) writeRecommendations(w http.ResponseWriter, targets []recommend.TargetStatus) {
	resp := map[string]any{
		"recommendations": recommend.Recommend(targets),
		"least_busy":      nil,
	}
	if t, ok := recommend.LeastBusy(targets); ok {
		resp["least_busy"] = t
	}
	a.writeJSON(w, http.StatusOK, resp)
}

type notificationRequest struct {
	Title   string          `json:"title"`
	Message string          `json:"message"`
	JobInfo *notify.JobInfo `json:"job_info,omitempty"`
}

func (a *api) sendNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	n, err := a.Notifier.Send(r.Context(), chi.URLParam(r, "userID"), req.Title, req.Message, req.JobInfo)
	if err != nil {
		a.writeComponentError(w, err)
		return
	}
	if a.Metrics != nil {
		a.Metrics.RecordNotification()
	}
	a.writeJSON(w, http.StatusCreated, n)
}

func (a *api) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	a.writeJSON(w, http.StatusOK, map[string]any{
		"notifications": a.Notifier.List(userID, unreadOnly),
		"unread":        a.Notifier.UnreadCount(userID),
	})
}

func (a *api) markRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var index *int
	if raw := r.URL.Query().Get("index"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "index must be an integer")
			return
		}
		index = &i
	}

	a.Notifier.MarkRead(r.Context(), userID, index)
	a.writeJSON(w, http.StatusOK, map[string]any{
		"unread": a.Notifier.UnreadCount(userID),
	})
}

type jobView struct {
	source.JobUpdate
	StatusClass string `json:"status_class"`
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := analytics.Filter{
		Backend: q.Get("backend"),
		Status:  q.Get("status"),
		Tags:    analytics.ParseTags(q.Get("tags")),
	}

	updates, _ := a.Sessions.Jobs(chi.URLParam(r, "userID"))
	jobs := make([]jobView, 0, len(updates))
	for _, u := range updates {
		if filter.Match(u.JobRecord) {
			jobs = append(jobs, jobView{JobUpdate: u, StatusClass: analytics.StatusClass(u.Status)})
		}
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (a *api) cachedAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	updates, _ := a.Sessions.Jobs(userID)
	jobs := make([]analytics.JobRecord, 0, len(updates))
	for _, u := range updates {
		jobs = append(jobs, u.JobRecord)
	}
	a.writeJSON(w, http.StatusOK, a.Aggregator.Report(userID, jobs))
}

type analyticsRequest struct {
	Jobs []analytics.JobRecord `json:"jobs"`
}

func (a *api) postedAnalytics(w http.ResponseWriter, r *http.Request) {
	var req analyticsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.Aggregator.Report(chi.URLParam(r, "userID"), req.Jobs))
}

func (a *api) trackUser(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Touch(chi.URLParam(r, "userID"))
	if a.Metrics != nil {
		a.Metrics.SetTrackedUsers(a.Sessions.Len())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) forgetUser(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Forget(chi.URLParam(r, "userID"))
	if a.Metrics != nil {
		a.Metrics.SetTrackedUsers(a.Sessions.Len())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) writeComponentError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrInvalidInput) ||
		errors.Is(err, predictor.ErrInvalidInput) ||
		errors.Is(err, notify.ErrInvalidInput) ||
		errors.Is(err, recommend.ErrInvalidInput) {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	a.logger.Error("request failed", "error", err)
	httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		a.logger.Error("failed to write JSON response", "error", err)
	}
}
