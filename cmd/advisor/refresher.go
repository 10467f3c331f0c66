// Package main implements the background refresh loop.
//
// The Refresher runs continuously via Run(), executing Tick() at regular
// intervals. Each tick pulls every tracked user's jobs and target statuses
// from the job feed, caches them for the HTTP API, and turns job state changes
// into history events, queue samples and notifications.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HatiCode/jobadvisor/cmd/advisor/metrics"
	"github.com/HatiCode/jobadvisor/pkg/analytics"
	"github.com/HatiCode/jobadvisor/pkg/history"
	"github.com/HatiCode/jobadvisor/pkg/notify"
	"github.com/HatiCode/jobadvisor/pkg/predictor"
	"github.com/HatiCode/jobadvisor/pkg/recommend"
	"github.com/HatiCode/jobadvisor/pkg/session"
	"github.com/HatiCode/jobadvisor/pkg/source"
)

// Refresher keeps the history, predictor and session cache in step with the
// job feed.
type Refresher struct {
	source     source.Source
	sessions   *session.Cache
	history    *history.Store
	predictor  *predictor.Predictor
	notifier   *notify.Dispatcher
	sessionTTL time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRefresher creates a Refresher. A zero sessionTTL keeps users tracked
// until they are forgotten explicitly. metrics may be nil.
func NewRefresher(
	src source.Source,
	sessions *session.Cache,
	h *history.Store,
	p *predictor.Predictor,
	n *notify.Dispatcher,
	sessionTTL time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		source:     src,
		sessions:   sessions,
		history:    h,
		predictor:  p,
		notifier:   n,
		sessionTTL: sessionTTL,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes the refresh loop at regular intervals.
// Blocks until context is canceled.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("starting refresh loop", "interval", interval, "source", r.source.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := r.Tick(ctx); err != nil {
		r.logger.Error("initial refresh tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error("refresh tick failed", "error", err)
			}
		}
	}
}

// Tick refreshes every tracked user once. A failing user is logged and
// skipped; Tick only returns an error when every user failed.
func (r *Refresher) Tick(ctx context.Context) error {
	start := time.Now()

	if r.sessionTTL > 0 {
		if n := r.sessions.Expire(r.sessionTTL); n > 0 {
			r.logger.Info("expired idle sessions", "count", n)
		}
	}

	users := r.sessions.Users()
	if r.metrics != nil {
		r.metrics.SetTrackedUsers(len(users))
	}

	failed := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.refreshUser(ctx, userID); err != nil {
			failed++
			r.logger.Error("failed to refresh user", "user_id", userID, "error", err)
			if r.metrics != nil {
				r.metrics.RecordError("refresher", "user_refresh_failed")
			}
		}
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordRefresh(duration.Seconds())
	}

	r.logger.Info("refresh tick complete",
		"users", len(users),
		"failed", failed,
		"total_ms", duration.Milliseconds(),
	)

	if len(users) > 0 && failed == len(users) {
		return fmt.Errorf("refresh failed for all %d users", failed)
	}
	return nil
}

func (r *Refresher) refreshUser(ctx context.Context, userID string) error {
	jobs, err := r.source.Jobs(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch jobs: %w", err)
	}
	targets, err := r.source.Targets(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch targets: %w", err)
	}

	r.sessions.SetJobs(userID, jobs)
	r.sessions.SetTargets(userID, r.validTargets(userID, targets))

	for _, job := range jobs {
		if job.JobID == "" {
			continue
		}
		if err := r.observe(ctx, userID, job); err != nil {
			return fmt.Errorf("job %s: %w", job.JobID, err)
		}
	}

	r.logger.Debug("refreshed user", "user_id", userID, "jobs", len(jobs), "targets", len(targets))
	return nil
}

// validTargets drops feed targets that cannot be scored.
func (r *Refresher) validTargets(userID string, targets []recommend.TargetStatus) []recommend.TargetStatus {
	valid := make([]recommend.TargetStatus, 0, len(targets))
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			r.logger.Warn("skipping invalid target from feed", "user_id", userID, "error", err)
			if r.metrics != nil {
				r.metrics.RecordError("refresher", "invalid_target")
			}
			continue
		}
		valid = append(valid, t)
	}
	return valid
}

// observe records whatever changed// observe records whatever changed about job since the last tick.
func (r *Refresher) observe(ctx context.Context, userID string, job source.JobUpdate) error {
	status := strings.ToUpper(job.Status)

	prev, seen := r.history.LastEvent(job.JobID, history.EventStatusChange)
	prevStatus, _ := prev.Data["status"].(string)
	if status != "" && (!seen || prevStatus != status) {
		data := map[string]any{"user_id": userID, "status": status}
		if seen {
			data["previous_status"] = prevStatus
		}
		if err := r.record(ctx, job.JobID, history.EventStatusChange, nil, data); err != nil {
			return err
		}
		if seen && isTerminal(status) {
			r.notifyStatus(ctx, userID, job, status)
		}
	}

	if job.HasBackend() {
		if _, ok := r.history.LastEvent(job.JobID, history.EventBackendAssigned); !ok {
			data := map[string]any{"user_id": userID, "backend": job.Backend}
			if err := r.record(ctx, job.JobID, history.EventBackendAssigned, nil, data); err != nil {
				return err
			}
		}
	}

	if job.QueuedAt != nil {
		if _, ok := r.history.LastEvent(job.JobID, history.EventQueued); !ok {
			if err := r.record(ctx, job.JobID, history.EventQueued, job.QueuedAt, map[string]any{"user_id": userID}); err != nil {
				return err
			}
		}
	}

	if job.StartedAt != nil {
		if _, ok := r.history.LastEvent(job.JobID, history.EventRunning); !ok {
			if err := r.record(ctx, job.JobID, history.EventRunning, job.StartedAt, map[string]any{"user_id": userID}); err != nil {
				return err
			}
		}
	}

	if analytics.IsSuccess(status) && job.HasBackend() {
		return r.recordCompletion(ctx, userID, job)
	}
	return nil
}

// recordCompletion feeds the predictor once per job. The completed event
// marks jobs already sampled, so restarts do not double count.
func (r *Refresher) recordCompletion(ctx context.Context, userID string, job source.JobUpdate) error {
	if !job.HasBackend() {
		return nil
	}
	if _, ok := r.history.LastEvent(job.JobID, history.EventCompleted); ok {
		return nil
	}
	queueTime, okQueue := job.QueueTime()
	runTime, okRun := job.RunTime()
	if !okQueue || !okRun {
		return nil
	}

	if err := r.predictor.RecordCompletion(ctx, job.JobID, job.Backend, queueTime, runTime); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordCompletion(job.Backend)
	}

	data := map[string]any{
		"user_id":    userID,
		"backend":    job.Backend,
		"queue_time": queueTime,
		"run_time":   runTime,
	}
	return r.record(ctx, job.JobID, history.EventCompleted, job.FinishedAt, data)
}

func (r *Refresher) record(ctx context.Context, jobID, eventType string, ts *time.Time, data map[string]any) error {
	if _, err := r.history.RecordEvent(ctx, jobID, eventType, ts, data); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	if r.metrics != nil {
		r.metrics.RecordEvent(eventType)
	}
	return nil
}

func (r *Refresher) notifyStatus(ctx context.Context, userID string, job source.JobUpdate, status string) {
	title := fmt.Sprintf("Job %s: %s", strings.ToLower(status), job.JobID)
	message := fmt.Sprintf("Job %s on %s finished with status %s", job.JobID, orUnknown(job.Backend), status)
	info := &notify.JobInfo{JobID: job.JobID, Backend: job.Backend, Status: status}

	if _, err := r.notifier.Send(ctx, userID, title, message, info); err != nil {
		r.logger.Error("failed to send status notification", "user_id", userID, "job_id", job.JobID, "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.RecordNotification()
	}
}

func isTerminal(status string) bool {
	switch status {
	case "DONE", "COMPLETED", "ERROR", "FAILED", "CANCELLED", "CANCELED":
		return true
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return source.UnknownBackend
	}
	return s
}
