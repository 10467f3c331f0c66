// Package analytics summarizes a user's jobs.
//
// A report is built from a freshly fetched job list when one is available and
// from the recorded event history otherwise. Both paths tolerate jobs with
// missing or out-of-order events and never fail.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/HatiCode/jobadvisor/pkg/history"
)

// RecentActivityLimit is the number of entries kept in Report.RecentActivity.
const RecentActivityLimit = 10

// JobRecord is a job as reported by the execution service.
type JobRecord struct {
	JobID     string     `json:"job_id"`
	Backend   string     `json:"backend"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"creation_time"`
	UserID    string     `json:"user_id,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	QueuedAt  *time.Time `json:"queued_at,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Activity is one row of the recent activity feed.
type Activity struct {
	JobID     string `json:"job_id"`
	LastEvent string `json:"last_event"`
	Timestamp string `json:"timestamp"`
}

// Report is the analytics summary for a user.
type Report struct {
	TotalJobs        int            `json:"total_jobs"`
	SuccessRate      float64        `json:"success_rate"`
	AverageQueueTime float64        `json:"average_queue_time"`
	JobsByStatus     map[string]int `json:"jobs_by_status"`
	JobsByBackend    map[string]int `json:"jobs_by_backend"`
	RecentActivity   []Activity     `json:"recent_activity"`
	Source           string         `json:"source"`
}

// Report sources.
const (
	SourceJobs    = "jobs"
	SourceHistory = "history"
)

func emptyReport(source string) Report {
	return Report{
		JobsByStatus:   map[string]int{},
		JobsByBackend:  map[string]int{},
		RecentActivity: []Activity{},
		Source:         source,
	}
}

// IsSuccess reports whether status is a successful terminal status.
func IsSuccess(status string) bool {
	switch strings.ToUpper(status) {
	case "DONE", "COMPLETED":
		return true
	}
	return false
}

// FromJobs builds a report from a job list. Statuses are counted upper-cased
// and jobs with an unknown backend are left out of JobsByBackend.
func FromJobs(jobs []JobRecord) Report {
	r := emptyReport(SourceJobs)
	r.TotalJobs = len(jobs)
	if len(jobs) == 0 {
		return r
	}

	var success, timed int
	var queueSeconds float64
	for _, j := range jobs {
		status := strings.ToUpper(j.Status)
		r.JobsByStatus[status]++
		if IsSuccess(status) {
			success++
		}

		if j.Backend != "" && j.Backend != "Unknown" {
			r.JobsByBackend[j.Backend]++
		}

		if j.QueuedAt != nil && j.StartedAt != nil {
			if gap := j.StartedAt.Sub(*j.QueuedAt); gap >= 0 {
				queueSeconds += gap.Seconds()
				timed++
			}
		}
	}

	r.SuccessRate = float64(success) / float64(len(jobs)) * 100
	if timed > 0 {
		r.AverageQueueTime = queueSeconds / float64(timed)
	}

	recent := append([]JobRecord(nil), jobs...)
	sort.SliceStable(recent, func(a, b int) bool {
		return recent[a].CreatedAt.After(recent[b].CreatedAt)
	})
	for _, j := range recent[:min(len(recent), RecentActivityLimit)] {
		r.RecentActivity = append(r.RecentActivity, Activity{
			JobID:     j.JobID,
			LastEvent: j.Status,
			Timestamp: j.CreatedAt.Format(time.RFC3339),
		})
	}
	return r
}

// FromHistory builds a report from recorded timelines. When userID is set only
// jobs with at least one event carrying that user_id are counted, and every
// rate is computed over that filtered set.
//
// Latest status comes from the last status_change event, the backend from the
// first backend_assigned event and queue time from the first queued to the
// first running event. AverageQueueTime divides the total queue time by the
// number of successful jobs.
func FromHistory(timelines map[string][]history.Event, userID string) Report {
	r := emptyReport(SourceHistory)

	type recent struct {
		activity Activity
		at       time.Time
		ok       bool
	}
	var (
		activity     []recent
		success      int
		queueSeconds float64
	)

	for jobID, events := range timelines {
		if len(events) == 0 {
			continue
		}
		if userID != "" && !belongsTo(events, userID) {
			continue
		}
		r.TotalJobs++

		if ev, ok := last(events, history.EventStatusChange); ok {
			status := strings.ToUpper(stringField(ev.Data, "status", "unknown"))
			r.JobsByStatus[status]++
			if IsSuccess(status) {
				success++
			}
		}

		if ev, ok := first(events, history.EventBackendAssigned); ok {
			r.JobsByBackend[stringField(ev.Data, "backend", "unknown")]++
		}

		queued, qok := first(events, history.EventQueued)
		running, rok := first(events, history.EventRunning)
		if qok && rok {
			qt, ok1 := queued.Time()
			rt, ok2 := running.Time()
			if ok1 && ok2 {
				if gap := rt.Sub(qt); gap >= 0 {
					queueSeconds += gap.Seconds()
				}
			}
		}

		lastEv := events[len(events)-1]
		at, ok := lastEv.Time()
		activity = append(activity, recent{
			activity: Activity{JobID: jobID, LastEvent: lastEv.Type, Timestamp: lastEv.Timestamp},
			at:       at,
			ok:       ok,
		})
	}

	if r.TotalJobs > 0 {
		r.SuccessRate = float64(success) / float64(r.TotalJobs) * 100
	}
	if success > 0 {
		r.AverageQueueTime = queueSeconds / float64(success)
	}

	// Unparseable timestamps sort last; job id breaks ties so map order
	// never leaks into the report.
	sort.Slice(activity, func(a, b int) bool {
		x, y := activity[a], activity[b]
		if x.ok != y.ok {
			return x.ok
		}
		if !x.at.Equal(y.at) {
			return x.at.After(y.at)
		}
		return x.activity.JobID < y.activity.JobID
	})
	for _, a := range activity[:min(len(activity), RecentActivityLimit)] {
		r.RecentActivity = append(r.RecentActivity, a.activity)
	}
	return r
}

// Aggregator serves reports backed by the event history.
type Aggregator struct {
	history *history.Store
}

// NewAggregator creates an Aggregator reading from h.
func NewAggregator(h *history.Store) *Aggregator {
	return &Aggregator{history: h}
}

// Report uses jobs when any are given and falls back to the history.
func (a *Aggregator) Report(userID string, jobs []JobRecord) Report {
	if len(jobs) > 0 {
		return FromJobs(jobs)
	}
	return FromHistory(a.history.Jobs(), userID)
}

func belongsTo(events []history.Event, userID string) bool {
	for _, ev := range events {
		if id, ok := ev.Data["user_id"].(string); ok && id == userID {
			return true
		}
	}
	return false
}

func first(events []history.Event, eventType string) (history.Event, bool) {
	for _, ev := range events {
		if ev.Type == eventType {
			return ev, true
		}
	}
	return history.Event{}, false
}

func last(events []history.Event, eventType string) (history.Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i], true
		}
	}
	return history.Event{}, false
}

func stringField(data map[string]any, key, fallback string) string {
	if s, ok := data[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
